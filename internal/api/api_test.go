package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MJE43/dice-duel/internal/auth"
	"github.com/MJE43/dice-duel/internal/bank"
	"github.com/MJE43/dice-duel/internal/events"
	"github.com/MJE43/dice-duel/internal/games"
	"github.com/MJE43/dice-duel/internal/store"
	"github.com/MJE43/dice-duel/internal/table"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	handler http.Handler
	issuer  *auth.Issuer
	bank    *bank.MemoryBank
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	mb := bank.NewMemoryBank()
	hub := events.NewHub(16)
	dispatcher := bank.NewDispatcher(mb, ms, bank.Config{MaxRetries: 1, BaseRetryDelay: time.Millisecond})
	svc := table.New(ms, ms, dispatcher, hub, table.Options{
		AutoSettle: true,
		Logger:     log.New(io.Discard, "", 0),
	})

	verifier, err := auth.NewVerifier(testJWTSecret, "dice-duel")
	if err != nil {
		t.Fatal(err)
	}
	issuer, err := auth.NewIssuer(testJWTSecret, "dice-duel")
	if err != nil {
		t.Fatal(err)
	}

	server := NewServer(svc, Options{Verifier: verifier, Hub: hub, DenomExponent: 6})
	return &testEnv{handler: server.Routes(), issuer: issuer, bank: mb}
}

// do sends a request as player; an empty player sends no token.
func (e *testEnv) do(t *testing.T, method, path, player string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if player != "" {
		token, err := e.issuer.Issue(player, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, errType string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var e EngineError
	decode(t, w, &e)
	if e.Type != errType {
		t.Errorf("Expected error type %s, got %s", errType, e.Type)
	}
	if e.RequestID == "" {
		t.Error("Expected request id in error")
	}
}

func createBody(secret string, stake uint64) CreateGameRequest {
	return CreateGameRequest{
		BaseBet: games.Coin{Denom: "udice", Amount: 1},
		Secret:  secret,
		Stake:   games.Coin{Denom: "udice", Amount: stake},
	}
}

func joinBody(secret string) JoinGameRequest {
	return JoinGameRequest{Secret: secret, Stake: games.Coin{Denom: "udice", Amount: 10}}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response HealthCheckResponse
	decode(t, w, &response)
	if response.Status != HealthStatusHealthy {
		t.Errorf("Expected healthy, got %s", response.Status)
	}
	if response.Checks["store"].Status != HealthStatusHealthy {
		t.Errorf("store check = %+v", response.Checks["store"])
	}
	if w.Header().Get("X-Engine-Version") == "" {
		t.Error("Expected X-Engine-Version header")
	}
}

func TestMutationsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/games", "", createBody("7", 10))
	expectError(t, w, http.StatusUnauthorized, ErrTypeUnauthorized)

	req := httptest.NewRequest("POST", "/api/v1/games/0/roll", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestFullGameOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/games", "alice", createBody("1234", 12))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created CreateGameResponse
	decode(t, w, &created)
	if created.ID != 0 || created.Game.HostPlayer != "alice" {
		t.Fatalf("created = %+v", created)
	}
	if created.Refund == nil || created.Refund.Payouts[0].Instruction.Amount.Amount != 2 {
		t.Errorf("Expected a refund of 2, got %+v", created.Refund)
	}
	if created.Display.Locked != "0.00001" {
		t.Errorf("locked display = %s", created.Display.Locked)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("create response leaked a secret")
	}

	w = env.do(t, "GET", "/api/v1/games?status=pending", "", nil)
	var list GamesResponse
	decode(t, w, &list)
	if len(list.Games) != 1 {
		t.Fatalf("pending games = %+v", list.Games)
	}

	w = env.do(t, "POST", "/api/v1/games/0/join", "bob", joinBody("5678"))
	if w.Code != http.StatusOK {
		t.Fatalf("join: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, "POST", "/api/v1/games/0/roll", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("roll: %d %s", w.Code, w.Body.String())
	}
	var hostRoll RollResponse
	decode(t, w, &hostRoll)

	// the revealed secrets reproduce the roll
	w = env.do(t, "POST", "/api/v1/verify", "", VerifyRequest{GameID: 0, ActingSecret: "1234", OtherSecret: "5678"})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body.String())
	}
	var verified VerifyResponse
	decode(t, w, &verified)
	if verified.Dice != hostRoll.Dice || verified.Points != hostRoll.Points {
		t.Errorf("verify = %v, roll = %v", verified.Dice, hostRoll.Dice)
	}

	if w := env.do(t, "POST", "/api/v1/games/0/roll", "bob", nil); w.Code != http.StatusOK {
		t.Fatalf("roll bob: %d %s", w.Code, w.Body.String())
	}

	noFlags := ReRollRequest{Mask: []bool{false, false, false, false, false}}
	w = env.do(t, "POST", "/api/v1/games/0/reroll", "alice", noFlags)
	if w.Code != http.StatusOK {
		t.Fatalf("reroll alice: %d %s", w.Code, w.Body.String())
	}
	var aliceReroll RollResponse
	decode(t, w, &aliceReroll)
	if aliceReroll.Dice != hostRoll.Dice {
		t.Errorf("empty mask changed dice: %v -> %v", hostRoll.Dice, aliceReroll.Dice)
	}

	w = env.do(t, "POST", "/api/v1/games/0/reroll", "bob", noFlags)
	if w.Code != http.StatusOK {
		t.Fatalf("reroll bob: %d %s", w.Code, w.Body.String())
	}
	var last RollResponse
	decode(t, w, &last)
	if last.Settlement == nil {
		t.Fatal("Expected the last reroll to settle")
	}
	var paid uint64
	for _, p := range last.Settlement.Payouts {
		paid += p.Instruction.Amount.Amount
	}
	if paid != 20 {
		t.Errorf("paid %d, want 20", paid)
	}

	w = env.do(t, "GET", "/api/v1/games/0", "", nil)
	expectError(t, w, http.StatusNotFound, ErrTypeGameNotFound)

	w = env.do(t, "GET", "/api/v1/settlements?game_id=0", "", nil)
	var settlements SettlementsResponse
	decode(t, w, &settlements)
	if len(settlements.Settlements) != 2 {
		t.Errorf("Expected refund and settlement, got %d", len(settlements.Settlements))
	}
}

func TestGameErrorsOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/games", "alice", createBody("1", 9))
	expectError(t, w, http.StatusPaymentRequired, ErrTypeInsufficientStake)

	w = env.do(t, "POST", "/api/v1/games", "alice", createBody("not-a-number", 10))
	expectError(t, w, http.StatusBadRequest, ErrTypeValidation)

	zero := createBody("1", 10)
	zero.BaseBet.Amount = 0
	w = env.do(t, "POST", "/api/v1/games", "alice", zero)
	expectError(t, w, http.StatusUnprocessableEntity, ErrTypeInvalidBet)

	if w := env.do(t, "POST", "/api/v1/games", "alice", createBody("1", 10)); w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, "POST", "/api/v1/games/0/join", "alice", joinBody("2"))
	expectError(t, w, http.StatusConflict, ErrTypeAlreadyJoined)

	w = env.do(t, "POST", "/api/v1/games/0/roll", "alice", nil)
	expectError(t, w, http.StatusConflict, ErrTypeWrongState)

	wrongDenom := joinBody("2")
	wrongDenom.Stake.Denom = "uother"
	w = env.do(t, "POST", "/api/v1/games/0/join", "bob", wrongDenom)
	expectError(t, w, http.StatusPaymentRequired, ErrTypeDenomMismatch)

	if w := env.do(t, "POST", "/api/v1/games/0/join", "bob", joinBody("2")); w.Code != http.StatusOK {
		t.Fatalf("join: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, "POST", "/api/v1/games/0/roll", "bob", nil)
	expectError(t, w, http.StatusConflict, ErrTypeWrongTurn)

	w = env.do(t, "POST", "/api/v1/games/0/roll", "mallory", nil)
	expectError(t, w, http.StatusForbidden, ErrTypeNotAPlayer)

	w = env.do(t, "POST", "/api/v1/games/0/reroll", "alice", ReRollRequest{Mask: []bool{true}})
	expectError(t, w, http.StatusUnprocessableEntity, ErrTypeInvalidMask)

	w = env.do(t, "POST", "/api/v1/games/0/end", "alice", nil)
	expectError(t, w, http.StatusConflict, ErrTypeNotFinished)

	w = env.do(t, "GET", "/api/v1/games/abc", "", nil)
	expectError(t, w, http.StatusBadRequest, ErrTypeValidation)

	w = env.do(t, "GET", "/api/v1/games?status=finished", "", nil)
	expectError(t, w, http.StatusBadRequest, ErrTypeValidation)
}

func TestGameEventsWebsocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	if w := env.do(t, "POST", "/api/v1/games", "alice", createBody("1", 10)); w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/games/0/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if w := env.do(t, "POST", "/api/v1/games/0/join", "bob", joinBody("2")); w.Code != http.StatusOK {
		t.Fatalf("join: %d", w.Code)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != events.GameJoined || ev.Player != "bob" || ev.Game == nil || ev.Game.Status != games.StatusStarted {
		t.Errorf("event = %+v", ev)
	}
}
