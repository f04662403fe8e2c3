package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/dice-duel/internal/auth"
	"github.com/MJE43/dice-duel/internal/games"
	"github.com/MJE43/dice-duel/internal/store"
	"github.com/MJE43/dice-duel/internal/table"
)

// caller returns the authenticated player. Routes using it sit behind
// AuthMiddleware.
func caller(r *http.Request) string {
	player, _ := auth.PlayerFrom(r.Context())
	return player
}

func gameIDParam(r *http.Request) (games.GameID, error) {
	return ParseGameID(chi.URLParam(r, "id"))
}

func outcomeOf(err error) string {
	if err != nil {
		return "rejected"
	}
	return "success"
}

// handleCreateGame opens a game hosted by the caller
func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	player := caller(r)

	var req CreateGameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	secret, err := ValidateCreateGameRequest(&req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	created, err := s.svc.CreateGame(r.Context(), table.CreateRequest{
		Host:    player,
		NFTID:   req.NFTID,
		BaseBet: req.BaseBet,
		Secret:  secret,
		Stake:   req.Stake,
	})
	var id games.GameID
	if created != nil {
		id = created.ID
	}
	s.securityLogger.LogGameOperation(requestID, "create", id, player, req.Secret, outcomeOf(err))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, CreateGameResponse{
		GameResponse: s.format.Game(created.ID, created.Game),
		Refund:       s.format.Settlement(created.Refund),
	})
}

// handleJoinGame seats the caller in a pending game
func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	player := caller(r)

	id, err := gameIDParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req JoinGameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	secret, err := ValidateJoinGameRequest(&req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	joined, err := s.svc.JoinGame(r.Context(), id, table.JoinRequest{
		Player: player,
		NFTID:  req.NFTID,
		Secret: secret,
		Stake:  req.Stake,
	})
	s.securityLogger.LogGameOperation(requestID, "join", id, player, req.Secret, outcomeOf(err))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, JoinGameResponse{
		GameResponse: s.format.Game(id, joined.Game),
		Refund:       s.format.Settlement(joined.Refund),
	})
}

// handleRoll performs the caller's first-round roll
func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	id, err := gameIDParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	player := caller(r)

	dice, err := s.svc.Roll(r.Context(), id, player)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Printf("roll_completed game_id=%d player=%s dice=%v", id, player, dice)

	s.writeJSON(w, http.StatusOK, RollResponse{
		GameID:        id,
		Dice:          dice,
		Points:        games.Score(dice),
		EngineVersion: EngineVersion,
	})
}

// handleReRoll redraws the flagged dice of the caller's first-round roll
func (s *Server) handleReRoll(w http.ResponseWriter, r *http.Request) {
	id, err := gameIDParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req ReRollRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	mask, err := ParseMask(req.Mask)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	player := caller(r)

	out, err := s.svc.ReRoll(r.Context(), id, player, mask)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Printf("reroll_completed game_id=%d player=%s rerolled=%d settled=%t", id, player, mask.Count(), out.Settlement != nil)

	s.writeJSON(w, http.StatusOK, RollResponse{
		GameID:        id,
		Dice:          out.Dice,
		Points:        games.Score(out.Dice),
		Game:          out.Game,
		Settlement:    s.format.Settlement(out.Settlement),
		EngineVersion: EngineVersion,
	})
}

// handleEndGame settles a finished game
func (s *Server) handleEndGame(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	id, err := gameIDParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	player := caller(r)

	st, err := s.svc.EndGame(r.Context(), id, player)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.securityLogger.LogAuditEvent(requestID, "end_game", "game/"+strconv.FormatUint(id, 10), "settled", map[string]interface{}{
		"caller":  player,
		"payouts": len(st.Payouts),
	})

	s.writeJSON(w, http.StatusOK, s.format.Settlement(st))
}

// handleGetGame returns the public view of one game
func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	id, err := gameIDParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	g, err := s.svc.GetGame(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.format.Game(id, *g))
}

// handleListGames lists games in the requested status (default pending)
func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	status := games.StatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := games.ParseStatus(raw)
		if err != nil {
			s.fail(w, r, invalid("status", "%v", err))
			return
		}
		status = parsed
	}

	entries, err := s.svc.ListGames(r.Context(), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Printf("games_listed status=%s total=%d", status, len(entries))

	s.writeJSON(w, http.StatusOK, GamesResponse{
		Status:        status,
		Games:         entries,
		EngineVersion: EngineVersion,
	})
}

// handleListSettlements lists recorded settlements, newest first
func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	q := store.SettlementsQuery{Player: r.URL.Query().Get("player")}
	if raw := r.URL.Query().Get("game_id"); raw != "" {
		id, err := ParseGameID(raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		q.GameID = &id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.fail(w, r, invalid("limit", "limit must be a non-negative integer"))
			return
		}
		q.Limit = limit
	}

	list, err := s.svc.ListSettlements(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]SettlementView, 0, len(list))
	for i := range list {
		views = append(views, *s.format.Settlement(&list[i]))
	}
	s.writeJSON(w, http.StatusOK, SettlementsResponse{Settlements: views, EngineVersion: EngineVersion})
}

// handleRetryPayouts sweeps pending payouts
func (s *Server) handleRetryPayouts(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	sent, err := s.svc.RetryPayouts(r.Context(), 100)
	s.securityLogger.LogAuditEvent(requestID, "retry_payouts", "payouts", outcomeOf(err), map[string]interface{}{
		"caller": caller(r),
		"sent":   sent,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sent":           sent,
		"engine_version": EngineVersion,
	})
}

// handleVerify recomputes dice from revealed secrets
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	acting, other, mask, err := ValidateVerifyRequest(&req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var dice games.Dice
	if req.Prev == nil {
		dice = games.DrawRoll(acting, other, req.GameID)
	} else {
		dice = games.DrawReroll(*req.Prev, mask, acting, other, req.GameID)
	}

	s.securityLogger.LogAuditEvent(requestID, "verify", "game/"+strconv.FormatUint(req.GameID, 10), "success", map[string]interface{}{
		"acting_secret": req.ActingSecret,
		"other_secret":  req.OtherSecret,
		"reroll":        req.Prev != nil,
	})

	// never echo the secrets back
	echo := req
	echo.ActingSecret = hashSeed(req.ActingSecret)
	echo.OtherSecret = hashSeed(req.OtherSecret)

	s.writeJSON(w, http.StatusOK, VerifyResponse{
		Dice:          dice,
		Rank:          games.Classify(dice).String(),
		Points:        games.Score(dice),
		EngineVersion: EngineVersion,
		Echo:          echo,
	})
}
