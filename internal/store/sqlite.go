package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/MJE43/dice-duel/internal/games"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists games and the settlement ledger in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

var (
	_ GameStore   = (*SQLiteStore)(nil)
	_ PayoutStore = (*SQLiteStore)(nil)
)

// OpenSQLite opens/creates a SQLite database at path and applies the
// embedded migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes; also serializes Update

	s := &SQLiteStore{
		db:     db,
		logger: log.New(os.Stdout, "[STORE] ", log.LstdFlags),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Printf("migration applied: version=%d duration=%s", r.Source.Version, r.Duration)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --------- Games ---------

func (s *SQLiteStore) Create(ctx context.Context, build BuildFunc) (games.GameID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM game_index WHERE name = 'games'`).Scan(&next); err != nil {
		return 0, fmt.Errorf("read game index: %w", err)
	}
	id := games.GameID(next)

	var out Outbox
	d, err := build(id, &out)
	if err != nil {
		return 0, err
	}
	blob, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("encode game %d: %w", id, err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO games (id, status, host_player, joined_player, details, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		next, int(d.Status), d.HostPlayer, d.JoinedPlayer, string(blob), now, now)
	if err != nil {
		if isConstraintError(err) {
			return 0, fmt.Errorf("game %d: %w", id, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert game %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE game_index SET next_id = ? WHERE name = 'games'`, next+1); err != nil {
		return 0, fmt.Errorf("advance game index: %w", err)
	}
	if err := insertSettlements(ctx, tx, out.Settlements()); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id games.GameID) (*games.GameDetails, error) {
	return getGame(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getGame(ctx context.Context, q queryer, id games.GameID) (*games.GameDetails, error) {
	var blob string
	err := q.QueryRowContext(ctx, `SELECT details FROM games WHERE id = ?`, int64(id)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("game %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var d games.GameDetails
	if err := json.Unmarshal([]byte(blob), &d); err != nil {
		return nil, fmt.Errorf("decode game %d: %w", id, err)
	}
	return &d, nil
}

func (s *SQLiteStore) List(ctx context.Context, status games.Status) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, details FROM games WHERE status = ? ORDER BY id ASC`, int(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			id   int64
			blob string
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		var d games.GameDetails
		if err := json.Unmarshal([]byte(blob), &d); err != nil {
			return nil, fmt.Errorf("decode game %d: %w", id, err)
		}
		entries = append(entries, Entry{ID: games.GameID(id), Game: d.Game})
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id games.GameID, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err := getGame(ctx, tx, id)
	if err != nil {
		return err
	}
	var out Outbox
	action, err := fn(d, &out)
	if err != nil {
		return err
	}

	switch action {
	case Keep:
		return nil
	case Delete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, int64(id)); err != nil {
			return fmt.Errorf("delete game %d: %w", id, err)
		}
	case Save:
		blob, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode game %d: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE games SET status = ?, joined_player = ?, details = ?, updated_at = ? WHERE id = ?`,
			int(d.Status), d.JoinedPlayer, string(blob), time.Now().UTC(), int64(id))
		if err != nil {
			return fmt.Errorf("update game %d: %w", id, err)
		}
	default:
		return fmt.Errorf("unknown store action %d", action)
	}
	if err := insertSettlements(ctx, tx, out.Settlements()); err != nil {
		return err
	}
	return tx.Commit()
}

// --------- Settlements ---------

func (s *SQLiteStore) SaveSettlement(ctx context.Context, st *Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertSettlements(ctx, tx, []*Settlement{st}); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSettlements(ctx context.Context, tx *sql.Tx, batch []*Settlement) error {
	if len(batch) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO payouts (id, settlement_id, seq, recipient, denom, amount, reason, status, attempts, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range batch {
		var outcome sql.NullString
		if st.Outcome != nil {
			b, err := json.Marshal(st.Outcome)
			if err != nil {
				return fmt.Errorf("encode outcome: %w", err)
			}
			outcome = sql.NullString{String: string(b), Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO settlements (id, game_id, kind, outcome, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			st.ID.String(), int64(st.GameID), string(st.Kind), outcome, st.CreatedBy, st.CreatedAt)
		if err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("settlement %s: %w", st.ID, ErrAlreadyExists)
			}
			return fmt.Errorf("insert settlement: %w", err)
		}

		for _, p := range st.Payouts {
			in := p.Instruction
			if _, err := stmt.ExecContext(ctx,
				p.ID.String(), st.ID.String(), p.Seq, in.Recipient, in.Amount.Denom, int64(in.Amount.Amount),
				string(in.Reason), string(p.Status), p.Attempts, p.LastError, p.UpdatedAt,
			); err != nil {
				return fmt.Errorf("insert payout %d: %w", p.Seq, err)
			}
		}
	}
	return nil
}

const payoutColumns = `id, settlement_id, seq, recipient, denom, amount, reason, status, attempts, last_error, updated_at, claimed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayout(r rowScanner) (Payout, error) {
	var (
		p              Payout
		id, settlement string
		amount         int64
		reason, status string
		claimedAt      int64
	)
	if err := r.Scan(&id, &settlement, &p.Seq, &p.Instruction.Recipient, &p.Instruction.Amount.Denom,
		&amount, &reason, &status, &p.Attempts, &p.LastError, &p.UpdatedAt, &claimedAt); err != nil {
		return Payout{}, err
	}
	if claimedAt > 0 {
		p.ClaimedAt = time.Unix(0, claimedAt).UTC()
	}
	var err error
	if p.ID, err = uuid.Parse(id); err != nil {
		return Payout{}, fmt.Errorf("payout id: %w", err)
	}
	if p.SettlementID, err = uuid.Parse(settlement); err != nil {
		return Payout{}, fmt.Errorf("settlement id: %w", err)
	}
	p.Instruction.Amount.Amount = uint64(amount)
	p.Instruction.Reason = games.PayoutReason(reason)
	p.Status = PayoutStatus(status)
	return p, nil
}

func (s *SQLiteStore) PendingPayouts(ctx context.Context, limit int, staleBefore time.Time) ([]Payout, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.`+strings.ReplaceAll(payoutColumns, ", ", ", p.")+`
		 FROM payouts p JOIN settlements s ON s.id = p.settlement_id
		 WHERE p.status = ? OR (p.status = ? AND p.claimed_at < ?)
		 ORDER BY s.created_at ASC, p.seq ASC LIMIT ?`,
		string(PayoutPending), string(PayoutInFlight), staleBefore.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClaimPayout(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ? AND (status = ? OR (status = ? AND claimed_at < ?))`,
		string(PayoutInFlight), now.UnixNano(), now, id.String(),
		string(PayoutPending), string(PayoutInFlight), staleBefore.UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM payouts WHERE id = ?`, id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("payout %s: %w", id, ErrNotFound)
	}
	return false, err
}

func (s *SQLiteStore) MarkPayout(ctx context.Context, id uuid.UUID, status PayoutStatus, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastErr, time.Now().UTC(), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("payout %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListSettlements(ctx context.Context, q SettlementsQuery) ([]Settlement, error) {
	var (
		where []string
		args  []any
	)
	if q.GameID != nil {
		where = append(where, "s.game_id = ?")
		args = append(args, int64(*q.GameID))
	}
	if q.Player != "" {
		where = append(where, "(s.created_by = ? OR EXISTS (SELECT 1 FROM payouts x WHERE x.settlement_id = s.id AND x.recipient = ?))")
		args = append(args, q.Player, q.Player)
	}
	query := `SELECT s.id, s.game_id, s.kind, s.outcome, s.created_by, s.created_at FROM settlements s`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.created_at DESC, s.rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]Settlement, 0)
	for rows.Next() {
		var (
			st      Settlement
			id      string
			gameID  int64
			kind    string
			outcome sql.NullString
		)
		if err := rows.Scan(&id, &gameID, &kind, &outcome, &st.CreatedBy, &st.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if st.ID, err = uuid.Parse(id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("settlement id: %w", err)
		}
		st.GameID = games.GameID(gameID)
		st.Kind = SettlementKind(kind)
		if outcome.Valid {
			st.Outcome = new(games.Outcome)
			if err := json.Unmarshal([]byte(outcome.String), st.Outcome); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode outcome: %w", err)
			}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// single connection: payouts are loaded after the settlement cursor is closed
	for i := range out {
		payouts, err := s.settlementPayouts(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Payouts = payouts
	}
	return out, nil
}

func (s *SQLiteStore) settlementPayouts(ctx context.Context, id uuid.UUID) ([]Payout, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE settlement_id = ? ORDER BY seq ASC`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payouts := make([]Payout, 0)
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
