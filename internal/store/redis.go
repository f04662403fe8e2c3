package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/MJE43/dice-duel/internal/games"
)

const (
	keyGame        = "dice:game:%d"
	keyGamesStatus = "dice:games:status:%d"
	keyGameSeq     = "dice:games:seq"
	keyOutbox      = "dice:outbox"

	// optimistic transaction attempts before Update gives up
	maxTxRetries = 16
)

// RedisOptions selects the Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps games in Redis. Per-game atomicity comes from WATCH on
// the game key; a sorted set per status keeps ids ordered for List.
//
// The payout ledger lives elsewhere. Settlements are written to an outbox
// hash in the same MULTI as the game change and then relayed to the ledger;
// an entry leaves the outbox only once the ledger holds it.
type RedisStore struct {
	client *redis.Client
	ledger PayoutStore
	logger *log.Logger
}

var _ GameStore = (*RedisStore)(nil)

// OpenRedis connects to Redis and relays any settlements left in the outbox
// to ledger. ledger may be nil only when no game change ever settles.
func OpenRedis(ctx context.Context, opts RedisOptions, ledger PayoutStore) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	r := &RedisStore{
		client: client,
		ledger: ledger,
		logger: log.New(os.Stdout, "[STORE] ", log.LstdFlags),
	}
	if ledger != nil {
		if n, err := r.RelayOutbox(ctx); err != nil {
			r.logger.Printf("outbox relay incomplete: relayed=%d error=%v", n, err)
		}
	}
	return r, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Create(ctx context.Context, build BuildFunc) (games.GameID, error) {
	seq, err := r.client.Incr(ctx, keyGameSeq).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate game id: %w", err)
	}
	id := games.GameID(seq - 1)
	key := fmt.Sprintf(keyGame, id)

	var out Outbox
	d, err := build(id, &out)
	if err != nil {
		return 0, err
	}
	blob, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("encode game %d: %w", id, err)
	}
	entries, err := outboxEntries(out.Settlements())
	if err != nil {
		return 0, err
	}

	// the id is fresh, so WATCH only guards against a stray writer
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("game %d: %w", id, ErrAlreadyExists)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, 0)
			pipe.ZAdd(ctx, fmt.Sprintf(keyGamesStatus, d.Status), redis.Z{
				Score:  float64(id),
				Member: strconv.FormatUint(id, 10),
			})
			if len(entries) > 0 {
				pipe.HSet(ctx, keyOutbox, entries)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("game %d: %w", id, ErrAlreadyExists)
	}
	if err != nil {
		return 0, fmt.Errorf("store game %d: %w", id, err)
	}
	r.relay(ctx, out.Settlements())
	return id, nil
}

func (r *RedisStore) Get(ctx context.Context, id games.GameID) (*games.GameDetails, error) {
	return readGame(ctx, r.client, id)
}

func readGame(ctx context.Context, c redis.Cmdable, id games.GameID) (*games.GameDetails, error) {
	data, err := c.Get(ctx, fmt.Sprintf(keyGame, id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("game %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var d games.GameDetails
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode game %d: %w", id, err)
	}
	return &d, nil
}

func (r *RedisStore) List(ctx context.Context, status games.Status) ([]Entry, error) {
	members, err := r.client.ZRange(ctx, fmt.Sprintf(keyGamesStatus, status), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(members))
	if len(members) == 0 {
		return entries, nil
	}

	keys := make([]string, len(members))
	ids := make([]games.GameID, len(members))
	for i, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad index member %q: %w", m, err)
		}
		ids[i] = id
		keys[i] = fmt.Sprintf(keyGame, id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// deleted between ZRANGE and MGET
			continue
		}
		var d games.GameDetails
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, fmt.Errorf("decode game %d: %w", ids[i], err)
		}
		if d.Status == status {
			entries = append(entries, Entry{ID: ids[i], Game: d.Game})
		}
	}
	return entries, nil
}

func (r *RedisStore) Update(ctx context.Context, id games.GameID, fn UpdateFunc) error {
	key := fmt.Sprintf(keyGame, id)
	member := strconv.FormatUint(id, 10)

	var out Outbox
	txf := func(tx *redis.Tx) error {
		d, err := readGame(ctx, tx, id)
		if err != nil {
			return err
		}
		before := d.Status
		out = Outbox{}
		action, err := fn(d, &out)
		if err != nil {
			return err
		}
		entries, err := outboxEntries(out.Settlements())
		if err != nil {
			return err
		}

		switch action {
		case Keep:
			out = Outbox{}
			return nil
		case Delete:
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, fmt.Sprintf(keyGamesStatus, before), member)
				if len(entries) > 0 {
					pipe.HSet(ctx, keyOutbox, entries)
				}
				return nil
			})
			return err
		case Save:
			blob, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode game %d: %w", id, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, blob, 0)
				if d.Status != before {
					pipe.ZRem(ctx, fmt.Sprintf(keyGamesStatus, before), member)
					pipe.ZAdd(ctx, fmt.Sprintf(keyGamesStatus, d.Status), redis.Z{Score: float64(id), Member: member})
				}
				if len(entries) > 0 {
					pipe.HSet(ctx, keyOutbox, entries)
				}
				return nil
			})
			return err
		default:
			return fmt.Errorf("unknown store action %d", action)
		}
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err == nil {
			r.relay(ctx, out.Settlements())
		}
		return err
	}
	return fmt.Errorf("game %d: too much contention", id)
}

func outboxEntries(batch []*Settlement) (map[string]any, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	entries := make(map[string]any, len(batch))
	for _, st := range batch {
		blob, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("encode settlement %s: %w", st.ID, err)
		}
		entries[st.ID.String()] = blob
	}
	return entries, nil
}

// relay moves freshly committed settlements to the ledger. The game change
// is already committed, so failures are only logged; RelayOutbox retries.
func (r *RedisStore) relay(ctx context.Context, batch []*Settlement) {
	if len(batch) == 0 || r.ledger == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, st := range batch {
		if err := r.relayOne(ctx, st); err != nil {
			r.logger.Printf("outbox relay failed: settlement_id=%s game_id=%d error=%v", st.ID, st.GameID, err)
		}
	}
}

func (r *RedisStore) relayOne(ctx context.Context, st *Settlement) error {
	if err := r.ledger.SaveSettlement(ctx, st); err != nil && !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	return r.client.HDel(ctx, keyOutbox, st.ID.String()).Err()
}

// RelayOutbox copies every settlement still in the outbox to the ledger and
// reports how many were relayed.
func (r *RedisStore) RelayOutbox(ctx context.Context) (int, error) {
	if r.ledger == nil {
		return 0, fmt.Errorf("redis store has no ledger")
	}
	values, err := r.client.HGetAll(ctx, keyOutbox).Result()
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}

	var (
		relayed int
		errs    error
	)
	for id, blob := range values {
		var st Settlement
		if err := json.Unmarshal([]byte(blob), &st); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("decode outbox entry %s: %w", id, err))
			continue
		}
		if err := r.relayOne(ctx, &st); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("relay settlement %s: %w", id, err))
			continue
		}
		relayed++
	}
	if relayed > 0 {
		r.logger.Printf("outbox relayed: settlements=%d", relayed)
	}
	return relayed, errs
}
