package bank

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/MJE43/dice-duel/internal/store"
)

// Config holds the retry policy for payout delivery.
type Config struct {
	// MaxRetries is the maximum number of retry attempts for retryable errors.
	// Defaults to 3 if zero.
	MaxRetries int

	// BaseRetryDelay is the initial delay before the first retry.
	// Defaults to 200ms if zero.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff delay.
	// Defaults to 5 seconds if zero.
	MaxRetryDelay time.Duration

	// ClaimTTL is how long a claimed payout belongs to its sender before a
	// sweep may take it over. It must outlast a full retry cycle.
	// Defaults to 5 minutes if zero.
	ClaimTTL time.Duration
}

// Dispatcher sends recorded payouts through a Transferer and tracks their
// delivery state in the ledger.
type Dispatcher struct {
	bank   Transferer
	ledger store.PayoutStore
	config Config
	logger *log.Logger
}

func NewDispatcher(bank Transferer, ledger store.PayoutStore, cfg Config) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 200 * time.Millisecond
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 5 * time.Second
	}
	if cfg.ClaimTTL == 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	return &Dispatcher{
		bank:   bank,
		ledger: ledger,
		config: cfg,
		logger: log.New(os.Stdout, "[BANK] ", log.LstdFlags),
	}
}

func (d *Dispatcher) backoff() retry.Backoff {
	b := retry.NewExponential(d.config.BaseRetryDelay)
	b = retry.WithCappedDuration(d.config.MaxRetryDelay, b)
	return retry.WithMaxRetries(uint64(d.config.MaxRetries), b)
}

func (d *Dispatcher) staleBefore() time.Time {
	return time.Now().UTC().Add(-d.config.ClaimTTL)
}

// Send delivers one payout. The payout is claimed first, so concurrent
// senders never transfer it twice. Retryable failures are retried with
// exponential backoff; if they persist the payout returns to pending for a
// later sweep. Permanent failures mark it failed.
func (d *Dispatcher) Send(ctx context.Context, p store.Payout) error {
	_, _, err := d.send(ctx, p)
	return err
}

// send reports the resulting status and whether this call attempted the
// transfer. A payout claimed by another sender is left alone.
func (d *Dispatcher) send(ctx context.Context, p store.Payout) (store.PayoutStatus, bool, error) {
	claimed, err := d.ledger.ClaimPayout(ctx, p.ID, d.staleBefore())
	if err != nil {
		return p.Status, false, fmt.Errorf("claim payout %s: %w", p.ID, err)
	}
	if !claimed {
		d.logger.Printf("payout skipped: id=%s reason=claimed_elsewhere", p.ID)
		return store.PayoutInFlight, false, nil
	}

	// the claim is held, so ledger updates must land even if ctx ends
	markCtx := context.WithoutCancel(ctx)
	in := p.Instruction
	err = retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		if err := d.bank.Transfer(ctx, p.ID.String(), in); err != nil {
			if IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})

	if err == nil {
		d.logger.Printf("payout sent: id=%s recipient=%s amount=%s reason=%s", p.ID, in.Recipient, in.Amount, in.Reason)
		if markErr := d.ledger.MarkPayout(markCtx, p.ID, store.PayoutSent, ""); markErr != nil {
			// stays in flight; a later sweep repeats the keyed transfer and records it
			return store.PayoutSent, true, fmt.Errorf("record payout %s sent: %w", p.ID, markErr)
		}
		return store.PayoutSent, true, nil
	}

	status := store.PayoutPending
	if !IsRetryable(err) {
		status = store.PayoutFailed
	}
	d.logger.Printf("payout %s: id=%s recipient=%s amount=%s error=%v", status, p.ID, in.Recipient, in.Amount, err)

	if markErr := d.ledger.MarkPayout(markCtx, p.ID, status, err.Error()); markErr != nil {
		err = multierr.Append(err, markErr)
	}
	return status, true, fmt.Errorf("payout %s to %s: %w", p.ID, in.Recipient, err)
}

// Deliver sends every payout of st and mirrors the resulting ledger state
// onto st.Payouts.
func (d *Dispatcher) Deliver(ctx context.Context, st *store.Settlement) error {
	var errs error
	for i := range st.Payouts {
		p := &st.Payouts[i]
		status, attempted, err := d.send(ctx, *p)
		p.Status = status
		p.UpdatedAt = time.Now().UTC()
		if attempted {
			p.Attempts++
			p.LastError = ""
		}
		if err != nil {
			p.LastError = err.Error()
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// SendAll attempts every payout and returns the combined failures.
func (d *Dispatcher) SendAll(ctx context.Context, payouts []store.Payout) error {
	var errs error
	for _, p := range payouts {
		errs = multierr.Append(errs, d.Send(ctx, p))
	}
	return errs
}

// Sweep retries up to limit pending payouts, including claims abandoned for
// longer than ClaimTTL, and reports how many were delivered.
func (d *Dispatcher) Sweep(ctx context.Context, limit int) (int, error) {
	pending, err := d.ledger.PendingPayouts(ctx, limit, d.staleBefore())
	if err != nil {
		return 0, fmt.Errorf("load pending payouts: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		errs                  error
		sent, failed, skipped int
	)
	for _, p := range pending {
		status, attempted, err := d.send(ctx, p)
		switch {
		case !attempted && err == nil:
			skipped++
		case err != nil:
			failed++
			errs = multierr.Append(errs, err)
		case status == store.PayoutSent:
			sent++
		}
	}
	d.logger.Printf("sweep finished: attempted=%d sent=%d failed=%d skipped=%d", len(pending), sent, failed, skipped)
	return sent, errs
}
