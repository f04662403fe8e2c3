// Package bank delivers settlement payouts to a funds-transfer backend.
package bank

import (
	"context"
	"fmt"
	"sync"

	"github.com/MJE43/dice-duel/internal/games"
)

// Transferer moves funds out of game escrow. Each call is atomic and
// independently retryable. key identifies the payout: a transfer repeated
// with a key that already succeeded must not move funds again.
type Transferer interface {
	Transfer(ctx context.Context, key string, p games.PayoutInstruction) error
}

// MemoryBank credits payouts to in-process balances.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[string]map[string]uint64
	applied  map[string]bool
	fail     func(games.PayoutInstruction) error
	calls    int
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[string]map[string]uint64),
		applied:  make(map[string]bool),
	}
}

// FailWith installs a hook consulted before every transfer; a non-nil
// result fails the transfer without crediting anything.
func (b *MemoryBank) FailWith(fn func(games.PayoutInstruction) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = fn
}

func (b *MemoryBank) Transfer(ctx context.Context, key string, p games.PayoutInstruction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if key != "" && b.applied[key] {
		return nil
	}
	if b.fail != nil {
		if err := b.fail(p); err != nil {
			return err
		}
	}
	if p.Recipient == "" {
		return &TransferError{Code: CodeBadRecipient, Message: "empty recipient"}
	}
	if p.Amount.Denom == "" {
		return &TransferError{Code: CodeBadDenom, Message: fmt.Sprintf("no denomination for %d", p.Amount.Amount)}
	}

	acct, ok := b.balances[p.Recipient]
	if !ok {
		acct = make(map[string]uint64)
		b.balances[p.Recipient] = acct
	}
	acct[p.Amount.Denom] += p.Amount.Amount
	if key != "" {
		b.applied[key] = true
	}
	return nil
}

// Balance returns the credited amount for addr in denom.
func (b *MemoryBank) Balance(addr, denom string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[addr][denom]
}

// Calls returns the number of Transfer attempts seen.
func (b *MemoryBank) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
