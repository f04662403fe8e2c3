package games

import (
	"context"
	"errors"
	"testing"
)

func TestXPTiers(t *testing.T) {
	source := NewStaticXP(map[string]uint64{
		"fresh":   0,
		"ten":     10,
		"rookie":  15,
		"regular": 40,
		"veteran": 41,
	})
	tiers := XPTiers{Source: source}

	tests := []struct {
		nft   string
		bet   uint64
		allow bool
	}{
		{"fresh", 1, true},
		{"fresh", 2, false},
		{"ten", 1, true},
		{"rookie", 2, true},
		{"rookie", 3, false},
		{"regular", 4, true},
		{"regular", 5, false},
		{"veteran", 8, true},
		{"veteran", 9, false},
		{"unknown", 1, true},
		{"", 1, false},
	}

	ctx := context.Background()
	for _, tt := range tests {
		err := tiers.Check(ctx, hostAddr, tt.nft, Coin{Denom: "udice", Amount: tt.bet})
		if tt.allow && err != nil {
			t.Errorf("%s bet %d: unexpected error %v", tt.nft, tt.bet, err)
		}
		if !tt.allow && !errors.Is(err, ErrIneligible) {
			t.Errorf("%s bet %d: error = %v, want ErrIneligible", tt.nft, tt.bet, err)
		}
	}

	source.Set("fresh", 25)
	if err := tiers.Check(ctx, hostAddr, "fresh", Coin{Denom: "udice", Amount: 4}); err != nil {
		t.Errorf("after xp gain: %v", err)
	}
}

func TestAllowAll(t *testing.T) {
	if err := (AllowAll{}).Check(context.Background(), "", "", Coin{}); err != nil {
		t.Errorf("AllowAll.Check = %v", err)
	}
}
