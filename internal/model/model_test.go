package model

import (
	"testing"
	"time"
)

func TestLevelForEarned(t *testing.T) {
	tests := []struct {
		earned int64
		want   int
	}{
		{0, 0},
		{99, 0},
		{100, 1},
		{299, 1},
		{300, 2},
		{700, 3},
		{1500, 4},
		{50000, 9},
		{1000000, 9},
	}

	for _, tt := range tests {
		if got := LevelForEarned(tt.earned); got != tt.want {
			t.Errorf("LevelForEarned(%d) = %d, want %d", tt.earned, got, tt.want)
		}
	}
}

func TestLevelForEarnedMonotonic(t *testing.T) {
	prev := 0
	for earned := int64(0); earned <= 60000; earned += 50 {
		level := LevelForEarned(earned)
		if level < prev {
			t.Fatalf("level decreased from %d to %d at earned=%d", prev, level, earned)
		}
		prev = level
	}
}

func TestProductPriceForTier(t *testing.T) {
	p := Product{
		ID:    "sticker-pack",
		Price: 100,
		Discounts: map[Tier]int64{
			TierPlus:    10,
			TierPremium: 25,
		},
	}

	if got := p.PriceForTier(TierBasic); got != 100 {
		t.Errorf("basic price = %d, want 100", got)
	}
	if got := p.PriceForTier(TierPlus); got != 90 {
		t.Errorf("plus price = %d, want 90", got)
	}
	if got := p.PriceForTier(TierPremium); got != 75 {
		t.Errorf("premium price = %d, want 75", got)
	}
}

func TestProductPriceForTier_DiscountClamped(t *testing.T) {
	p := Product{ID: "x", Price: 50, Discounts: map[Tier]int64{TierPlus: 150}}

	if got := p.PriceForTier(TierPlus); got != 0 {
		t.Errorf("price with >100%% discount = %d, want 0", got)
	}
}

func TestConditionHolds(t *testing.T) {
	progress := Progress{
		Wallet: Wallet{TotalEarned: 500, TotalSpent: 120, Level: 2},
		Streak: StreakState{CurrentLength: 7},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"streak met", Condition{Kind: ConditionStreakLength, Threshold: 7}, true},
		{"streak not met", Condition{Kind: ConditionStreakLength, Threshold: 8}, false},
		{"earned met", Condition{Kind: ConditionTotalEarned, Threshold: 500}, true},
		{"earned not met", Condition{Kind: ConditionTotalEarned, Threshold: 501}, false},
		{"level met", Condition{Kind: ConditionLevel, Threshold: 2}, true},
		{"spent met", Condition{Kind: ConditionTotalSpent, Threshold: 100}, true},
		{"unknown kind never holds", Condition{Kind: "reputation", Threshold: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Holds(progress); got != tt.want {
				t.Errorf("Holds() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRewardEligible_AllConditionsRequired(t *testing.T) {
	r := Reward{
		ID: "week-warrior",
		Conditions: []Condition{
			{Kind: ConditionStreakLength, Threshold: 7},
			{Kind: ConditionTotalEarned, Threshold: 200},
		},
	}

	p := Progress{
		Wallet: Wallet{TotalEarned: 300},
		Streak: StreakState{CurrentLength: 7},
	}
	if !r.Eligible(p) {
		t.Fatalf("expected eligible when all conditions hold")
	}

	p.Streak.CurrentLength = 6
	if r.Eligible(p) {
		t.Fatalf("expected not eligible when one condition fails")
	}
}

func TestRewardAwardValue_Capped(t *testing.T) {
	if got := (Reward{Amount: 100, Cap: 60}).AwardValue(); got != 60 {
		t.Errorf("AwardValue = %d, want 60", got)
	}
	if got := (Reward{Amount: 40, Cap: 60}).AwardValue(); got != 40 {
		t.Errorf("AwardValue = %d, want 40", got)
	}
	if got := (Reward{Amount: 40}).AwardValue(); got != 40 {
		t.Errorf("AwardValue without cap = %d, want 40", got)
	}
}

func TestKnownConditionKind(t *testing.T) {
	for _, kind := range []ConditionKind{ConditionStreakLength, ConditionTotalEarned, ConditionLevel, ConditionTotalSpent} {
		if !KnownConditionKind(kind) {
			t.Errorf("KnownConditionKind(%q) = false", kind)
		}
	}
	if KnownConditionKind("karma") {
		t.Errorf("KnownConditionKind(karma) = true, want false")
	}
}

func TestWalletInvariantFields(t *testing.T) {
	w := Wallet{Balance: 80, TotalEarned: 200, TotalSpent: 120, UpdatedAt: time.Now()}
	if w.Balance != w.TotalEarned-w.TotalSpent {
		t.Fatalf("balance %d != earned %d - spent %d", w.Balance, w.TotalEarned, w.TotalSpent)
	}
}
