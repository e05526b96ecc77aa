// Package promo classifies locked amounts into promo tiers and computes the
// bonus each tier pays.
package promo

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"wallet/internal/ledger"
)

var hundred = decimal.NewFromInt(100)

// Tier covers amounts in [Min, Max). A zero Max leaves the tier unbounded.
type Tier struct {
	Name         string `yaml:"name" json:"name"`
	Min          int64  `yaml:"min" json:"min"`
	Max          int64  `yaml:"max" json:"max"`
	BonusPercent string `yaml:"bonus_percent" json:"bonus_percent"`
	TermDays     int    `yaml:"term_days" json:"term_days"`

	percent decimal.Decimal
}

func (t Tier) contains(amount int64) bool {
	return amount >= t.Min && (t.Max == 0 || amount < t.Max)
}

func (t Tier) Percent() decimal.Decimal {
	return t.percent
}

// Bonus is amount * percent / 100, truncated to whole units.
func (t Tier) Bonus(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(t.percent).Div(hundred).Truncate(0).IntPart()
}

type Table struct {
	tiers []Tier
}

type tableFile struct {
	Tiers []Tier `yaml:"tiers"`
}

// DefaultTiers is used when no tier file is configured.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "Bronze", Min: 100_000, Max: 1_000_000, BonusPercent: "5", TermDays: 30},
		{Name: "Silver", Min: 1_000_000, Max: 10_000_000, BonusPercent: "7.5", TermDays: 90},
		{Name: "Gold", Min: 10_000_000, Max: 100_000_000, BonusPercent: "10", TermDays: 180},
	}
}

func DefaultTable() Table {
	table, err := NewTable(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return table
}

// NewTable validates tiers and orders them by lower bound. Tiers may leave
// gaps but must not overlap.
func NewTable(tiers []Tier) (Table, error) {
	if len(tiers) == 0 {
		return Table{}, errors.New("promo: at least one tier is required")
	}
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool { return out[i].Min < out[j].Min })

	for i := range out {
		t := &out[i]
		if t.Name == "" {
			return Table{}, fmt.Errorf("promo: tier %d has no name", i)
		}
		if t.Min <= 0 {
			return Table{}, fmt.Errorf("promo: tier %s must have a positive minimum", t.Name)
		}
		if t.Max != 0 && t.Max <= t.Min {
			return Table{}, fmt.Errorf("promo: tier %s has an empty range", t.Name)
		}
		pct, err := decimal.NewFromString(t.BonusPercent)
		if err != nil || pct.IsNegative() {
			return Table{}, fmt.Errorf("promo: tier %s has invalid bonus percent %q", t.Name, t.BonusPercent)
		}
		t.percent = pct
		if t.TermDays < 0 {
			return Table{}, fmt.Errorf("promo: tier %s has negative term", t.Name)
		}
		if i > 0 {
			prev := out[i-1]
			if prev.Max == 0 || prev.Max > t.Min {
				return Table{}, fmt.Errorf("promo: tiers %s and %s overlap", prev.Name, t.Name)
			}
		}
	}
	return Table{tiers: out}, nil
}

// Load reads a YAML tier file of the form {tiers: [{name, min, max,
// bonus_percent, term_days}]}.
func Load(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, err
	}
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Table{}, fmt.Errorf("promo: parse %s: %w", path, err)
	}
	return NewTable(file.Tiers)
}

// Classify returns the tier containing amount. Amounts under the lowest
// bound fail with ledger.ErrBelowMinimum; amounts above every tier or in a
// gap fail with ledger.ErrNoMatchingTier.
func (t Table) Classify(amount int64) (Tier, error) {
	if len(t.tiers) == 0 {
		return Tier{}, ledger.ErrNoMatchingTier
	}
	if amount < t.tiers[0].Min {
		return Tier{}, ledger.ErrBelowMinimum
	}
	for _, tier := range t.tiers {
		if tier.contains(amount) {
			return tier, nil
		}
	}
	return Tier{}, ledger.ErrNoMatchingTier
}

func (t Table) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
