package promo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet/internal/ledger"
)

func TestClassifyBoundaries(t *testing.T) {
	table := DefaultTable()
	cases := []struct {
		amount int64
		tier   string
		err    error
	}{
		{99_999, "", ledger.ErrBelowMinimum},
		{100_000, "Bronze", nil},
		{999_999, "Bronze", nil},
		{1_000_000, "Silver", nil},
		{9_999_999, "Silver", nil},
		{10_000_000, "Gold", nil},
		{99_999_999, "Gold", nil},
		{100_000_000, "", ledger.ErrNoMatchingTier},
	}
	for _, tc := range cases {
		tier, err := table.Classify(tc.amount)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, "amount %d", tc.amount)
			continue
		}
		require.NoError(t, err, "amount %d", tc.amount)
		assert.Equal(t, tc.tier, tier.Name, "amount %d", tc.amount)
	}
}

func TestClassifyGap(t *testing.T) {
	table, err := NewTable([]Tier{
		{Name: "Low", Min: 10, Max: 100, BonusPercent: "1"},
		{Name: "High", Min: 200, BonusPercent: "2"},
	})
	require.NoError(t, err)

	_, err = table.Classify(150)
	assert.ErrorIs(t, err, ledger.ErrNoMatchingTier)

	tier, err := table.Classify(1 << 40)
	require.NoError(t, err)
	assert.Equal(t, "High", tier.Name)
}

func TestBonusUsesDecimalPercent(t *testing.T) {
	table := DefaultTable()
	silver, err := table.Classify(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(75_000), silver.Bonus(1_000_000))
	assert.Equal(t, int64(75_000), silver.Bonus(1_000_013))

	bronze, err := table.Classify(123_457)
	require.NoError(t, err)
	assert.Equal(t, int64(6_172), bronze.Bonus(123_457))
}

func TestNewTableRejectsOverlap(t *testing.T) {
	_, err := NewTable([]Tier{
		{Name: "A", Min: 10, Max: 100, BonusPercent: "1"},
		{Name: "B", Min: 50, Max: 200, BonusPercent: "1"},
	})
	assert.Error(t, err)

	_, err = NewTable([]Tier{
		{Name: "A", Min: 10, BonusPercent: "1"},
		{Name: "B", Min: 50, BonusPercent: "1"},
	})
	assert.Error(t, err)
}

func TestNewTableRejectsBadPercent(t *testing.T) {
	_, err := NewTable([]Tier{{Name: "A", Min: 10, BonusPercent: "abc"}})
	assert.Error(t, err)
	_, err = NewTable([]Tier{{Name: "A", Min: 10, BonusPercent: "-1"}})
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := `tiers:
  - name: Gold
    min: 5000
    bonus_percent: "12.5"
    term_days: 60
  - name: Basic
    min: 1000
    max: 5000
    bonus_percent: "3"
    term_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := Load(path)
	require.NoError(t, err)
	tiers := table.Tiers()
	require.Len(t, tiers, 2)
	assert.Equal(t, "Basic", tiers[0].Name)

	gold, err := table.Classify(8000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), gold.Bonus(8000))
	assert.Equal(t, 60, gold.TermDays)
}
