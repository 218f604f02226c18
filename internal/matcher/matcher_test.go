package matcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arbtrader/arbtrader/internal/types"
)

type fakeRepo struct {
	mappings []types.EventMapping
	saved    []types.EventMapping
}

func (f *fakeRepo) LoadMappings() ([]types.EventMapping, error) { return f.mappings, nil }
func (f *fakeRepo) SaveMapping(m types.EventMapping) error {
	f.saved = append(f.saved, m)
	return nil
}

func testConfig() Config {
	return Config{
		FuzzyThreshold:         decimal.NewFromFloat(0.85),
		MinConfidenceThreshold: decimal.NewFromFloat(0.95),
		RequireDateValidation:  true,
		RequireCategoryMatch:   true,
		DateTolerance:          24 * time.Hour,
	}
}

func TestMatcher_ExactMatchYieldsFullConfidence(t *testing.T) {
	m := New(testConfig(), NewSynonyms(nil), &fakeRepo{})

	resolution := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	v1 := MarketListing{Contract: "v1-election", Title: "Will candidate X win the election?", Category: "politics", ResolutionTime: resolution}
	v2 := MarketListing{Contract: "v2-election", Title: "Will candidate X win the election?", Category: "elections", ResolutionTime: resolution}

	mapping, ok := m.FindMatch(v1, []MarketListing{v2})
	require.True(t, ok)
	require.True(t, mapping.Confidence.Equal(decimal.NewFromInt(1)))
	require.Equal(t, types.MatchExact, mapping.Method)
	require.True(t, m.CanTrade(mapping))
}

func TestMatcher_FuzzyBelowThresholdYieldsNoMapping(t *testing.T) {
	m := New(testConfig(), NewSynonyms(nil), &fakeRepo{})

	resolution := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	v1 := MarketListing{Contract: "v1-a", Title: "Will the Fed cut rates in March", Category: "economy", ResolutionTime: resolution}
	v2 := MarketListing{Contract: "v2-a", Title: "Super Bowl winner announced", Category: "sports", ResolutionTime: resolution}

	_, ok := m.FindMatch(v1, []MarketListing{v2})
	require.False(t, ok)
}

func TestMatcher_DateGuardRejectsExactTitleMatchWithMisalignedDates(t *testing.T) {
	m := New(testConfig(), NewSynonyms(nil), &fakeRepo{})

	v1 := MarketListing{
		Contract: "v1-btc", Title: "Will BTC close above 100k", Category: "crypto",
		ResolutionTime: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	v2 := MarketListing{
		Contract: "v2-btc", Title: "Will BTC close above 100k", Category: "crypto",
		ResolutionTime: time.Date(2026, 12, 10, 0, 0, 0, 0, time.UTC),
	}

	_, ok := m.FindMatch(v1, []MarketListing{v2})
	require.False(t, ok, "date guard must reject even an identical-title exact match when resolution dates diverge beyond tolerance")
}

func TestMatcher_TieBreakPrefersEarlierResolutionThenLexicographicID(t *testing.T) {
	m := New(testConfig(), NewSynonyms(nil), &fakeRepo{})

	v1 := MarketListing{
		Contract: "v1-btc", Title: "Will BTC close above 100k", Category: "crypto",
		ResolutionTime: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	later := MarketListing{
		Contract: "v2-zzz", Title: "Will BTC close above 100k", Category: "crypto",
		ResolutionTime: time.Date(2026, 12, 2, 0, 0, 0, 0, time.UTC),
	}
	earlier := MarketListing{
		Contract: "v2-aaa", Title: "Will BTC close above 100k", Category: "crypto",
		ResolutionTime: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	}

	mapping, ok := m.FindMatch(v1, []MarketListing{later, earlier})
	require.True(t, ok)
	require.Equal(t, "v2-aaa", mapping.V2Contract)
}

func TestMatcher_AddManualRejectsDuplicatePair(t *testing.T) {
	repo := &fakeRepo{}
	m := New(testConfig(), NewSynonyms(nil), repo)

	_, err := m.AddManual("v1-x", "v2-x", "manual pair")
	require.NoError(t, err)

	_, err = m.AddManual("v1-x", "v2-x", "manual pair again")
	require.ErrorIs(t, err, ErrDuplicateMapping)
	require.Len(t, repo.saved, 1)
}

func TestMatcher_CanTradeGatesOnMinConfidence(t *testing.T) {
	cfg := testConfig()
	m := New(cfg, NewSynonyms(nil), &fakeRepo{})

	low := types.EventMapping{Confidence: decimal.NewFromFloat(0.9), Active: true}
	high := types.EventMapping{Confidence: decimal.NewFromFloat(0.97), Active: true}

	require.False(t, m.CanTrade(low))
	require.True(t, m.CanTrade(high))
}
