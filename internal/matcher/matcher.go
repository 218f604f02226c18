// Package matcher implements the EventMatcher component (SPEC_FULL.md
// §4.4): it maintains the set of EventMapping records linking a V1 contract
// to a V2 contract, producing new mappings from market listings via
// normalized-title and token similarity with date/category guards.
package matcher

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
)

// MarketListing is the minimal shape the matcher needs from a venue's
// market catalog to propose a mapping.
type MarketListing struct {
	Contract       string
	Title          string
	Category       string
	ResolutionTime time.Time
}

// Repository is the subset of the persistence layer the matcher depends
// on — named as its own small interface (matching the teacher's
// "shared types to avoid import cycles" approach) rather than importing the
// repository package directly.
type Repository interface {
	LoadMappings() ([]types.EventMapping, error)
	SaveMapping(types.EventMapping) error
}

// categoryEquivalence is the fixed category-equivalence map from
// SPEC_FULL.md §4.4 step 4. Categories not present in any group are only
// ever compatible with themselves.
var categoryEquivalence = map[string]string{
	"politics":  "politics",
	"elections": "politics",
	"crypto":    "crypto",
	"bitcoin":   "crypto",
	"sports":    "sports",
	"economy":   "economy",
	"business":  "economy",
}

func categoryGroup(category string) string {
	if g, ok := categoryEquivalence[category]; ok {
		return g
	}
	return category
}

// Config carries the matcher's threshold and guard settings.
type Config struct {
	FuzzyThreshold         decimal.Decimal
	MinConfidenceThreshold decimal.Decimal
	RequireDateValidation  bool
	RequireCategoryMatch   bool
	DateTolerance          time.Duration
}

// Matcher is the EventMatcher. The mapping index is read-mostly after
// Load(); manual adds take a writer lock, per SPEC_FULL.md §5.
type Matcher struct {
	mu       sync.RWMutex
	cfg      Config
	synonyms Synonyms
	repo     Repository

	// byKey indexes active mappings by (v1_contract, v2_contract) for the
	// uniqueness invariant in SPEC_FULL.md §3.
	byKey map[string]*types.EventMapping
	all   []*types.EventMapping
}

func mappingKey(v1, v2 string) string { return v1 + "|" + v2 }

// New creates a Matcher. synonyms is accepted as a constructor input per
// SPEC_FULL.md §9 rather than a package global.
func New(cfg Config, synonyms Synonyms, repo Repository) *Matcher {
	return &Matcher{
		cfg:      cfg,
		synonyms: synonyms,
		repo:     repo,
		byKey:    make(map[string]*types.EventMapping),
	}
}

// Load hydrates the in-memory index from the repository.
func (m *Matcher) Load() error {
	mappings, err := m.repo.LoadMappings()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey = make(map[string]*types.EventMapping, len(mappings))
	m.all = m.all[:0]
	for i := range mappings {
		mp := mappings[i]
		m.all = append(m.all, &mp)
		if mp.Active {
			m.byKey[mappingKey(mp.V1Contract, mp.V2Contract)] = &mp
		}
	}
	return nil
}

type candidate struct {
	listing    MarketListing
	confidence decimal.Decimal
	method     types.MatchMethod
}

// FindMatch implements SPEC_FULL.md §4.4 step 2-5: normalize, try the exact
// path, then the fuzzy path, apply guards to every surviving candidate
// (exact and fuzzy alike — the stricter reading this spec adopts), then
// pick the highest-confidence survivor with a stable tie-break.
func (m *Matcher) FindMatch(v1 MarketListing, v2Candidates []MarketListing) (types.EventMapping, bool) {
	normA := normalize(v1.Title)

	var candidates []candidate
	for _, v2 := range v2Candidates {
		normB := normalize(v2.Title)

		var conf decimal.Decimal
		var method types.MatchMethod
		if normA == normB {
			conf = decimal.NewFromInt(1)
			method = types.MatchExact
		} else {
			sim := combinedSimilarity(normA, normB, m.synonyms)
			simDec := decimal.NewFromFloat(sim)
			if simDec.LessThan(m.cfg.FuzzyThreshold) {
				continue
			}
			conf = simDec
			method = types.MatchFuzzy
		}

		if !m.passesGuards(v1, v2) {
			continue
		}

		candidates = append(candidates, candidate{listing: v2, confidence: conf, method: method})
	}

	if len(candidates) == 0 {
		return types.EventMapping{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if !ci.confidence.Equal(cj.confidence) {
			return ci.confidence.GreaterThan(cj.confidence)
		}
		if !ci.listing.ResolutionTime.Equal(cj.listing.ResolutionTime) {
			return ci.listing.ResolutionTime.Before(cj.listing.ResolutionTime)
		}
		return ci.listing.Contract < cj.listing.Contract
	})

	best := candidates[0]
	now := time.Now().UTC()
	mapping := types.EventMapping{
		ID:               uuid.NewString(),
		V1Contract:       v1.Contract,
		V2Contract:       best.listing.Contract,
		Description:      v1.Title,
		Confidence:       best.confidence,
		Method:           best.method,
		ResolutionTime:   best.listing.ResolutionTime,
		OutcomeAlignment: "v1.yes == v2.yes",
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return mapping, true
}

func (m *Matcher) passesGuards(v1, v2 MarketListing) bool {
	if m.cfg.RequireDateValidation {
		tol := m.cfg.DateTolerance
		if tol == 0 {
			tol = 24 * time.Hour
		}
		delta := v1.ResolutionTime.Sub(v2.ResolutionTime)
		if delta < 0 {
			delta = -delta
		}
		if delta > tol {
			return false
		}
	}
	if m.cfg.RequireCategoryMatch {
		if categoryGroup(v1.Category) != categoryGroup(v2.Category) {
			return false
		}
	}
	return true
}

// AddManual registers a manually curated mapping at full confidence.
func (m *Matcher) AddManual(v1, v2, description string) (types.EventMapping, error) {
	now := time.Now().UTC()
	mapping := types.EventMapping{
		ID:               uuid.NewString(),
		V1Contract:       v1,
		V2Contract:       v2,
		Description:      description,
		Confidence:       decimal.NewFromInt(1),
		Method:           types.MatchManual,
		OutcomeAlignment: "v1.yes == v2.yes",
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := mappingKey(v1, v2)
	if _, exists := m.byKey[key]; exists {
		return types.EventMapping{}, ErrDuplicateMapping
	}
	if err := m.repo.SaveMapping(mapping); err != nil {
		return types.EventMapping{}, err
	}
	m.byKey[key] = &mapping
	m.all = append(m.all, &mapping)
	return mapping, nil
}

// CanTrade reports whether a mapping is active and meets the minimum
// trade-confidence bar.
func (m *Matcher) CanTrade(mapping types.EventMapping) bool {
	return mapping.CanTrade(m.cfg.MinConfidenceThreshold)
}

// ActiveMappings returns a snapshot of all currently active mappings.
func (m *Matcher) ActiveMappings() []types.EventMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.EventMapping, 0, len(m.byKey))
	for _, mp := range m.byKey {
		out = append(out, *mp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ErrDuplicateMapping is returned by AddManual when (v1, v2) is already an
// active mapping, per the uniqueness invariant in SPEC_FULL.md §3.
var ErrDuplicateMapping = duplicateMappingError{}

type duplicateMappingError struct{}

func (duplicateMappingError) Error() string { return "mapping already active for this contract pair" }
