package detector

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/arbtrader/arbtrader/internal/types"
)

// opportunityCache holds the last Opportunity produced per mapping id,
// backed by patrickmn/go-cache per SPEC_FULL.md §4.5.2 so the library's own
// janitor goroutine performs periodic clear_expired() sweeps. Callers must
// still re-check expires_at at read time, since a cache hit can race the
// janitor by design.
type opportunityCache struct {
	c *gocache.Cache
}

func newOpportunityCache(ttl time.Duration) *opportunityCache {
	return &opportunityCache{c: gocache.New(ttl, ttl)}
}

func (oc *opportunityCache) put(opp types.Opportunity) {
	oc.c.Set(opp.MappingID, opp, gocache.DefaultExpiration)
}

// get returns the cached opportunity for a mapping, re-checking expiry
// against now even on a cache hit.
func (oc *opportunityCache) get(mappingID string, now time.Time) (types.Opportunity, bool) {
	v, found := oc.c.Get(mappingID)
	if !found {
		return types.Opportunity{}, false
	}
	opp := v.(types.Opportunity)
	if opp.Expired(now) {
		oc.c.Delete(mappingID)
		return types.Opportunity{}, false
	}
	return opp, true
}

func (oc *opportunityCache) delete(mappingID string) {
	oc.c.Delete(mappingID)
}
