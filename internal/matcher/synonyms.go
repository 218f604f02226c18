package matcher

import (
	"encoding/json"
	"os"
)

// Synonyms is the ticker↔name / numeric-literal alias table SPEC_FULL.md §9
// describes as "kept out of the core spec as a static data asset". It is
// loaded once at startup and handed to the matcher's constructor; the
// matcher algorithm itself has no knowledge of where it came from.
type Synonyms struct {
	// canonical maps any known alias (lowercased) to one canonical token.
	canonical map[string]string
}

// NewSynonyms builds a table from groups of interchangeable tokens, e.g.
// [["btc", "bitcoin"], ["q1", "first quarter"]]. Within each group every
// token maps to the group's first entry.
func NewSynonyms(groups [][]string) Synonyms {
	canonical := make(map[string]string)
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		head := group[0]
		for _, tok := range group {
			canonical[tok] = head
		}
	}
	return Synonyms{canonical: canonical}
}

// Canonical returns the canonical form of a token, or the token itself if
// it has no registered alias.
func (s Synonyms) Canonical(token string) string {
	if s.canonical == nil {
		return token
	}
	if c, ok := s.canonical[token]; ok {
		return c
	}
	return token
}

type synonymsFile struct {
	Groups [][]string `json:"groups"`
}

// LoadSynonyms reads the JSON configuration asset at path (see
// SPEC_FULL.md §4.4 and the config.Matcher.SynonymsPath option). A missing
// file is not an error — it yields an empty table, since the synonym list
// is an enrichment, not a correctness requirement.
func LoadSynonyms(path string) (Synonyms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewSynonyms(nil), nil
		}
		return Synonyms{}, err
	}
	var f synonymsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Synonyms{}, err
	}
	return NewSynonyms(f.Groups), nil
}
