package analysis

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kartalabs/tao/internal/store"
)

// stopWords are dropped during tokenization, along with tokens shorter than
// three characters.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "has": {}, "have": {},
	"was": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "how": {}, "with": {}, "without": {}, "this": {},
	"that": {}, "these": {}, "those": {}, "from": {}, "into": {}, "does": {},
	"doesn": {}, "don": {}, "should": {}, "would": {}, "could": {}, "there": {},
	"their": {}, "they": {}, "them": {}, "then": {}, "than": {}, "some": {},
	"such": {}, "more": {}, "most": {}, "other": {}, "about": {}, "between": {},
	"your": {}, "its": {}, "it's": {}, "use": {}, "using": {}, "used": {},
	"get": {}, "like": {}, "just": {}, "also": {}, "any": {}, "each": {},
	"own": {}, "same": {}, "will": {}, "been": {}, "being": {}, "over": {},
	"under": {}, "out": {}, "only": {}, "very": {}, "too": {}, "here": {},
}

// Tokenize lowercases text, strips punctuation, splits on whitespace, and
// drops stop words and tokens shorter than three characters. The returned
// slice preserves input order and may contain duplicates; use tokenSet when
// per-record presence is what matters.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-' && r != '\''
	})
	var tokens []string
	for _, f := range fields {
		f = strings.Trim(f, "-'")
		if len(f) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// tokenSet returns the distinct concepts present in a record's query and
// response text.
func tokenSet(r store.Record) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(r.Query) {
		set[tok] = struct{}{}
	}
	for _, tok := range Tokenize(r.Response) {
		set[tok] = struct{}{}
	}
	return set
}

// ConceptStat tracks one concept across a record list. Frequency counts
// per-record presence: a concept repeated inside one query still contributes
// one, so a single long record cannot dominate.
type ConceptStat struct {
	Concept     string         `json:"concept"`
	Frequency   int            `json:"frequency"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastSeen    time.Time      `json:"last_seen"`
	CoOccurring map[string]int `json:"co_occurring,omitempty"`
}

// ConceptCount is one co-occurrence pairing.
type ConceptCount struct {
	Concept string `json:"concept"`
	Count   int    `json:"count"`
}

// ExtractConcepts builds per-concept statistics over records, including
// pairwise co-occurrence counts (two concepts co-occur when both appear in
// the same record). Date-range filtering is the caller's concern: pass a
// pre-filtered slice.
func ExtractConcepts(records []store.Record) map[string]*ConceptStat {
	stats := make(map[string]*ConceptStat)
	for _, r := range records {
		present := tokenSet(r)

		concepts := make([]string, 0, len(present))
		for c := range present {
			concepts = append(concepts, c)
		}
		sort.Strings(concepts)

		for _, c := range concepts {
			st, ok := stats[c]
			if !ok {
				st = &ConceptStat{
					Concept:     c,
					FirstSeen:   r.Timestamp,
					CoOccurring: make(map[string]int),
				}
				stats[c] = st
			}
			st.Frequency++
			if r.Timestamp.Before(st.FirstSeen) {
				st.FirstSeen = r.Timestamp
			}
			if r.Timestamp.After(st.LastSeen) {
				st.LastSeen = r.Timestamp
			}
			for _, other := range concepts {
				if other != c {
					st.CoOccurring[other]++
				}
			}
		}
	}
	return stats
}

// TopConcepts returns the n most frequent concepts, ties broken
// alphabetically for determinism.
func TopConcepts(stats map[string]*ConceptStat, n int) []*ConceptStat {
	all := make([]*ConceptStat, 0, len(stats))
	for _, st := range stats {
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Frequency != all[j].Frequency {
			return all[i].Frequency > all[j].Frequency
		}
		return all[i].Concept < all[j].Concept
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Timeline returns the timestamps of every record mentioning concept, in
// record order (ascending, since the log is append-ordered).
func Timeline(records []store.Record, concept string) []time.Time {
	concept = strings.ToLower(concept)
	var out []time.Time
	for _, r := range records {
		if _, ok := tokenSet(r)[concept]; ok {
			out = append(out, r.Timestamp)
		}
	}
	return out
}

// CoOccurrence returns concepts appearing in the same records as concept,
// ranked by shared-record count then alphabetically.
func CoOccurrence(records []store.Record, concept string) []ConceptCount {
	concept = strings.ToLower(concept)
	stats := ExtractConcepts(records)
	st, ok := stats[concept]
	if !ok {
		return nil
	}
	out := make([]ConceptCount, 0, len(st.CoOccurring))
	for c, n := range st.CoOccurring {
		out = append(out, ConceptCount{Concept: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Concept < out[j].Concept
	})
	return out
}
