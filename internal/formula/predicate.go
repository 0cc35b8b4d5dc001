package formula

import (
	"sort"
	"strings"
)

// TruePredicate is the predicate built from an empty conjunction.
const TruePredicate = "1=1"

// PredicateBuilder builds a conjunction of name = value equalities.
// Conjuncts are rendered sorted by name so the output is deterministic.
type PredicateBuilder struct {
	equalities map[string]string
	extra      []string
}

func NewPredicateBuilder() *PredicateBuilder {
	return &PredicateBuilder{equalities: make(map[string]string)}
}

// Add adds name = value. A later value for the same name wins.
func (b *PredicateBuilder) Add(name, value string) *PredicateBuilder {
	b.equalities[name] = value
	return b
}

// AddMap adds every entry of m.
func (b *PredicateBuilder) AddMap(m map[string]string) *PredicateBuilder {
	for name, value := range m {
		b.equalities[name] = value
	}
	return b
}

// AddPredicate appends a raw conjunct after the equalities.
func (b *PredicateBuilder) AddPredicate(p string) *PredicateBuilder {
	if p = strings.TrimSpace(p); p != "" {
		b.extra = append(b.extra, p)
	}
	return b
}

// Len returns the number of conjuncts.
func (b *PredicateBuilder) Len() int {
	return len(b.equalities) + len(b.extra)
}

func (b *PredicateBuilder) String() string {
	if b.Len() == 0 {
		return TruePredicate
	}
	names := make([]string, 0, len(b.equalities))
	for name := range b.equalities {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, b.Len())
	for _, name := range names {
		parts = append(parts, name+" = "+b.equalities[name])
	}
	for _, p := range b.extra {
		if strings.Contains(p, " or ") || strings.Contains(p, "=>") {
			p = "(" + p + ")"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " & ")
}

// Formula returns the conjunction as a predicate formula.
func (b *PredicateBuilder) Formula() (*ClassicalB, error) {
	return NewPredicate(b.String())
}
