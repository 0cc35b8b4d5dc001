package formula

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultInternSize bounds the number of memoised plain results.
const DefaultInternSize = 4096

// Interner makes structurally identical completed results share one
// value. Each state-space graph owns its own Interner.
type Interner struct {
	truth   *EvalResult
	falsity *EvalResult
	cache   *lru.ARCCache
}

// NewInterner returns an interner memoising up to size plain results.
// Non-positive sizes select DefaultInternSize.
func NewInterner(size int) *Interner {
	if size <= 0 {
		size = DefaultInternSize
	}
	cache, err := lru.NewARC(size)
	if err != nil {
		// NewARC only rejects non-positive sizes.
		panic(err)
	}
	return &Interner{
		truth:   &EvalResult{Value: "TRUE"},
		falsity: &EvalResult{Value: "FALSE"},
		cache:   cache,
	}
}

// True returns the interner's TRUE result.
func (in *Interner) True() *EvalResult { return in.truth }

// False returns the interner's FALSE result.
func (in *Interner) False() *EvalResult { return in.falsity }

// Intern returns the shared result for value. Results with solutions are
// never shared.
func (in *Interner) Intern(value string, solutions map[string]string) *EvalResult {
	if len(solutions) > 0 {
		return &EvalResult{Value: value, Solutions: solutions}
	}
	switch value {
	case "TRUE":
		return in.truth
	case "FALSE":
		return in.falsity
	}
	if r, ok := in.cache.Get(value); ok {
		return r.(*EvalResult)
	}
	r := &EvalResult{Value: value}
	in.cache.Add(value, r)
	return r
}

// Len returns the number of memoised non-boolean results.
func (in *Interner) Len() int {
	return in.cache.Len()
}
