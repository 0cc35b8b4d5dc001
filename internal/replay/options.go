package replay

import (
	"errors"
	"strings"

	"github.com/AaronLay10/StateSpace/internal/formula"
)

// Flag names a category of a recorded step compared during replay.
type Flag uint8

const (
	Variables Flag = 1 << iota
	Input
	Output
)

var allFlags = []Flag{Variables, Input, Output}

func (f Flag) String() string {
	switch f {
	case Variables:
		return "Variables"
	case Input:
		return "Input"
	case Output:
		return "Output"
	}
	return "Flag(?)"
}

// FlagSet is a set of ignored categories.
type FlagSet uint8

// Flags returns the set holding fs.
func Flags(fs ...Flag) FlagSet {
	var s FlagSet
	for _, f := range fs {
		s |= FlagSet(f)
	}
	return s
}

// Has reports whether f is in s.
func (s FlagSet) Has(f Flag) bool {
	return s&FlagSet(f) != 0
}

// ParseFlag accepts a category name, case-insensitively.
func ParseFlag(name string) (Flag, bool) {
	for _, f := range allFlags {
		if strings.EqualFold(f.String(), name) {
			return f, true
		}
	}
	return 0, false
}

// ErrOperationKeys is returned when the per-operation overrides do not
// name the same operations.
var ErrOperationKeys = errors.New("replay: per-operation flags and blacklist must have the same keys")

// Options decides which parts of a recorded step must match. A category
// in a flag set is ignored entirely; otherwise blacklisted identifiers
// are dropped from it. Global settings apply first, then the overrides of
// the step's operation.
type Options struct {
	global      FlagSet
	blacklist   []string
	opFlags     map[string]FlagSet
	opBlacklist map[string][]string
}

// NewOptions validates and returns the options.
func NewOptions(global FlagSet, blacklist []string, opFlags map[string]FlagSet, opBlacklist map[string][]string) (*Options, error) {
	if len(opFlags) != len(opBlacklist) {
		return nil, ErrOperationKeys
	}
	for op := range opFlags {
		if _, ok := opBlacklist[op]; !ok {
			return nil, ErrOperationKeys
		}
	}
	o := &Options{
		global:      global,
		blacklist:   append([]string(nil), blacklist...),
		opFlags:     make(map[string]FlagSet, len(opFlags)),
		opBlacklist: make(map[string][]string, len(opBlacklist)),
	}
	for op, fs := range opFlags {
		o.opFlags[op] = fs
		o.opBlacklist[op] = append([]string(nil), opBlacklist[op]...)
	}
	return o, nil
}

// DefaultOptions compares every category and ignores nothing.
func DefaultOptions() *Options {
	o, _ := NewOptions(0, nil, nil, nil)
	return o
}

// Mapping returns the compared identifiers of t by category. Ignored
// categories are absent.
func (o *Options) Mapping(t PersistentTransition) map[Flag]map[string]string {
	m := map[Flag]map[string]string{
		Variables: cloneMap(t.DestState),
		Input:     cloneMap(t.Params),
		Output:    cloneMap(t.Results),
	}
	clean(m, o.blacklist, o.global)
	if fs, ok := o.opFlags[t.Name]; ok {
		clean(m, o.opBlacklist[t.Name], fs)
	}
	return m
}

func clean(m map[Flag]map[string]string, blacklist []string, ignored FlagSet) {
	for _, f := range allFlags {
		if ignored.Has(f) {
			delete(m, f)
			continue
		}
		cat, ok := m[f]
		if !ok {
			continue
		}
		for _, id := range blacklist {
			delete(cat, id)
		}
	}
}

// Predicate is the conjunction of every compared identifier of t.
func (o *Options) Predicate(t PersistentTransition) string {
	b := formula.NewPredicateBuilder()
	for _, cat := range o.Mapping(t) {
		b.AddMap(cat)
	}
	return b.String()
}
