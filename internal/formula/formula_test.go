package formula

import (
	"errors"
	"testing"

	"github.com/AaronLay10/StateSpace/internal/prolog"
)

func TestNewInfersKind(t *testing.T) {
	cases := map[string]Kind{
		"x + 1":          Expression,
		"card(S)":        Expression,
		"x > 1 & y = 2":  Predicate,
		"x : NATURAL":    Predicate,
		"not(x = 1)":     Predicate,
		"{a, b} \\/ {c}": Expression,
	}
	for code, want := range cases {
		f, err := New(code)
		if err != nil {
			t.Fatalf("New(%q): %v", code, err)
		}
		if f.Kind() != want {
			t.Errorf("New(%q).Kind() = %v, want %v", code, f.Kind(), want)
		}
	}
}

func TestNewRejectsMalformed(t *testing.T) {
	for _, code := range []string{"", "   ", "(x = 1", "x = 1)", "[x)", "x = 1 &", "& x = 1", "x =", "\"open"} {
		_, err := New(code)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("New(%q): expected *ParseError, got %v", code, err)
		}
	}
}

func TestNewAcceptsIdentifierEndingInOperatorWord(t *testing.T) {
	for _, code := range []string{"floor", "color = red", "x = <>", "\"a)\" = s"} {
		if _, err := New(code); err != nil {
			t.Errorf("New(%q): unexpected error %v", code, err)
		}
	}
}

func TestNewHonoursEscapesInStrings(t *testing.T) {
	for _, code := range []string{`m = "5\" tall"`, `s = "back\\slash"`, `m = "(\")" & x = 1`} {
		if _, err := NewPredicate(code); err != nil {
			t.Errorf("NewPredicate(%q): unexpected error %v", code, err)
		}
	}
	for _, code := range []string{`m = "5\"`, `m = "a\\" tall"`} {
		var perr *ParseError
		if _, err := New(code); !errors.As(err, &perr) {
			t.Errorf("New(%q): expected *ParseError, got %v", code, err)
		}
	}
}

func TestWriteTerm(t *testing.T) {
	o := prolog.NewOutput()
	MustNew("x > 1").WriteTerm(o)
	if o.String() != "classical_b('x > 1')" {
		t.Errorf("got %q", o.String())
	}
}

func TestPredicateBuilder(t *testing.T) {
	if got := NewPredicateBuilder().String(); got != TruePredicate {
		t.Errorf("empty builder = %q", got)
	}

	b := NewPredicateBuilder().
		AddMap(map[string]string{"y": "2", "x": "1"}).
		AddPredicate("z > 0 or z < -5")
	want := "x = 1 & y = 2 & (z > 0 or z < -5)"
	if b.String() != want {
		t.Errorf("got %q, want %q", b.String(), want)
	}
	f, err := b.Formula()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Kind() != Predicate {
		t.Error("builder formula should be a predicate")
	}
}

func decode(t *testing.T, in *Interner, text string) Result {
	t.Helper()
	term, err := prolog.Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	r, err := Decode(term, in)
	if err != nil {
		t.Fatalf("Decode(%q): %v", text, err)
	}
	return r
}

func TestDecodeResults(t *testing.T) {
	in := NewInterner(16)

	if r := decode(t, in, "result('TRUE',[])"); r != Result(in.True()) {
		t.Errorf("TRUE should decode to the interned singleton, got %v", r)
	}
	if r := decode(t, in, "result('FALSE',[])"); r != Result(in.False()) {
		t.Errorf("FALSE should decode to the interned singleton, got %v", r)
	}

	r := decode(t, in, "result('TRUE',[bind(x,'3')])")
	er, ok := r.(*EvalResult)
	if !ok || er == in.True() || er.Solutions["x"] != "3" {
		t.Errorf("unexpected result with solutions: %#v", r)
	}
	if er.String() != "TRUE (x = 3)" {
		t.Errorf("String() = %q", er.String())
	}

	if r := decode(t, in, "result(v('{1,2}',set),[])"); r.String() != "{1,2}" {
		t.Errorf("expression value = %q", r.String())
	}

	if _, ok := decode(t, in, "errors('NOT-WELL-DEFINED',['division by zero'])").(WDError); !ok {
		t.Error("expected WDError")
	}
	if _, ok := decode(t, in, "errors('UNKNOWN',[])").(UnknownResult); !ok {
		t.Error("expected UnknownResult")
	}
	if _, ok := decode(t, in, "errors('IDENTIFIER(S) NOT YET INITIALISED; INITIALISE MACHINE FIRST',[])").(IdentifierNotInitialised); !ok {
		t.Error("expected IdentifierNotInitialised")
	}
	if _, ok := decode(t, in, "enum_warning").(EnumerationWarning); !ok {
		t.Error("expected EnumerationWarning")
	}
	cnc, ok := decode(t, in, "['x / 0', timeout, 'time out']").(ComputationNotCompleted)
	if !ok || cnc.Code != "x / 0" || cnc.Reason != "timeout,time out" {
		t.Errorf("unexpected not-completed result: %#v", cnc)
	}
}

func TestInternerSharesPlainResults(t *testing.T) {
	in := NewInterner(2)
	a := in.Intern("42", nil)
	b := in.Intern("42", nil)
	if a != b {
		t.Error("identical plain results should share one value")
	}
	if in.Len() != 1 {
		t.Errorf("Len() = %d", in.Len())
	}
	if in.Intern("TRUE", nil) != in.True() {
		t.Error("TRUE should not go through the cache")
	}

	other := NewInterner(2)
	if other.Intern("42", nil) == a {
		t.Error("interners must not share state")
	}
}
