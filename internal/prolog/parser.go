package prolog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokLParen tokenType = iota
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokBar
	tokAtom
	tokQuotedAtom
	tokVariable
	tokInteger
	tokEnd
	tokEOF
)

type token struct {
	typ  tokenType
	text string
	pos  int
	// functorFollows is set when '(' immediately follows an atom.
	functorFollows bool
}

type tokenizer struct {
	input []rune
	pos   int
}

func (t *tokenizer) peek() rune {
	if t.pos >= len(t.input) {
		return 0
	}
	return t.input[t.pos]
}

func (t *tokenizer) peekAt(offset int) rune {
	if t.pos+offset >= len(t.input) {
		return 0
	}
	return t.input[t.pos+offset]
}

func (t *tokenizer) advance() rune {
	if t.pos >= len(t.input) {
		return 0
	}
	r := t.input[t.pos]
	t.pos++
	return r
}

func (t *tokenizer) skipWhitespace() {
	for t.pos < len(t.input) {
		c := t.peek()
		if c == '%' {
			for t.pos < len(t.input) && t.peek() != '\n' {
				t.advance()
			}
		} else if unicode.IsSpace(c) {
			t.advance()
		} else {
			break
		}
	}
}

func (t *tokenizer) next() (token, error) {
	t.skipWhitespace()

	start := t.pos
	if t.pos >= len(t.input) {
		return token{typ: tokEOF, pos: start}, nil
	}

	c := t.peek()
	switch {
	case c == '(':
		t.advance()
		return token{typ: tokLParen, pos: start}, nil
	case c == ')':
		t.advance()
		return token{typ: tokRParen, pos: start}, nil
	case c == '[':
		t.advance()
		return token{typ: tokLBracket, pos: start}, nil
	case c == ']':
		t.advance()
		return token{typ: tokRBracket, pos: start}, nil
	case c == ',':
		t.advance()
		return token{typ: tokComma, pos: start}, nil
	case c == '|':
		t.advance()
		return token{typ: tokBar, pos: start}, nil
	case c == '.' && t.atEndMarker(1):
		t.advance()
		return token{typ: tokEnd, pos: start}, nil
	case c == '\'' || c == '"':
		text, err := t.readQuoted(c)
		if err != nil {
			return token{}, err
		}
		return t.withFunctor(token{typ: tokQuotedAtom, text: text, pos: start}), nil
	case unicode.IsDigit(c) || (c == '-' && unicode.IsDigit(t.peekAt(1))):
		t.advance()
		for unicode.IsDigit(t.peek()) {
			t.advance()
		}
		return token{typ: tokInteger, text: string(t.input[start:t.pos]), pos: start}, nil
	case c == '_' || unicode.IsUpper(c):
		for isIdentRune(t.peek()) {
			t.advance()
		}
		return token{typ: tokVariable, text: string(t.input[start:t.pos]), pos: start}, nil
	case unicode.IsLower(c):
		for isIdentRune(t.peek()) {
			t.advance()
		}
		return t.withFunctor(token{typ: tokAtom, text: string(t.input[start:t.pos]), pos: start}), nil
	case strings.ContainsRune(symbolChars, c):
		for t.pos < len(t.input) && strings.ContainsRune(symbolChars, t.peek()) {
			if t.peek() == '.' && t.pos > start && t.atEndMarker(1) {
				break
			}
			t.advance()
		}
		return t.withFunctor(token{typ: tokAtom, text: string(t.input[start:t.pos]), pos: start}), nil
	case c == '!' || c == ';':
		t.advance()
		return t.withFunctor(token{typ: tokAtom, text: string(c), pos: start}), nil
	}

	return token{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
}

// atEndMarker reports whether a '.' followed by the rune at offset ends a term.
func (t *tokenizer) atEndMarker(offset int) bool {
	r := t.peekAt(offset)
	return r == 0 || unicode.IsSpace(r) || r == '%'
}

func (t *tokenizer) withFunctor(tok token) token {
	tok.functorFollows = t.peek() == '('
	return tok
}

func (t *tokenizer) readQuoted(quote rune) (string, error) {
	start := t.pos
	t.advance()
	var sb strings.Builder
	for {
		if t.pos >= len(t.input) {
			return "", fmt.Errorf("unterminated quoted atom starting at offset %d", start)
		}
		r := t.advance()
		if r == quote {
			// Doubled quote is an escaped quote.
			if t.peek() == quote {
				t.advance()
				sb.WriteRune(quote)
				continue
			}
			return sb.String(), nil
		}
		if r == '\\' {
			switch esc := t.advance(); esc {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case '\\', '\'', '"':
				sb.WriteRune(esc)
			default:
				sb.WriteRune('\\')
				sb.WriteRune(esc)
			}
			continue
		}
		sb.WriteRune(r)
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

type parser struct {
	tok     *tokenizer
	current token
}

// Parse reads exactly one term from s. A trailing end marker (".") is
// accepted and ignored.
func Parse(s string) (Term, error) {
	p := &parser{tok: &tokenizer{input: []rune(s)}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	t, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if p.current.typ == tokEnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.current.typ != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input at offset %d", p.current.pos)
	}
	return t, nil
}

func (p *parser) advance() error {
	tok, err := p.tok.next()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

func (p *parser) expect(typ tokenType, what string) error {
	if p.current.typ != typ {
		return fmt.Errorf("expected %s at offset %d", what, p.current.pos)
	}
	return p.advance()
}

func (p *parser) parseTerm() (Term, error) {
	tok := p.current
	switch tok.typ {
	case tokInteger:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", tok.text, err)
		}
		return Integer(n), p.advance()
	case tokVariable:
		return Variable(tok.text), p.advance()
	case tokAtom, tokQuotedAtom:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !tok.functorFollows {
			return Atom(tok.text), nil
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &Compound{Name: tok.text, Args: args}, nil
	case tokLBracket:
		return p.parseList()
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return t, p.expect(tokRParen, "')'")
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of input")
	}
	return nil, fmt.Errorf("unexpected token at offset %d", tok.pos)
}

func (p *parser) parseArgs() ([]Term, error) {
	if err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var args []Term
	for {
		arg, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.current.typ == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		return args, p.expect(tokRParen, "')' or ','")
	}
}

func (p *parser) parseList() (Term, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	list := List{}
	if p.current.typ == tokRBracket {
		return list, p.advance()
	}
	for {
		elem, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		list = append(list, elem)
		switch p.current.typ {
		case tokComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokBar:
			// Only a proper tail is supported: [a|[b,c]].
			if err := p.advance(); err != nil {
				return nil, err
			}
			tail, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			rest, err := ListOf(tail)
			if err != nil {
				return nil, fmt.Errorf("partial lists are not supported: %w", err)
			}
			list = append(list, rest...)
			return list, p.expect(tokRBracket, "']'")
		default:
			return list, p.expect(tokRBracket, "']' or ','")
		}
	}
}
