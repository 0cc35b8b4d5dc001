// Package enginetest provides an in-process engine speaking the term
// protocol over net.Pipe, for tests of code built on engine.Channel.
package enginetest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/prolog"
)

// Handler answers one query. It must send exactly one terminal answer.
type Handler func(x *Exchange)

// Exchange is one query in flight on the stub engine.
type Exchange struct {
	Query prolog.Term
	Text  string

	conn net.Conn
	r    *bufio.Reader
}

// Send writes one raw answer term.
func (x *Exchange) Send(answer string) {
	x.conn.Write([]byte(answer + string(engine.Delimiter)))
}

// Yes answers affirmatively with the given bindings, e.g. "['='('X',1)]".
func (x *Exchange) Yes(bindings string) {
	x.Send("yes(" + bindings + ",[])")
}

// No answers negatively.
func (x *Exchange) No() {
	x.Send("no([])")
}

// Interrupted answers with an interruption.
func (x *Exchange) Interrupted() {
	x.Send("interrupted([])")
}

// Progress sends a progress notification.
func (x *Exchange) Progress(info string) {
	x.Send("progress(" + info + ")")
}

// Callback sends call_back(request) and returns the client's reply.
func (x *Exchange) Callback(request string) prolog.Term {
	x.Send("call_back(" + request + ")")
	raw, err := x.r.ReadString(engine.Delimiter)
	if err != nil {
		return nil
	}
	t, err := prolog.Parse(strings.TrimSuffix(raw, string(engine.Delimiter)))
	if err != nil {
		return nil
	}
	return t
}

// Arg returns the i-th argument (1-based) of the query, or nil.
func (x *Exchange) Arg(i int) prolog.Term {
	a, err := prolog.Arg(x.Query, i)
	if err != nil {
		return nil
	}
	return a
}

// ArgString returns the atomic text of the i-th query argument.
func (x *Exchange) ArgString(i int) string {
	s, _ := prolog.AtomString(x.Arg(i))
	return s
}

// Engine is the server side of the pipe.
type Engine struct {
	mu      sync.Mutex
	queries []string
	handler Handler
	conn    net.Conn
	done    chan struct{}
}

// Start returns a channel connected to a stub engine driven by h. Both
// ends are closed when the test finishes.
func Start(tb testing.TB, h Handler) (*engine.Channel, *Engine) {
	tb.Helper()
	client, server := net.Pipe()
	e := &Engine{handler: h, conn: server, done: make(chan struct{})}
	go e.serve()

	ch := engine.NewChannel(client)
	tb.Cleanup(func() {
		ch.Close()
		server.Close()
		<-e.done
	})
	return ch, e
}

func (e *Engine) serve() {
	defer close(e.done)
	r := bufio.NewReader(e.conn)
	for {
		raw, err := r.ReadString(engine.Delimiter)
		if err != nil {
			return
		}
		text := strings.TrimSuffix(raw, string(engine.Delimiter))
		e.mu.Lock()
		e.queries = append(e.queries, text)
		e.mu.Unlock()

		x := &Exchange{Text: text, conn: e.conn, r: r}
		t, err := prolog.Parse(text)
		if err != nil {
			x.Send("exception('malformed query')")
			continue
		}
		x.Query = t
		e.handler(x)
	}
}

// Queries returns the raw text of every query received so far.
func (e *Engine) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}

// Calls returns the number of queries received.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

// CallsTo returns the number of queries whose principal functor is name.
func (e *Engine) CallsTo(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, q := range e.queries {
		if strings.HasPrefix(q, name+"(") || q == name+"." {
			n++
		}
	}
	return n
}

// Dispatch routes queries to handlers by principal functor. Unknown
// queries get an exception answer.
func Dispatch(handlers map[string]Handler) Handler {
	return func(x *Exchange) {
		if h, ok := handlers[x.Query.Functor()]; ok {
			h(x)
			return
		}
		x.Send("exception('unknown predicate " + x.Query.Functor() + "')")
	}
}
