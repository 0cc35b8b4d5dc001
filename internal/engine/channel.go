package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/events"
	"github.com/AaronLay10/StateSpace/internal/metrics"
	"github.com/AaronLay10/StateSpace/internal/prolog"
)

// Delimiter terminates every query, answer and callback reply on the wire.
const Delimiter = '\x01'

// Callback requests and replies understood by the channel itself.
const (
	CallbackInterruptRequested = "interrupt_requested"
	ReplyInterruptIsRequested  = "interrupt_is_requested"
	ReplyNotRequested          = "not_requested"
	ReplyNotSupported          = "call_back_not_supported"
)

// Channel executes commands over one engine connection. Requests are
// serialized: Execute holds the channel until every command received its
// terminal answer.
type Channel struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
	r    *bufio.Reader
	log  *zap.SugaredLogger

	interrupt atomic.Bool
	closed    atomic.Bool
	queries   atomic.Uint64
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the operational logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Channel) {
		if l != nil {
			c.log = l
		}
	}
}

// NewChannel wraps an open connection to the engine.
func NewChannel(conn io.ReadWriteCloser, opts ...Option) *Channel {
	c := &Channel{
		conn: conn,
		r:    bufio.NewReader(conn),
		log:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs cmds in order and returns the first error.
//
// Cancelling ctx while a query is running requests an interrupt; the engine
// sees it through the interrupt_requested callback. Execute still waits for
// the terminal answer so the connection stays in sync.
func (c *Channel) Execute(ctx context.Context, cmds ...Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cmd := range cmds {
		if c.closed.Load() {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.execute(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// SendInterrupt asks the running query to stop.
func (c *Channel) SendInterrupt() {
	c.interrupt.Store(true)
}

// InterruptRequested reports whether an interrupt is pending and clears it.
func (c *Channel) InterruptRequested() bool {
	return c.interrupt.Swap(false)
}

// ResetInterrupt discards a pending interrupt.
func (c *Channel) ResetInterrupt() {
	c.interrupt.Store(false)
}

// QueryCount returns the number of queries written so far.
func (c *Channel) QueryCount() uint64 {
	return c.queries.Load()
}

// Close closes the connection. Further calls to Execute fail with ErrClosed.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Channel) execute(ctx context.Context, cmd Command) error {
	out := prolog.NewOutput()
	cmd.WriteQuery(out)
	if err := out.FullStop(); err != nil {
		return fmt.Errorf("write query: %w", err)
	}
	query := out.String()

	if comp, ok := cmd.(Composite); ok {
		c.emitSubCommands(query, comp)
	}

	stop := context.AfterFunc(ctx, c.SendInterrupt)
	defer func() {
		if !stop() {
			// The interrupt was ours; do not leak it into the next query.
			c.ResetInterrupt()
		}
	}()

	start := time.Now()
	if err := c.send(query); err != nil {
		metrics.EngineQueries.WithLabelValues("protocol_error").Inc()
		return err
	}
	c.queries.Add(1)

	for {
		a, err := c.readAnswer()
		if err != nil {
			metrics.EngineQueries.WithLabelValues("protocol_error").Inc()
			return err
		}

		switch ans := a.(type) {
		case Progress:
			if h, ok := cmd.(ProgressHandler); ok {
				h.OnProgress(ans.Info)
			}
			events.Emit("debug", "engine.progress", "", map[string]interface{}{
				"query": query,
				"info":  ans.Info.String(),
			})
		case CallbackRequest:
			reply := c.callback(cmd, ans.Request)
			if err := c.send(prolog.Write(reply)); err != nil {
				metrics.EngineQueries.WithLabelValues("protocol_error").Inc()
				return err
			}
		default:
			metrics.EngineQueryDuration.Observe(time.Since(start).Seconds())
			return c.finish(cmd, query, a)
		}
	}
}

func (c *Channel) callback(cmd Command, req prolog.Term) prolog.Term {
	metrics.EngineCallbacks.WithLabelValues(req.Functor()).Inc()

	if prolog.HasFunctor(req, CallbackInterruptRequested, 0) {
		if c.InterruptRequested() {
			events.Emit("info", "engine.interrupt", "interrupt delivered to engine", nil)
			return prolog.Atom(ReplyInterruptIsRequested)
		}
		return prolog.Atom(ReplyNotRequested)
	}
	if h, ok := cmd.(CallbackHandler); ok {
		if reply, ok := h.OnCallback(req); ok {
			return reply
		}
	}
	c.log.Debugw("unsupported callback", "request", req.String())
	return prolog.Atom(ReplyNotSupported)
}

func (c *Channel) finish(cmd Command, query string, a Answer) error {
	var qerr *QueryError
	var outcome string

	switch ans := a.(type) {
	case Yes:
		if err := cmd.OnSuccess(ans.Bindings); err != nil {
			metrics.EngineQueries.WithLabelValues("result_error").Inc()
			return err
		}
		if len(ans.Errors) == 0 {
			metrics.EngineQueries.WithLabelValues("yes").Inc()
			return nil
		}
		outcome = "reported_errors"
		qerr = &QueryError{Kind: ErrReportedErrors, Query: query, Errors: ans.Errors}
	case No:
		outcome = "no"
		qerr = &QueryError{Kind: ErrNoSolution, Query: query, Errors: ans.Errors}
	case Interrupted:
		outcome = "interrupted"
		qerr = &QueryError{Kind: ErrInterrupted, Query: query, Errors: ans.Errors}
	case Exception:
		outcome = "exception"
		qerr = &QueryError{Kind: ErrEngineException, Query: query, Errors: []ErrorItem{{Message: ans.Message}}}
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unexpected answer %T", a)}
	}
	metrics.EngineQueries.WithLabelValues(outcome).Inc()

	if h, ok := cmd.(ErrorHandler); ok {
		return h.OnError(a, qerr)
	}

	level := "warn"
	if outcome == "interrupted" {
		level = "info"
	}
	events.Emit(level, "engine.error", qerr.Error(), map[string]interface{}{
		"query":   query,
		"outcome": outcome,
	})
	return qerr
}

func (c *Channel) emitSubCommands(query string, comp Composite) {
	subs := comp.SubCommands()
	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, fmt.Sprintf("%T", sub))
	}
	events.Emit("debug", "engine.subcommands", "", map[string]interface{}{
		"query":       query,
		"subcommands": names,
	})
}

func (c *Channel) send(text string) error {
	if _, err := io.WriteString(c.conn, text+string(Delimiter)); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return &ProtocolError{Reason: "write", Err: err}
	}
	return nil
}

func (c *Channel) readAnswer() (Answer, error) {
	raw, err := c.r.ReadString(Delimiter)
	if err != nil {
		if c.closed.Load() || errors.Is(err, io.EOF) {
			c.closed.Store(true)
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return nil, &ProtocolError{Reason: "read", Err: err}
	}
	text := strings.TrimSpace(strings.TrimSuffix(raw, string(Delimiter)))
	t, err := prolog.Parse(text)
	if err != nil {
		return nil, &ProtocolError{Reason: "parse answer " + text, Err: err}
	}
	a, err := DecodeAnswer(t)
	if err != nil {
		return nil, &ProtocolError{Reason: "decode answer", Err: err}
	}
	return a, nil
}
