package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/config"
	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/events"
	"github.com/AaronLay10/StateSpace/internal/logger"
	"github.com/AaronLay10/StateSpace/internal/statespace"
)

// session is one engine connection with the graph built on it.
type session struct {
	channel *engine.Channel
	process *engine.Process
	graph   *statespace.Graph
	log     *zap.SugaredLogger
}

// openSession starts or connects to the engine, runs the setup queries
// and creates the graph.
func openSession(ctx context.Context, cfg *config.RuntimeConfig, opts ...statespace.Option) (*session, error) {
	log := logger.For(logger.ComponentEngine)
	s := &session{log: log}

	if cfg.Engine.Connect != "" {
		var d net.Dialer
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		conn, err := d.DialContext(dialCtx, "tcp", cfg.Engine.Connect)
		if err != nil {
			return nil, fmt.Errorf("connect to engine at %s: %w", cfg.Engine.Connect, err)
		}
		s.channel = engine.NewChannel(conn, engine.WithLogger(log))
		log.Infow("engine connected", "addr", cfg.Engine.Connect)
	} else {
		console := logger.For(logger.ComponentConsole)
		sink := engine.LineListenerFunc(func(stream, line string) {
			console.Debugw(line, "stream", stream)
		})
		p, err := engine.StartProcess(ctx, cfg.ProcessConfig(), sink, log)
		if err != nil {
			return nil, err
		}
		s.process = p
		s.channel = p.Channel()
	}

	for _, text := range cfg.Engine.Setup {
		q, err := engine.NewQuery(text)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("setup query %q: %w", text, err)
		}
		if err := s.channel.Execute(ctx, q); err != nil {
			s.Close()
			return nil, fmt.Errorf("setup query %q: %w", text, err)
		}
	}

	opts = append([]statespace.Option{statespace.WithLogger(logger.For(logger.ComponentStateSpace))}, opts...)
	s.graph = statespace.New(s.channel, opts...)
	return s, nil
}

// Close stops the engine process, or closes the connection to a shared engine.
func (s *session) Close() {
	var err error
	if s.process != nil {
		err = s.process.Close()
	} else if s.channel != nil {
		err = s.channel.Close()
		_, _ = events.Emit("info", "engine.stopped", "engine connection closed", nil)
	}
	if err != nil {
		s.log.Warnw("engine close", "error", err)
	}
}
