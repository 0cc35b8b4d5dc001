package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/StateSpace/internal/events"
)

// maxConsoleLine bounds a single console line.
const maxConsoleLine = 1 << 20

// LineListener receives engine console output line by line.
type LineListener interface {
	OnLine(stream, line string)
}

// LineListenerFunc adapts a function to LineListener.
type LineListenerFunc func(stream, line string)

func (f LineListenerFunc) OnLine(stream, line string) { f(stream, line) }

// EventSink forwards console lines as engine.console debug events.
var EventSink LineListener = LineListenerFunc(func(stream, line string) {
	events.Emit("debug", "engine.console", line, map[string]interface{}{"stream": stream})
})

// ConsoleListener drains engine output streams in the background. Each
// drained stream is owned by the listener and closed when it ends.
type ConsoleListener struct {
	log  *zap.SugaredLogger
	sink LineListener
	g    errgroup.Group
}

// NewConsoleListener creates a listener forwarding lines to sink.
// A nil sink logs lines at debug level.
func NewConsoleListener(log *zap.SugaredLogger, sink LineListener) *ConsoleListener {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ConsoleListener{log: log, sink: sink}
}

// Drain starts reading rc in the background.
func (c *ConsoleListener) Drain(stream string, rc io.ReadCloser) {
	c.g.Go(func() error {
		return c.drain(stream, rc)
	})
}

// Wait blocks until every drained stream ended. It returns the first
// fatal read error; end of stream and closed streams are not errors.
func (c *ConsoleListener) Wait() error {
	return c.g.Wait()
}

func (c *ConsoleListener) drain(stream string, rc io.ReadCloser) error {
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), maxConsoleLine)
	for sc.Scan() {
		line := sc.Text()
		if c.sink != nil {
			c.sink.OnLine(stream, line)
		} else {
			c.log.Debugw(line, "stream", stream)
		}
	}

	err := sc.Err()
	if err == nil || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		c.log.Debugw("console stream closed", "stream", stream)
		return nil
	}
	c.log.Errorw("console stream failed", "stream", stream, "error", err)
	return fmt.Errorf("drain %s: %w", stream, err)
}
