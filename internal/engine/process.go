package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/events"
)

// DefaultStartTimeout bounds the wait for the engine's port announcement.
const DefaultStartTimeout = 30 * time.Second

var portLine = regexp.MustCompile(`^Port:\s*(\d+)\s*$`)

// ErrNoPort is returned when the engine exits without announcing a port.
var ErrNoPort = errors.New("engine: process did not announce a port")

// ProcessConfig describes how to start the engine executable.
type ProcessConfig struct {
	Path         string
	Args         []string
	Dir          string
	Env          []string
	Host         string
	StartTimeout time.Duration
}

// Process is a running engine with an open channel.
type Process struct {
	cmd     *exec.Cmd
	channel *Channel
	console *ConsoleListener
	log     *zap.SugaredLogger
	port    int
}

// StartProcess starts the engine, waits for the "Port: <n>" line on its
// stdout, connects to that port, and drains the remaining console output
// into sink.
func StartProcess(ctx context.Context, cfg ProcessConfig, sink LineListener, log *zap.SugaredLogger) (*Process, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %s: %w", cfg.Path, err)
	}

	console := NewConsoleListener(log, sink)
	console.Drain("stderr", stderr)

	br := bufio.NewReader(stdout)
	portCh := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		port, err := readPort(br, console.sink, log)
		if err != nil {
			errCh <- err
			return
		}
		portCh <- port
	}()

	var port int
	timer := time.NewTimer(cfg.StartTimeout)
	defer timer.Stop()
	select {
	case port = <-portCh:
	case err = <-errCh:
	case <-timer.C:
		err = fmt.Errorf("engine: no port announced within %s", cfg.StartTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		_ = cmd.Process.Kill()
		_ = console.Wait()
		_ = cmd.Wait()
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = console.Wait()
		_ = cmd.Wait()
		return nil, fmt.Errorf("connect to engine at %s: %w", addr, err)
	}

	console.Drain("stdout", struct {
		io.Reader
		io.Closer
	}{br, stdout})

	p := &Process{
		cmd:     cmd,
		channel: NewChannel(conn, WithLogger(log)),
		console: console,
		log:     log,
		port:    port,
	}
	log.Infow("engine started", "path", cfg.Path, "pid", cmd.Process.Pid, "port", port)
	events.Emit("info", "engine.started", "engine process started", map[string]interface{}{
		"pid":  cmd.Process.Pid,
		"port": port,
	})
	return p, nil
}

func readPort(br *bufio.Reader, sink LineListener, log *zap.SugaredLogger) (int, error) {
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			trimmed := trimEOL(line)
			if m := portLine.FindStringSubmatch(trimmed); m != nil {
				return strconv.Atoi(m[1])
			}
			if sink != nil {
				sink.OnLine("stdout", trimmed)
			} else {
				log.Debugw(trimmed, "stream", "stdout")
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, ErrNoPort
			}
			return 0, fmt.Errorf("read engine stdout: %w", err)
		}
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Channel returns the channel connected to the engine.
func (p *Process) Channel() *Channel {
	return p.channel
}

// Port returns the port the engine listens on.
func (p *Process) Port() int {
	return p.port
}

// Close closes the channel, stops the engine and waits for the console drain.
func (p *Process) Close() error {
	cerr := p.channel.Close()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Warnw("kill engine", "error", err)
	}
	if err := p.console.Wait(); err != nil {
		p.log.Warnw("console drain", "error", err)
	}
	_ = p.cmd.Wait()
	events.Emit("info", "engine.stopped", "engine process stopped", nil)
	return cerr
}
