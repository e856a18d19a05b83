// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package marker implements the marker pipe demultiplexer: it owns the
// named pipe an instrumented application writes begin/end tokens into, and
// dispatches typed events to whichever measurement sources are currently
// armed. Grounded in RMeasureServer.cpp's listenMacros() loop.
package marker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	rerrors "github.com/repara/rmeasure/pkg/errors"
	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
)

// Source is a measurement source the demultiplexer can drive: the socket
// energy counter, the scope pipeline, or the timer.
type Source interface {
	Name() string
	Armed() bool
	BeginKernel(name string)
	EndKernel()
	Disarm() bool
}

// Refresher is implemented by sources that need a periodic sample between
// markers to bound register-wrap exposure (the socket energy counter).
type Refresher interface {
	Refresh()
}

// Demultiplexer reads tokens from the marker pipe and dispatches begin/end/
// disarm events to its sources. One instance is created per daemon run and
// started lazily when the first source is armed.
type Demultiplexer struct {
	PipePath        string
	RefreshInterval time.Duration
	Pulse           interfaces.PulseEmitter

	Scope Source
	Rapl  Source
	Timer Source

	mu               sync.Mutex
	measuring        bool
	loggedUnknown    map[string]bool
	emptyNameLogged  bool
}

// New creates a Demultiplexer. pulse may be nil, in which case pulse
// emission is a no-op (useful when no scope source is configured).
func New(pipePath string, refreshInterval time.Duration, pulse interfaces.PulseEmitter) *Demultiplexer {
	return &Demultiplexer{
		PipePath:        pipePath,
		RefreshInterval: refreshInterval,
		Pulse:           pulse,
		loggedUnknown:   make(map[string]bool),
	}
}

func (d *Demultiplexer) sources() []Source {
	var out []Source
	for _, s := range []Source{d.Scope, d.Rapl, d.Timer} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *Demultiplexer) anyArmed() bool {
	for _, s := range d.sources() {
		if s.Armed() {
			return true
		}
	}
	return false
}

// Run opens the marker pipe and processes tokens until the context is
// cancelled or every source becomes disarmed. It re-opens the pipe on EOF
// and never returns an error for a transient pipe condition.
func (d *Demultiplexer) Run(ctx context.Context) error {
	if err := ensureFIFO(d.PipePath); err != nil {
		return rerrors.NewPipeError("mkfifo", d.PipePath, err)
	}

	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()
	go d.runRefreshTimer(refreshCtx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !d.anyArmed() {
			return nil
		}

		if err := d.readOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Error().Err(err).Str("path", d.PipePath).Msg("marker pipe read error, re-opening")
		}
	}
}

func (d *Demultiplexer) readOnce(ctx context.Context) error {
	f, err := os.OpenFile(d.PipePath, os.O_RDONLY, os.ModeNamedPipe)
	if err != nil {
		return rerrors.NewPipeError("open", d.PipePath, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}

		token, err := r.ReadString(';')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return rerrors.NewPipeError("read", d.PipePath, err)
		}
		token = strings.TrimSuffix(token, ";")
		d.dispatch(token)

		if !d.anyArmed() {
			return nil
		}
	}
}

func (d *Demultiplexer) dispatch(token string) {
	switch {
	case token == "":
		// no-op
	case strings.HasPrefix(token, "B:"):
		d.handleBegin(strings.TrimPrefix(token, "B:"))
	case token == "E":
		d.handleEnd()
	case token == "SS":
		if d.Scope != nil {
			d.Scope.Disarm()
		}
	case token == "SR":
		if d.Rapl != nil {
			d.Rapl.Disarm()
		}
	case token == "ST":
		if d.Timer != nil {
			d.Timer.Disarm()
		}
	default:
		if !d.loggedUnknown[token] {
			d.loggedUnknown[token] = true
			logger.Warn().Str("token", token).Msg("marker: unrecognized token, ignoring")
		}
	}
}

func (d *Demultiplexer) handleBegin(name string) {
	if !d.anyArmed() {
		return
	}
	if name == "" {
		name = "unknown"
		if !d.emptyNameLogged {
			d.emptyNameLogged = true
			logger.Warn().Msg("marker: empty kernel name in B: token, using \"unknown\"")
		}
	}

	d.mu.Lock()
	d.measuring = true
	d.mu.Unlock()

	for _, s := range d.sources() {
		if s.Armed() {
			s.BeginKernel(name)
		}
	}

	if d.Pulse != nil {
		if err := d.Pulse.Raise(); err != nil {
			logger.Warn().Err(err).Msg("marker: failed to raise pulse line")
		}
	}
}

func (d *Demultiplexer) handleEnd() {
	d.mu.Lock()
	wasMeasuring := d.measuring
	d.measuring = false
	d.mu.Unlock()

	if !wasMeasuring {
		return
	}

	for _, s := range d.sources() {
		if s.Armed() {
			s.EndKernel()
		}
	}

	if d.Pulse != nil {
		if err := d.Pulse.Lower(); err != nil {
			logger.Warn().Err(err).Msg("marker: failed to lower pulse line")
		}
	}
}

func (d *Demultiplexer) runRefreshTimer(ctx context.Context) {
	if d.RefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			measuring := d.measuring
			d.mu.Unlock()
			if !measuring {
				continue
			}
			if d.Rapl == nil || !d.Rapl.Armed() {
				continue
			}
			if r, ok := d.Rapl.(Refresher); ok {
				r.Refresh()
			}
		}
	}
}
