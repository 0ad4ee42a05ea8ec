package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the current phase with the seconds spent in it.
// Phases listed as quiet suspend the line; any other phase brings it back,
// so a consumer that loses its keyboard shows progress again while it
// reconnects.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stderr, "Looking for keyboard", "scanning", "streaming")
//	p.Start()
//	defer p.Stop()
type ProgressPrinter struct {
	out    io.Writer
	prefix string
	quiet  map[string]struct{}

	phase      atomic.Value // string
	phaseStart atomic.Int64 // unix nanos

	mu      sync.Mutex // serializes writes to out
	visible bool

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer starting in phase. quietPhases hide the line.
func NewProgressPrinter(out io.Writer, prefix, phase string, quietPhases ...string) *ProgressPrinter {
	quiet := make(map[string]struct{}, len(quietPhases))
	for _, q := range quietPhases {
		quiet[q] = struct{}{}
	}
	p := &ProgressPrinter{
		out:    out,
		prefix: prefix,
		quiet:  quiet,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.phase.Store(phase)
	p.phaseStart.Store(time.Now().UnixNano())
	return p
}

// Start begins redrawing the line. Panics if called twice.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.draw()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.draw()
			}
		}
	}()
}

// SetPhase switches the phase and restarts its clock. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
	p.phaseStart.Store(time.Now().UnixNano())
	p.draw()
}

// Phase returns the current phase
func (p *ProgressPrinter) Phase() string {
	return p.phase.Load().(string)
}

func (p *ProgressPrinter) draw() {
	phase := p.Phase()
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.quiet[phase]; ok {
		if p.visible {
			fmt.Fprint(p.out, clearLineSequence)
			p.visible = false
		}
		return
	}

	seconds := int(time.Since(time.Unix(0, p.phaseStart.Load())).Seconds())
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
	p.visible = true
}

// Stop ends the redraw loop and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.started.Load() {
			<-p.done
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.visible {
			fmt.Fprint(p.out, clearLineSequence)
			p.visible = false
		}
	})
}

// Println writes a full line above the progress line
func (p *ProgressPrinter) Println(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible {
		fmt.Fprint(p.out, clearLineSequence)
		p.visible = false
	}
	fmt.Fprintln(p.out, msg)
}
