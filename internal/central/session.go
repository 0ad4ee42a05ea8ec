package central

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/groutine"
	"github.com/srg/blehid/internal/ringchan"
)

// Status is a point-in-time view of a central session
type Status struct {
	State       State
	Conn        device.ConnID
	Peer        string
	ValueHandle device.Handle
	CCCDHandle  device.Handle
	Attempt     int
	Events      ringchan.Metrics
}

// Session is one keyboard consumer. Stack events enter through HandleEvent and
// are serialized by the session lock. Decoded reports are delivered on a
// bounded channel that drops the oldest report when the reader falls behind.
type Session struct {
	mu      sync.Mutex
	stack   Stack
	logger  *logrus.Logger
	opts    Options
	machine *Machine
	events  *ringchan.RingChannel[ReportEvent]

	group    *groutine.Group
	ctx      context.Context
	cancel   context.CancelFunc
	timerGen uint64
	stopped  bool
	onState  TransitionFunc
}

// NewSession creates a central session over stack
func NewSession(stack Stack, opts Options, logger *logrus.Logger) *Session {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}
	s := &Session{
		stack:   stack,
		logger:  logger,
		opts:    opts,
		machine: NewMachine(opts, logger),
		events:  ringchan.New[ReportEvent](opts.EventBuffer),
		group:   groutine.NewGroup(logger),
		ctx:     context.Background(),
	}
	s.machine.OnTransition = s.transition
	return s
}

// Events returns the report stream. It is closed by Stop.
func (s *Session) Events() <-chan ReportEvent {
	return s.events.C()
}

// OnStateChange registers fn for every state change. fn runs under the
// session lock and must not call back into the session.
func (s *Session) OnStateChange(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

func (s *Session) transition(from, to State) {
	if s.onState != nil {
		s.onState(from, to)
	}
}

// Start begins scanning. Reconnect timers stop when ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("central session already stopped")
	}
	if s.machine.State() != StateIdle {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.WithFields(logrus.Fields{
		"name_filter":   s.opts.NameFilter,
		"cccd_strategy": s.opts.CCCDStrategy,
	}).Info("Starting HID central")

	out := s.machine.Start()
	for _, cmd := range out.Commands {
		if err := cmd.Exec(s.stack); err != nil {
			s.machine.Stop()
			s.cancel()
			return fmt.Errorf("failed to start scanning: %w", err)
		}
	}
	return nil
}

// Stop leaves the peer, cancels timers and closes the report stream
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.apply(s.machine.Stop())
	s.events.Close()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.group.Wait()
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.machine.State(),
		Conn:        s.machine.Conn(),
		Peer:        s.machine.Peer(),
		ValueHandle: s.machine.ValueHandle(),
		CCCDHandle:  s.machine.CCCDHandle(),
		Attempt:     s.machine.Attempt(),
		Events:      s.events.GetMetrics(),
	}
}

// HandleEvent applies one stack event. It never fails: ignored events are logged.
func (s *Session) HandleEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle(ev)
}

func (s *Session) handle(ev Event) {
	if s.stopped {
		return
	}
	if _, ok := ev.(AdvertisementReceived); !ok {
		s.logger.WithFields(logrus.Fields{"event": ev.EventName(), "state": s.machine.State()}).Debug("Stack event")
	}

	out, err := s.machine.Step(ev)
	if err != nil {
		entry := s.logger.WithFields(logrus.Fields{"event": ev.EventName(), "error": err})
		if errors.Is(err, device.ErrProtocolViolation) {
			entry.Debug("Ignoring event")
		} else {
			entry.Warn("Event failed")
		}
		return
	}
	s.apply(out)
}

func (s *Session) apply(out Output) {
	for _, cmd := range out.Commands {
		if err := cmd.Exec(s.stack); err != nil {
			s.logger.WithFields(logrus.Fields{
				"command": cmd.CommandName(),
				"state":   s.machine.State(),
				"error":   err,
			}).Warn("Stack rejected request")
			s.apply(s.machine.CommandFailed(cmd))
			return
		}
	}

	if out.Report != nil {
		if dropped := s.events.Send(*out.Report); dropped {
			s.logger.WithField("conn_id", out.Report.Conn).Warn("Report reader too slow, oldest report dropped")
		}
	}

	if out.Reconnect {
		s.scheduleReconnect(out.Delay)
	}
}

// scheduleReconnect raises BackoffElapsed after delay. A newer schedule
// supersedes older timers.
func (s *Session) scheduleReconnect(delay time.Duration) {
	s.timerGen++
	gen := s.timerGen
	if delay <= 0 {
		s.handle(BackoffElapsed{})
		return
	}
	s.group.Go(s.ctx, "central-backoff", func(ctx context.Context) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.timerGen {
			return
		}
		s.handle(BackoffElapsed{})
	})
}
