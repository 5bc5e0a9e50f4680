// Package scanner watches the serial port set and turns hot-plug changes into
// lifecycle events for supported devices.
package scanner

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"device-scanner/internal/model"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start
	ErrAlreadyStarted = errors.New("scanner already started")
	// ErrOpenExhausted wraps the last open error once every attempt failed
	ErrOpenExhausted = errors.New("open attempts exhausted")
)

// Enumerator lists the serial ports currently present
type Enumerator interface {
	Ports() ([]model.ObservedPort, error)
}

// Opener opens a byte-stream connection to a port
type Opener interface {
	Open(portID string) (model.Connection, error)
}

// Options tunes the poll loop. Zero fields take the DefaultOptions value; set
// NoRetryDelay to retry opens back to back.
type Options struct {
	PollInterval time.Duration
	OpenAttempts int
	RetryDelay   time.Duration
	NoRetryDelay bool
	EventBuffer  int
}

// DefaultOptions returns the stock poll and retry settings
func DefaultOptions() Options {
	return Options{
		PollInterval: 500 * time.Millisecond,
		OpenAttempts: 5,
		RetryDelay:   time.Second,
		EventBuffer:  64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.OpenAttempts <= 0 {
		o.OpenAttempts = d.OpenAttempts
	}
	switch {
	case o.NoRetryDelay:
		o.RetryDelay = 0
	case o.RetryDelay <= 0:
		o.RetryDelay = d.RetryDelay
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	return o
}

// knownPort is the loop's record of hardware it has already handled
type knownPort struct {
	port       model.ObservedPort
	deviceType string
	attached   bool
}

// Scanner owns the poll loop. The known port table is only touched by the
// loop goroutine once Start has been called.
type Scanner struct {
	enumerator Enumerator
	opener     Opener
	profiles   []model.DeviceProfile
	opts       Options
	clock      clock.Clock
	logger     *zap.Logger

	known     map[model.PortKey]*knownPort
	events    chan model.LifecycleEvent
	snapshots chan chan []model.ObservedPort
	done      chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New creates a scanner. Profiles are matched in the order given.
func New(enumerator Enumerator, opener Opener, profiles []model.DeviceProfile, opts Options, clk clock.Clock, logger *zap.Logger) *Scanner {
	if clk == nil {
		clk = clock.New()
	}
	opts = opts.withDefaults()

	return &Scanner{
		enumerator: enumerator,
		opener:     opener,
		profiles:   slices.Clone(profiles),
		opts:       opts,
		clock:      clk,
		logger:     logger.With(zap.String("component", "scanner")),
		known:      make(map[model.PortKey]*knownPort),
		events:     make(chan model.LifecycleEvent, opts.EventBuffer),
		snapshots:  make(chan chan []model.ObservedPort),
		done:       make(chan struct{}),
	}
}

// Start launches the poll loop. The loop runs until Stop is called or ctx is
// cancelled.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("Starting port scanner",
		zap.Duration("poll_interval", s.opts.PollInterval),
		zap.Int("open_attempts", s.opts.OpenAttempts),
		zap.Duration("retry_delay", s.opts.RetryDelay),
		zap.Int("profiles", len(s.profiles)),
	)

	go s.run(loopCtx)
	return nil
}

// Stop asks the loop to exit at the next poll boundary. It does not wait; use
// Done to observe the exit.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// Done is closed once the loop has exited
func (s *Scanner) Done() <-chan struct{} {
	return s.done
}

// Events delivers lifecycle events in detection order. The channel is closed
// when the loop exits.
func (s *Scanner) Events() <-chan model.LifecycleEvent {
	return s.events
}

// DiscardPending empties the event buffer without blocking and closes the
// connection carried by every undelivered Attached event. It returns the
// number of events discarded.
func (s *Scanner) DiscardPending() int {
	discarded := 0
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return discarded
			}
			discarded++
			if ev.Connection == nil {
				continue
			}
			if err := ev.Connection.Close(); err != nil {
				s.logger.Warn("Failed to close undelivered connection",
					zap.String("port", ev.PortID),
					zap.Error(err),
				)
			}
		default:
			return discarded
		}
	}
}

// Profiles returns the profiles the scanner matches against
func (s *Scanner) Profiles() []model.DeviceProfile {
	return slices.Clone(s.profiles)
}

// KnownPorts returns the ports the scanner has already handled, sorted by port id
func (s *Scanner) KnownPorts() []model.ObservedPort {
	s.mu.Lock()
	if !s.started {
		defer s.mu.Unlock()
		return s.snapshot()
	}
	s.mu.Unlock()

	reply := make(chan []model.ObservedPort, 1)
	select {
	case s.snapshots <- reply:
		return <-reply
	case <-s.done:
		return s.snapshot()
	}
}

func (s *Scanner) snapshot() []model.ObservedPort {
	ports := make([]model.ObservedPort, 0, len(s.known))
	for _, k := range s.known {
		ports = append(ports, k.port)
	}
	slices.SortFunc(ports, func(a, b model.ObservedPort) int {
		return strings.Compare(a.PortID, b.PortID)
	})
	return ports
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer s.logger.Info("Port scanner stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		s.poll(ctx)

		timer := s.clock.Timer(s.opts.PollInterval)
		if !s.wait(ctx, timer) {
			timer.Stop()
			return
		}
	}
}

// wait blocks until the next poll is due, serving snapshot requests meanwhile.
// It returns false when the loop should exit.
func (s *Scanner) wait(ctx context.Context, timer *clock.Timer) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case reply := <-s.snapshots:
			reply <- s.snapshot()
		case <-timer.C:
			return true
		}
	}
}

// poll runs one enumerate/diff/classify pass
func (s *Scanner) poll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic during poll", zap.Any("panic", r))
		}
	}()

	ports, err := s.enumerator.Ports()
	if err != nil {
		s.logger.Warn("Port enumeration failed, skipping poll", zap.Error(err))
		return
	}

	current := make(map[model.PortKey]struct{}, len(ports))
	for _, p := range ports {
		current[p.Key()] = struct{}{}
	}

	if len(current) == len(s.known) && s.allKnown(current) {
		return
	}

	s.purge(ctx, current)
	s.classify(ctx, ports)
}

func (s *Scanner) allKnown(current map[model.PortKey]struct{}) bool {
	for key := range current {
		if _, ok := s.known[key]; !ok {
			return false
		}
	}
	return true
}

// purge forgets ports no longer present so they are rediscovered on replug
func (s *Scanner) purge(ctx context.Context, current map[model.PortKey]struct{}) {
	var vanished []*knownPort
	for key, k := range s.known {
		if _, ok := current[key]; ok {
			continue
		}
		delete(s.known, key)
		vanished = append(vanished, k)
	}

	slices.SortFunc(vanished, func(a, b *knownPort) int {
		return strings.Compare(a.port.PortID, b.port.PortID)
	})

	for _, k := range vanished {
		s.logger.Debug("Port vanished",
			zap.String("port", k.port.PortID),
			zap.String("usb_id", k.port.USBID()),
		)
		if k.attached {
			s.emit(ctx, model.NewRemovedEvent(k.deviceType, k.port, s.clock.Now()))
		}
	}
}

// classify handles ports not yet known, in enumeration order
func (s *Scanner) classify(ctx context.Context, ports []model.ObservedPort) {
	for _, port := range ports {
		key := port.Key()
		if _, ok := s.known[key]; ok {
			continue
		}

		entry := &knownPort{port: port}
		s.known[key] = entry

		profile, ok := s.match(port)
		if !ok {
			s.logger.Debug("Ignoring unsupported port",
				zap.String("port", port.PortID),
				zap.String("usb_id", port.USBID()),
			)
			continue
		}
		entry.deviceType = profile.DeviceType

		conn, attempts, err := s.openWithRetry(profile.DeviceType, port.PortID)
		if err != nil {
			s.emit(ctx, model.NewConnectionErrorEvent(profile.DeviceType, port, attempts, err, s.clock.Now()))
			continue
		}

		if s.emit(ctx, model.NewAttachedEvent(profile.DeviceType, port, conn, s.clock.Now())) {
			entry.attached = true
		}
	}
}

// match returns the first profile carrying the port's vendor/product pair
func (s *Scanner) match(port model.ObservedPort) (model.DeviceProfile, bool) {
	for _, p := range s.profiles {
		if p.Matches(port) {
			return p, true
		}
	}
	return model.DeviceProfile{}, false
}

// emit queues an event. It only gives up when the loop is being cancelled and
// the buffer is full, in which case an attached connection is closed.
func (s *Scanner) emit(ctx context.Context, ev model.LifecycleEvent) bool {
	select {
	case s.events <- ev:
		return true
	default:
	}

	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		s.logger.Warn("Dropping event on shutdown",
			zap.String("type", string(ev.Type)),
			zap.String("port", ev.PortID),
		)
		if ev.Connection != nil {
			if err := ev.Connection.Close(); err != nil {
				s.logger.Warn("Failed to close dropped connection", zap.Error(err))
			}
		}
		return false
	}
}
