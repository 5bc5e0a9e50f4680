package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"device-scanner/internal/model"
)

var (
	drtProfile = model.DeviceProfile{DeviceType: "DRT", VendorID: 0x2341, ProductID: 0x8036}
	vogProfile = model.DeviceProfile{DeviceType: "VOG", VendorID: 0x16C0, ProductID: 0x0483}

	drtPort   = model.ObservedPort{PortID: "/dev/ttyACM0", VendorID: 0x2341, ProductID: 0x8036, IsUSB: true}
	vogPort   = model.ObservedPort{PortID: "/dev/ttyACM1", VendorID: 0x16C0, ProductID: 0x0483, IsUSB: true}
	mousePort = model.ObservedPort{PortID: "/dev/ttyUSB0", VendorID: 0x046D, ProductID: 0xC077, IsUSB: true}
)

type fakeEnumerator struct {
	mu    sync.Mutex
	ports []model.ObservedPort
	err   error
	panic bool
}

func (f *fakeEnumerator) set(ports ...model.ObservedPort) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports = ports
	f.err = nil
}

func (f *fakeEnumerator) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeEnumerator) Ports() ([]model.ObservedPort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("enumerator exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.ObservedPort(nil), f.ports...), nil
}

type fakeConn struct {
	portID string
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Read(p []byte) (int, error)  { return 0, nil }
func (c *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *fakeConn) PortID() string              { return c.portID }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeOpener fails the first failures[port] calls for a port, or every call
// when the count is negative.
type fakeOpener struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	conns    map[string]*fakeConn
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		failures: make(map[string]int),
		calls:    make(map[string]int),
		conns:    make(map[string]*fakeConn),
	}
}

func (o *fakeOpener) Open(portID string) (model.Connection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[portID]++
	if n := o.failures[portID]; n < 0 || o.calls[portID] <= n {
		return nil, fmt.Errorf("open %s: resource busy", portID)
	}
	conn := &fakeConn{portID: portID}
	o.conns[portID] = conn
	return conn, nil
}

func (o *fakeOpener) callCount(portID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[portID]
}

// sleepRecorder keeps real timers but returns from Sleep immediately
type sleepRecorder struct {
	clock.Clock
	mu     sync.Mutex
	sleeps []time.Duration
}

func newSleepRecorder() *sleepRecorder {
	return &sleepRecorder{Clock: clock.New()}
}

func (r *sleepRecorder) Sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

type harness struct {
	enum    *fakeEnumerator
	opener  *fakeOpener
	clock   *sleepRecorder
	scanner *Scanner
}

func newHarness(opts Options, profiles ...model.DeviceProfile) *harness {
	h := &harness{
		enum:   &fakeEnumerator{},
		opener: newFakeOpener(),
		clock:  newSleepRecorder(),
	}
	if len(profiles) == 0 {
		profiles = []model.DeviceProfile{drtProfile, vogProfile}
	}
	h.scanner = New(h.enum, h.opener, profiles, opts, h.clock, zap.NewNop())
	return h
}

func (h *harness) poll() {
	h.scanner.poll(context.Background())
}

func (h *harness) drain() []model.LifecycleEvent {
	var events []model.LifecycleEvent
	for {
		select {
		case ev := <-h.scanner.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func portIDs(ports []model.ObservedPort) []string {
	ids := make([]string, 0, len(ports))
	for _, p := range ports {
		ids = append(ids, p.PortID)
	}
	return ids
}

func TestDefaultOptions(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultOptions(), opts)
	assert.Equal(t, 500*time.Millisecond, opts.PollInterval)
	assert.Equal(t, 5, opts.OpenAttempts)
	assert.Equal(t, time.Second, opts.RetryDelay)
}

func TestMatchedPortAttaches(t *testing.T) {
	h := newHarness(Options{})
	h.enum.set(drtPort)

	h.poll()

	events := h.drain()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, model.EventDeviceAttached, ev.Type)
	assert.Equal(t, "DRT", ev.DeviceType)
	assert.Equal(t, drtPort.PortID, ev.PortID)
	require.NotNil(t, ev.Connection)
	assert.Equal(t, drtPort.PortID, ev.Connection.PortID())
	assert.Equal(t, []string{drtPort.PortID}, portIDs(h.scanner.KnownPorts()))
}

func TestUnmatchedPortIsRememberedWithoutEvent(t *testing.T) {
	h := newHarness(Options{})
	h.enum.set(mousePort)

	for i := 0; i < 3; i++ {
		h.poll()
	}

	assert.Empty(t, h.drain())
	assert.Zero(t, h.opener.callCount(mousePort.PortID))
	assert.Equal(t, []string{mousePort.PortID}, portIDs(h.scanner.KnownPorts()))
}

func TestRepeatedPollsDoNotReopen(t *testing.T) {
	h := newHarness(Options{})
	h.enum.set(drtPort, mousePort)

	for i := 0; i < 4; i++ {
		h.poll()
	}

	assert.Len(t, h.drain(), 1)
	assert.Equal(t, 1, h.opener.callCount(drtPort.PortID))
}

func TestVanishedPortIsPurgedAndRediscovered(t *testing.T) {
	h := newHarness(Options{})
	h.enum.set(drtPort)
	h.poll()
	require.Len(t, h.drain(), 1)

	h.enum.set()
	h.poll()

	events := h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventDeviceRemoved, events[0].Type)
	assert.Equal(t, "DRT", events[0].DeviceType)
	assert.Equal(t, drtPort.PortID, events[0].PortID)
	assert.Nil(t, events[0].Connection)
	assert.Empty(t, h.scanner.KnownPorts())

	h.enum.set(drtPort)
	h.poll()

	events = h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventDeviceAttached, events[0].Type)
	assert.Equal(t, 2, h.opener.callCount(drtPort.PortID))
}

func TestUnmatchedPortVanishesSilently(t *testing.T) {
	h := newHarness(Options{})
	h.enum.set(mousePort)
	h.poll()

	h.enum.set()
	h.poll()

	assert.Empty(t, h.drain())
	assert.Empty(t, h.scanner.KnownPorts())
}

func TestRetryExhaustedEmitsOneConnectionError(t *testing.T) {
	h := newHarness(Options{})
	h.opener.failures[drtPort.PortID] = -1
	h.enum.set(drtPort)

	h.poll()

	assert.Equal(t, 5, h.opener.callCount(drtPort.PortID))
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second, time.Second}, h.clock.recorded())

	events := h.drain()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, model.EventConnectionError, ev.Type)
	assert.Equal(t, "DRT", ev.DeviceType)
	assert.Equal(t, 5, ev.Attempts)
	assert.ErrorIs(t, ev.Err, ErrOpenExhausted)
	assert.Contains(t, ev.ErrorMessage(), "resource busy")

	// remembered until reseated
	h.poll()
	assert.Equal(t, 5, h.opener.callCount(drtPort.PortID))
	assert.Empty(t, h.drain())
}

func TestRetryExhaustedPortIsRetriedAfterReseat(t *testing.T) {
	h := newHarness(Options{})
	h.opener.failures[drtPort.PortID] = 5
	h.enum.set(drtPort)
	h.poll()

	h.enum.set()
	h.poll()
	assert.Len(t, h.drain(), 1, "connection error only; no removal for a port that never attached")

	h.enum.set(drtPort)
	h.poll()

	events := h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventDeviceAttached, events[0].Type)
	assert.Equal(t, 6, h.opener.callCount(drtPort.PortID))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	h := newHarness(Options{})
	h.opener.failures[drtPort.PortID] = 2
	h.enum.set(drtPort)

	h.poll()

	assert.Equal(t, 3, h.opener.callCount(drtPort.PortID))
	assert.Len(t, h.clock.recorded(), 2)
	events := h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventDeviceAttached, events[0].Type)
}

func TestCustomRetryPolicy(t *testing.T) {
	h := newHarness(Options{OpenAttempts: 2, RetryDelay: 250 * time.Millisecond})
	h.opener.failures[drtPort.PortID] = -1
	h.enum.set(drtPort)

	h.poll()

	assert.Equal(t, 2, h.opener.callCount(drtPort.PortID))
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, h.clock.recorded())
}

func TestZeroRetryDelayTakesDefault(t *testing.T) {
	h := newHarness(Options{OpenAttempts: 3, RetryDelay: 0})
	h.opener.failures[drtPort.PortID] = -1
	h.enum.set(drtPort)

	h.poll()

	assert.Equal(t, 3, h.opener.callCount(drtPort.PortID))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.clock.recorded())
}

func TestNoRetryDelay(t *testing.T) {
	opts := Options{NoRetryDelay: true, RetryDelay: time.Second}.withDefaults()
	assert.Zero(t, opts.RetryDelay)

	h := newHarness(Options{NoRetryDelay: true})
	h.opener.failures[drtPort.PortID] = -1
	h.enum.set(drtPort)

	h.poll()

	assert.Equal(t, 5, h.opener.callCount(drtPort.PortID))
	assert.Empty(t, h.clock.recorded())
	events := h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventConnectionError, events[0].Type)
}

func TestFirstMatchingProfileWins(t *testing.T) {
	alias := model.DeviceProfile{DeviceType: "DRT_ALIAS", VendorID: drtProfile.VendorID, ProductID: drtProfile.ProductID}
	h := newHarness(Options{}, drtProfile, alias)
	h.enum.set(drtPort)

	h.poll()

	events := h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, "DRT", events[0].DeviceType)
	assert.Equal(t, 1, h.opener.callCount(drtPort.PortID))
}

func TestSamePollBatchesEventsInEnumerationOrder(t *testing.T) {
	h := newHarness(Options{})
	h.opener.failures[mousePort.PortID] = -1
	h.enum.set(vogPort, mousePort, drtPort)

	h.poll()

	events := h.drain()
	require.Len(t, events, 2)
	assert.Equal(t, vogPort.PortID, events[0].PortID)
	assert.Equal(t, drtPort.PortID, events[1].PortID)
	assert.Equal(t, []string{drtPort.PortID, vogPort.PortID, mousePort.PortID}, portIDs(h.scanner.KnownPorts()))
}

func TestFailedOpenDoesNotAffectOtherPorts(t *testing.T) {
	h := newHarness(Options{})
	h.opener.failures[drtPort.PortID] = -1
	h.enum.set(drtPort, vogPort)

	h.poll()

	events := h.drain()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventConnectionError, events[0].Type)
	assert.Equal(t, model.EventDeviceAttached, events[1].Type)
	assert.Equal(t, vogPort.PortID, events[1].PortID)
	assert.Len(t, h.scanner.KnownPorts(), 2)
}

func TestEnumerationErrorIsTreatedAsNoChange(t *testing.T) {
	h := newHarness(Options{})
	h.enum.set(drtPort)
	h.poll()
	h.drain()

	h.enum.fail(errors.New("enumeration failed"))
	h.poll()

	assert.Empty(t, h.drain())
	assert.Equal(t, []string{drtPort.PortID}, portIDs(h.scanner.KnownPorts()))
}

func TestPortReusedByDifferentHardware(t *testing.T) {
	h := newHarness(Options{})
	h.enum.set(drtPort)
	h.poll()
	h.drain()

	reused := vogPort
	reused.PortID = drtPort.PortID
	h.enum.set(reused)
	h.poll()

	events := h.drain()
	require.Len(t, events, 2)
	assert.Equal(t, model.EventDeviceRemoved, events[0].Type)
	assert.Equal(t, "DRT", events[0].DeviceType)
	assert.Equal(t, model.EventDeviceAttached, events[1].Type)
	assert.Equal(t, "VOG", events[1].DeviceType)
}

func TestPanicDuringPollIsRecovered(t *testing.T) {
	h := newHarness(Options{})
	h.enum.panic = true

	assert.NotPanics(t, h.poll)
	assert.Empty(t, h.drain())
}

func TestEmitClosesConnectionWhenDroppedOnShutdown(t *testing.T) {
	h := newHarness(Options{EventBuffer: 1})
	h.enum.set(drtPort, vogPort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.scanner.poll(ctx)

	events := h.drain()
	require.Len(t, events, 1)
	assert.Equal(t, drtPort.PortID, events[0].PortID)

	assert.True(t, h.opener.conns[vogPort.PortID].isClosed())
	assert.False(t, h.opener.conns[drtPort.PortID].isClosed())
	assert.Len(t, h.scanner.KnownPorts(), 2)
	assert.False(t, h.scanner.known[vogPort.Key()].attached)
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(Options{PollInterval: 5 * time.Millisecond})
	require.NoError(t, h.scanner.Start(context.Background()))
	defer h.scanner.Stop()

	assert.ErrorIs(t, h.scanner.Start(context.Background()), ErrAlreadyStarted)
}

func TestLoopDetectsHotPlugAndStops(t *testing.T) {
	h := newHarness(Options{PollInterval: 5 * time.Millisecond})
	require.NoError(t, h.scanner.Start(context.Background()))

	h.enum.set(drtPort)
	select {
	case ev := <-h.scanner.Events():
		assert.Equal(t, model.EventDeviceAttached, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no attach event")
	}

	require.Eventually(t, func() bool {
		return len(h.scanner.KnownPorts()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.enum.set()
	select {
	case ev := <-h.scanner.Events():
		assert.Equal(t, model.EventDeviceRemoved, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no removal event")
	}

	h.scanner.Stop()
	select {
	case <-h.scanner.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop")
	}

	_, open := <-h.scanner.Events()
	assert.False(t, open, "events channel is closed after exit")
	assert.Empty(t, h.scanner.KnownPorts())
}

func TestLoopSurvivesEnumerationErrors(t *testing.T) {
	h := newHarness(Options{PollInterval: 5 * time.Millisecond})
	h.enum.fail(errors.New("temporarily unavailable"))
	require.NoError(t, h.scanner.Start(context.Background()))
	defer h.scanner.Stop()

	time.Sleep(30 * time.Millisecond)
	h.enum.set(vogPort)

	select {
	case ev := <-h.scanner.Events():
		assert.Equal(t, "VOG", ev.DeviceType)
	case <-time.After(2 * time.Second):
		t.Fatal("no attach event after enumeration recovered")
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	h := newHarness(Options{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.scanner.Start(ctx))

	cancel()
	select {
	case <-h.scanner.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop on context cancel")
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	h := newHarness(Options{})
	assert.NotPanics(t, h.scanner.Stop)
	assert.Empty(t, h.scanner.KnownPorts())
}

func TestDiscardPendingClosesUndeliveredConnections(t *testing.T) {
	h := newHarness(Options{})
	h.opener.failures[vogPort.PortID] = -1
	h.enum.set(drtPort, vogPort)

	h.poll()

	assert.Equal(t, 2, h.scanner.DiscardPending())
	assert.True(t, h.opener.conns[drtPort.PortID].isClosed())
	assert.Empty(t, h.drain())
	assert.Zero(t, h.scanner.DiscardPending())
}
