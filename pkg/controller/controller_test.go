package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hive13/doorctl/internal/intwebtest"
	"github.com/hive13/doorctl/pkg/controller"
	"github.com/hive13/doorctl/pkg/log"
	"github.com/hive13/doorctl/pkg/persistence"
	"github.com/hive13/doorctl/pkg/protocol"
	"github.com/hive13/doorctl/pkg/reader"
	"github.com/hive13/doorctl/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDevice = "frontdoor"
	testBadge  = uint64(1052895)
)

var testKey = []byte("not-a-real-device-key")

type fakeDoor struct {
	opens atomic.Int32
	err   error
}

func (d *fakeDoor) Open(context.Context) error {
	if d.err != nil {
		return d.err
	}
	d.opens.Add(1)
	return nil
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) DoorEvents() []log.DoorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []log.DoorEvent
	for _, e := range c.events {
		if e.Door != nil {
			out = append(out, *e.Door)
		}
	}
	return out
}

type fixture struct {
	srv     *intwebtest.Server
	ctrl    *controller.Controller
	door    *fakeDoor
	capture *captureLogger
	store   *persistence.AccessStateStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := intwebtest.New(t, testDevice, testKey)
	capture := &captureLogger{}

	client, err := protocol.NewClient(protocol.ClientConfig{URL: srv.URL(), Timeout: 2 * time.Second, Logger: capture})
	require.NoError(t, err)
	id, err := protocol.NewDeviceIdentity(testDevice, testKey)
	require.NoError(t, err)
	auth, err := protocol.NewAuthorizer(client, protocol.AuthorizerConfig{
		Identity: id,
		Retry:    retry.Policy{MaxAttempts: 1},
	})
	require.NoError(t, err)

	store := persistence.NewAccessStateStore(filepath.Join(t.TempDir(), "state.json"), 0)
	d := &fakeDoor{}
	ctrl := controller.New(auth, d, controller.Config{
		Workers:        2,
		Recorder:       store,
		ProtocolLogger: capture,
	})
	return &fixture{srv: srv, ctrl: ctrl, door: d, capture: capture, store: store}
}

func start(t *testing.T, ctrl *controller.Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	require.Eventually(t, ctrl.Running, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// feed runs the reader lines through a LineSource into the controller and
// waits until n attempts were accounted for.
func feed(t *testing.T, f *fixture, lines string, n uint64) {
	t.Helper()
	start(t, f.ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan reader.BadgeEvent)
	go func() {
		defer close(events)
		_ = reader.NewLineSource(strings.NewReader(lines), reader.SourceConfig{ProtocolLogger: f.capture}).Run(ctx, events)
	}()
	f.ctrl.Consume(ctx, events)

	require.Eventually(t, func() bool {
		s := f.ctrl.Stats()
		return s.Granted+s.Denied+s.Failed == n
	}, 5*time.Second, 5*time.Millisecond)
}

func TestScenarioA_GrantOpensDoor(t *testing.T) {
	f := newFixture(t)
	f.srv.Allow(testBadge, protocol.DefaultItem)

	feed(t, f, "1,1,x,OK,1052895\n", 1)

	assert.Equal(t, int32(1), f.door.opens.Load())
	assert.Equal(t, uint64(1), f.ctrl.Stats().Granted)

	reqs := f.srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, protocol.OpGetNonce, reqs[0].Operation)
	assert.Equal(t, protocol.OpAccess, reqs[1].Operation)
	assert.Equal(t, protocol.DefaultItem, reqs[1].Item)
	assert.Equal(t, testBadge, reqs[1].Badge)

	doors := f.capture.DoorEvents()
	require.Len(t, doors, 1)
	assert.Equal(t, log.DoorOpened, doors[0].Action)
	assert.Equal(t, controller.SourceReader, doors[0].Source)

	state := f.store.State()
	require.Len(t, state.Recent, 1)
	assert.Equal(t, persistence.OutcomeGranted, state.Recent[0].Outcome)
	assert.Equal(t, testBadge, state.Recent[0].Badge)
}

func TestScenarioB_DenyKeepsDoorClosed(t *testing.T) {
	f := newFixture(t)

	feed(t, f, "1,1,x,OK,1052895\n", 1)

	assert.Zero(t, f.door.opens.Load())
	assert.Equal(t, uint64(1), f.ctrl.Stats().Denied)

	doors := f.capture.DoorEvents()
	require.Len(t, doors, 1)
	assert.Equal(t, log.DoorKeptClosed, doors[0].Action)
	assert.NotEmpty(t, doors[0].Reason)

	state := f.store.State()
	require.Len(t, state.Recent, 1)
	assert.Equal(t, persistence.OutcomeDenied, state.Recent[0].Outcome)
}

func TestScenarioC_NonceFailureSendsNoAccessRequest(t *testing.T) {
	f := newFixture(t)
	f.srv.Allow(testBadge, protocol.DefaultItem)
	f.srv.SetBehavior(intwebtest.Behavior{NonceStatus: http.StatusInternalServerError})

	feed(t, f, "1,1,x,OK,1052895\n", 1)

	assert.Zero(t, f.door.opens.Load())
	assert.Equal(t, uint64(1), f.ctrl.Stats().Failed)
	assert.Equal(t, 1, f.srv.Count(protocol.OpGetNonce))
	assert.Zero(t, f.srv.Count(protocol.OpAccess))

	state := f.store.State()
	require.Len(t, state.Recent, 1)
	assert.Equal(t, persistence.OutcomeFailed, state.Recent[0].Outcome)
	assert.Equal(t, protocol.KindTransport, state.Recent[0].ErrorKind)
}

func TestScenarioD_FailLineIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.srv.Allow(testBadge, protocol.DefaultItem)

	// The OK line after the FAIL line marks when the source is done.
	feed(t, f, "2,2,x,FAIL\n3,3,x,OK,1052895\n", 1)

	reqs := f.srv.Requests()
	require.Len(t, reqs, 2, "only the OK line reaches intweb")
	assert.Equal(t, protocol.OpGetNonce, reqs[0].Operation)
	assert.Equal(t, testBadge, reqs[1].Badge)
	assert.Equal(t, int32(1), f.door.opens.Load())
}

func TestFailLineAlone_NoNetwork(t *testing.T) {
	f := newFixture(t)
	start(t, f.ctrl)

	events := make(chan reader.BadgeEvent, 1)
	err := reader.NewLineSource(strings.NewReader("2,2,x,FAIL\n"), reader.SourceConfig{}).Run(context.Background(), events)
	require.NoError(t, err)
	close(events)
	f.ctrl.Consume(context.Background(), events)

	assert.Empty(t, f.srv.Requests())
	assert.Zero(t, f.door.opens.Load())
}

func TestDoorFailureIsNotAnOpen(t *testing.T) {
	f := newFixture(t)
	f.srv.Allow(testBadge, protocol.DefaultItem)
	f.door.err = errors.New("gpio busy")
	start(t, f.ctrl)

	out, err := f.ctrl.Request(context.Background(), testBadge, controller.SourceConsole)
	require.NoError(t, err)
	assert.False(t, out.Opened)
	assert.True(t, out.Result.Granted())
	assert.Contains(t, out.Reason(), "gpio busy")
	assert.Equal(t, uint64(1), f.ctrl.Stats().DoorErrors)
}

type blockingAuth struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (a *blockingAuth) Authorize(ctx context.Context, badge uint64) protocol.Result {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-a.release:
	case <-ctx.Done():
		return protocol.Result{Badge: badge, State: protocol.StateFailed, Err: ctx.Err()}
	}
	return protocol.Result{
		Badge:    badge,
		State:    protocol.StateDenied,
		Decision: protocol.AccessDecision{NonceValid: true},
	}
}

func TestConcurrentAttempts(t *testing.T) {
	auth := &blockingAuth{release: make(chan struct{})}
	ctrl := controller.New(auth, &fakeDoor{}, controller.Config{Workers: 3})
	start(t, ctrl)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(badge uint64) {
			defer wg.Done()
			_, _ = ctrl.Request(context.Background(), badge, controller.SourceConsole)
		}(uint64(i + 1))
	}

	require.Eventually(t, func() bool { return auth.inFlight.Load() == 3 }, 2*time.Second, time.Millisecond)
	close(auth.release)
	wg.Wait()

	assert.Equal(t, int32(3), auth.peak.Load())
	assert.Equal(t, uint64(3), ctrl.Stats().Denied)
}

func TestRequest_QueueFull(t *testing.T) {
	auth := &blockingAuth{release: make(chan struct{})}
	ctrl := controller.New(auth, &fakeDoor{}, controller.Config{
		Workers:      1,
		QueueSize:    1,
		QueueTimeout: 20 * time.Millisecond,
	})
	start(t, ctrl)
	defer close(auth.release)

	go func() { _, _ = ctrl.Request(context.Background(), 1, controller.SourceConsole) }()
	require.Eventually(t, func() bool { return auth.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	go func() { _, _ = ctrl.Request(context.Background(), 2, controller.SourceConsole) }()
	require.Eventually(t, func() bool { return ctrl.Stats().Queued == 1 }, time.Second, time.Millisecond)

	_, err := ctrl.Request(context.Background(), 3, controller.SourceConsole)
	assert.ErrorIs(t, err, controller.ErrQueueFull)
	assert.Equal(t, uint64(1), ctrl.Stats().Rejected)
}

func TestRequest_NotRunning(t *testing.T) {
	ctrl := controller.New(&blockingAuth{}, &fakeDoor{}, controller.Config{})
	_, err := ctrl.Request(context.Background(), 1, controller.SourceConsole)
	assert.ErrorIs(t, err, controller.ErrNotRunning)
}

func postOpen(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, controller.PathOpenDoor, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_OpenDoor(t *testing.T) {
	f := newFixture(t)
	f.srv.Allow(testBadge, protocol.DefaultItem)
	start(t, f.ctrl)
	h := f.ctrl.Handler()

	rec := postOpen(h, url.Values{controller.FormBadge: {"1052895"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, int32(1), f.door.opens.Load())

	rec = postOpen(h, url.Values{controller.FormBadge: {"42"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "no access")
	assert.Equal(t, int32(1), f.door.opens.Load())

	doors := f.capture.DoorEvents()
	require.Len(t, doors, 2)
	assert.Equal(t, controller.SourceHTTP, doors[0].Source)
}

func TestHTTP_OpenDoorBadRequests(t *testing.T) {
	f := newFixture(t)
	start(t, f.ctrl)
	h := f.ctrl.Handler()

	tests := []struct {
		name string
		form url.Values
	}{
		{"missing", url.Values{}},
		{"not a number", url.Values{controller.FormBadge: {"abc"}}},
		{"negative", url.Values{controller.FormBadge: {"-1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postOpen(h, tt.form)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, f.srv.Requests())
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.ctrl.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, controller.PathOpenDoor, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTP_NotRunning(t *testing.T) {
	f := newFixture(t)
	h := f.ctrl.Handler()

	rec := postOpen(h, url.Values{controller.FormBadge: {"1052895"}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, controller.PathHealth, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTP_HealthAndStatus(t *testing.T) {
	f := newFixture(t)
	f.srv.Allow(testBadge, protocol.DefaultItem)
	start(t, f.ctrl)
	h := f.ctrl.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, controller.PathHealth, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := f.ctrl.Request(context.Background(), testBadge, controller.SourceConsole)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, controller.PathStatus, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats controller.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.Granted)
}

func TestRequest_SerializesNonceExchanges(t *testing.T) {
	srv := intwebtest.New(t, testDevice, testKey)
	srv.SetBehavior(intwebtest.Behavior{SingleNonce: true, Delay: 10 * time.Millisecond})
	srv.Allow(100, protocol.DefaultItem)
	srv.Allow(101, protocol.DefaultItem)

	client, err := protocol.NewClient(protocol.ClientConfig{URL: srv.URL(), Timeout: 2 * time.Second})
	require.NoError(t, err)
	id, err := protocol.NewDeviceIdentity(testDevice, testKey)
	require.NoError(t, err)
	auth, err := protocol.NewAuthorizer(client, protocol.AuthorizerConfig{Identity: id, Retry: retry.DefaultPolicy()})
	require.NoError(t, err)

	d := &fakeDoor{}
	ctrl := controller.New(auth, d, controller.Config{})
	start(t, ctrl)

	var wg sync.WaitGroup
	outcomes := make([]controller.Outcome, 2)
	for i, badge := range []uint64{100, 101} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := ctrl.Request(context.Background(), badge, controller.SourceHTTP)
			assert.NoError(t, err)
			outcomes[i] = out
		}()
	}
	wg.Wait()

	for _, out := range outcomes {
		assert.True(t, out.Opened, out.Reason())
	}
	assert.Equal(t, int32(2), d.opens.Load())
	assert.Zero(t, srv.Superseded())
}

func TestHTTP_OpenDoorTimeout(t *testing.T) {
	srv := intwebtest.New(t, testDevice, testKey)
	srv.Allow(testBadge, protocol.DefaultItem)
	srv.SetBehavior(intwebtest.Behavior{Delay: 200 * time.Millisecond})

	client, err := protocol.NewClient(protocol.ClientConfig{URL: srv.URL(), Timeout: 2 * time.Second})
	require.NoError(t, err)
	id, err := protocol.NewDeviceIdentity(testDevice, testKey)
	require.NoError(t, err)
	auth, err := protocol.NewAuthorizer(client, protocol.AuthorizerConfig{Identity: id, Retry: retry.Policy{MaxAttempts: 1}})
	require.NoError(t, err)

	d := &fakeDoor{}
	ctrl := controller.New(auth, d, controller.Config{RequestTimeout: 50 * time.Millisecond})
	start(t, ctrl)

	rec := postOpen(ctrl.Handler(), url.Values{controller.FormBadge: {"1052895"}})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	require.Eventually(t, func() bool { return ctrl.Stats().Failed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, d.opens.Load(), "an abandoned request never opens the door")
	assert.Zero(t, ctrl.Stats().Granted)
}
