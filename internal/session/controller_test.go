package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
	"github.com/cheesyocean/voicedesk/internal/scheduler"
)

type fakeLiveSession struct {
	mu            sync.Mutex
	events        chan repositories.LiveEvent
	frames        []repositories.MediaFrame
	toolResponses [][]repositories.ToolResponse
	closeOnce     sync.Once
	closed        bool
}

func newFakeLiveSession() *fakeLiveSession {
	return &fakeLiveSession{events: make(chan repositories.LiveEvent, 16)}
}

func (f *fakeLiveSession) SendAudio(frame repositories.MediaFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeLiveSession) SendToolResponse(_ context.Context, responses []repositories.ToolResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolResponses = append(f.toolResponses, responses)
	return nil
}

func (f *fakeLiveSession) Events() <-chan repositories.LiveEvent {
	return f.events
}

func (f *fakeLiveSession) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeLiveSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeLiveSession) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeDialer struct {
	mu      sync.Mutex
	live    *fakeLiveSession
	dialErr error
	dials   int
}

func (f *fakeDialer) Dial(context.Context, repositories.LiveConfig) (repositories.LiveSession, error) {
	f.mu.Lock()
	f.dials++
	f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return f.live, nil
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

type fakeSettingsRepo struct {
	settings *entities.Settings

	// delay widens the precondition phase for concurrency tests.
	delay time.Duration
}

func (f *fakeSettingsRepo) Get(context.Context) (*entities.Settings, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.settings, nil
}

func (f *fakeSettingsRepo) Save(_ context.Context, settings *entities.Settings) error {
	f.settings = settings
	return nil
}

type fakeFlagRepo struct {
	mu          sync.Mutex
	bannedUntil map[string]time.Time
	current     map[string]*entities.Order
}

func newFakeFlagRepo() *fakeFlagRepo {
	return &fakeFlagRepo{
		bannedUntil: make(map[string]time.Time),
		current:     make(map[string]*entities.Order),
	}
}

func (f *fakeFlagRepo) BannedUntil(_ context.Context, clientID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bannedUntil[clientID], nil
}

func (f *fakeFlagRepo) SetBannedUntil(_ context.Context, clientID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bannedUntil[clientID] = until
	return nil
}

func (f *fakeFlagRepo) CurrentOrder(_ context.Context, clientID string) (*entities.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[clientID], nil
}

func (f *fakeFlagRepo) SetCurrentOrder(_ context.Context, clientID string, order *entities.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[clientID] = order
	return nil
}

func (f *fakeFlagRepo) ClearCurrentOrder(_ context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.current, clientID)
	return nil
}

type controllerFixture struct {
	controller *Controller
	dialer     *fakeDialer
	settings   *fakeSettingsRepo
	flags      *fakeFlagRepo
	orders     *fakeOrderRepo

	mu       sync.Mutex
	statuses []entities.SessionStatus
	errs     []error
}

var testClock = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	fx := &controllerFixture{
		dialer:   &fakeDialer{live: newFakeLiveSession()},
		settings: &fakeSettingsRepo{settings: entities.DefaultSettings("Cheesy Occean Pizza")},
		flags:    newFakeFlagRepo(),
		orders:   newFakeOrderRepo(),
	}

	riderScheduler := scheduler.NewRiderScheduler(zap.NewNop()).
		WithClock(func() time.Time { return testClock }).
		WithRandom(func() float64 { return 0 })

	fx.controller = NewController(
		Config{
			ClientID:         "client-1",
			CaptureSupported: true,
			FarewellDelay:    30 * time.Millisecond,
		},
		Deps{
			Dialer:      fx.dialer,
			Settings:    fx.settings,
			Orders:      fx.orders,
			Flags:       fx.flags,
			Scheduler:   riderScheduler,
			Credentials: NewCredentialResolver("test-api-key", "", zap.NewNop()),
		},
		Callbacks{
			OnStatus: func(status entities.SessionStatus) {
				fx.mu.Lock()
				fx.statuses = append(fx.statuses, status)
				fx.mu.Unlock()
			},
			OnError: func(err error) {
				fx.mu.Lock()
				fx.errs = append(fx.errs, err)
				fx.mu.Unlock()
			},
		},
		zap.NewNop(),
	)
	fx.controller.now = func() time.Time { return testClock }
	return fx
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not reached before deadline")
}

func (fx *controllerFixture) lastErr() error {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.errs) == 0 {
		return nil
	}
	return fx.errs[len(fx.errs)-1]
}

func TestStartRejectsWhenShopClosed(t *testing.T) {
	fx := newControllerFixture(t)
	fx.controller.now = func() time.Time {
		return time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	}

	err := fx.controller.Start(context.Background())
	if !errors.Is(err, ErrShopClosed) {
		t.Errorf("Expected ErrShopClosed, got %v", err)
	}
	if fx.controller.Status() != entities.SessionStatusIdle {
		t.Errorf("Precondition failure must leave the controller idle, got %s", fx.controller.Status())
	}
}

func TestStartRejectsUnsupportedCapture(t *testing.T) {
	fx := newControllerFixture(t)

	err := fx.controller.StartWithCapture(context.Background(), false)
	if !errors.Is(err, ErrUnsupportedEnvironment) {
		t.Errorf("Expected ErrUnsupportedEnvironment, got %v", err)
	}
}

func TestStartRejectsBannedClient(t *testing.T) {
	fx := newControllerFixture(t)
	fx.flags.SetBannedUntil(context.Background(), "client-1", testClock.Add(time.Hour))

	err := fx.controller.Start(context.Background())
	if !errors.Is(err, ErrBanned) {
		t.Errorf("Expected ErrBanned, got %v", err)
	}
	if fx.controller.Status() != entities.SessionStatusIdle {
		t.Errorf("Expected idle status, got %s", fx.controller.Status())
	}
}

func TestStartAllowsExpiredBan(t *testing.T) {
	fx := newControllerFixture(t)
	fx.flags.SetBannedUntil(context.Background(), "client-1", testClock.Add(-time.Minute))

	if err := fx.controller.Start(context.Background()); err != nil {
		t.Errorf("Expected an expired ban to clear, got %v", err)
	}
	fx.controller.Stop()
}

func TestStartDialTimeout(t *testing.T) {
	fx := newControllerFixture(t)
	fx.dialer.dialErr = context.DeadlineExceeded

	err := fx.controller.Start(context.Background())
	if !errors.Is(err, ErrConnectionTimeout) {
		t.Errorf("Expected ErrConnectionTimeout, got %v", err)
	}
	if fx.controller.Status() != entities.SessionStatusError {
		t.Errorf("Expected error status, got %s", fx.controller.Status())
	}
}

func TestStartConnectsAndStops(t *testing.T) {
	fx := newControllerFixture(t)

	if err := fx.controller.Start(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fx.controller.Status() != entities.SessionStatusConnected {
		t.Fatalf("Expected connected status, got %s", fx.controller.Status())
	}

	if err := fx.controller.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive on double start, got %v", err)
	}

	fx.controller.HandleSamples([]float32{0.1, 0.2})
	waitFor(t, time.Second, func() bool { return fx.dialer.live.frameCount() == 1 })

	fx.controller.Stop()
	if fx.controller.Status() != entities.SessionStatusIdle {
		t.Errorf("Expected idle after stop, got %s", fx.controller.Status())
	}
	if !fx.dialer.live.isClosed() {
		t.Error("Expected the live channel to be closed")
	}
	if fx.lastErr() != nil {
		t.Errorf("User stop must not raise an error, got %v", fx.lastErr())
	}

	// Samples after stop are dropped, not forwarded.
	fx.controller.HandleSamples([]float32{0.3})
	time.Sleep(20 * time.Millisecond)
	if fx.dialer.live.frameCount() != 1 {
		t.Errorf("Expected no frames after stop, got %d", fx.dialer.live.frameCount())
	}
}

func TestConcurrentStartAdmitsOneSession(t *testing.T) {
	fx := newControllerFixture(t)
	// A slow settings load keeps both starts inside the precondition phase
	// at the same time.
	fx.settings.delay = 50 * time.Millisecond

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fx.controller.Start(context.Background())
		}(i)
	}
	wg.Wait()

	var admitted, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrSessionActive):
			refused++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if admitted != 1 || refused != 1 {
		t.Errorf("Expected 1 admitted and 1 refused start, got %d admitted, %d refused", admitted, refused)
	}
	if fx.dialer.dialCount() != 1 {
		t.Errorf("Expected exactly one dial, got %d", fx.dialer.dialCount())
	}
	if fx.controller.Status() != entities.SessionStatusConnected {
		t.Errorf("Expected connected status, got %s", fx.controller.Status())
	}

	fx.controller.Stop()
	if !fx.dialer.live.isClosed() {
		t.Error("Expected the single live channel to close on stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fx := newControllerFixture(t)
	fx.controller.Stop()
	fx.controller.Stop()
	if fx.controller.Status() != entities.SessionStatusIdle {
		t.Errorf("Expected idle status, got %s", fx.controller.Status())
	}
}

func TestCaptureDeniedMidConnect(t *testing.T) {
	fx := newControllerFixture(t)

	if err := fx.controller.Start(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	fx.controller.ReportCaptureDenied()

	if fx.controller.Status() != entities.SessionStatusError {
		t.Errorf("Expected error status, got %s", fx.controller.Status())
	}
	if !errors.Is(fx.lastErr(), ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", fx.lastErr())
	}
}

func TestTerminationTokenBansClient(t *testing.T) {
	fx := newControllerFixture(t)

	if err := fx.controller.Start(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	live := fx.dialer.live
	live.events <- repositories.TranscriptDelta{Speaker: entities.SpeakerModel, Text: "Goodbye. " + TerminationToken}
	live.events <- repositories.TurnComplete{}

	waitFor(t, time.Second, func() bool {
		return fx.controller.Status() == entities.SessionStatusError
	})

	if !errors.Is(fx.lastErr(), ErrPolicyViolation) {
		t.Errorf("Expected ErrPolicyViolation, got %v", fx.lastErr())
	}

	until, _ := fx.flags.BannedUntil(context.Background(), "client-1")
	expected := testClock.Add(DefaultBanDuration)
	if !until.Equal(expected) {
		t.Errorf("Expected ban until %v, got %v", expected, until)
	}
	if !live.isClosed() {
		t.Error("Expected the live channel to be closed after termination")
	}

	// A banned client cannot start again.
	if err := fx.controller.Start(context.Background()); !errors.Is(err, ErrBanned) {
		t.Errorf("Expected ErrBanned on restart, got %v", err)
	}
}

func TestRemoteCloseWithError(t *testing.T) {
	fx := newControllerFixture(t)

	if err := fx.controller.Start(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	fx.dialer.live.events <- repositories.SessionClosed{Err: errors.New("connection reset")}
	fx.dialer.live.Close()

	waitFor(t, time.Second, func() bool {
		return fx.controller.Status() == entities.SessionStatusError
	})
	if !errors.Is(fx.lastErr(), ErrTransport) {
		t.Errorf("Expected ErrTransport, got %v", fx.lastErr())
	}
}

func TestFarewellAutoStopAfterOrder(t *testing.T) {
	fx := newControllerFixture(t)

	if err := fx.controller.Start(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	live := fx.dialer.live
	live.events <- repositories.ToolCall{ID: "call-1", Name: ToolPlaceOrder, Args: validPlaceOrderArgs()}

	waitFor(t, time.Second, func() bool { return fx.controller.OrderID() != "" })
	live.mu.Lock()
	responded := len(live.toolResponses)
	live.mu.Unlock()
	if responded != 1 {
		t.Fatalf("Expected 1 tool response batch, got %d", responded)
	}

	live.events <- repositories.TranscriptDelta{Speaker: entities.SpeakerModel, Text: "Thank you, your delivery is on the way. Goodbye!"}
	live.events <- repositories.TurnComplete{}

	waitFor(t, time.Second, func() bool {
		return fx.controller.Status() == entities.SessionStatusIdle
	})
	if fx.lastErr() != nil {
		t.Errorf("Farewell stop must not raise an error, got %v", fx.lastErr())
	}
	if fx.orders.count() != 1 {
		t.Errorf("Expected 1 stored order, got %d", fx.orders.count())
	}
}

func TestSignOffWithoutOrderKeepsSessionOpen(t *testing.T) {
	fx := newControllerFixture(t)

	if err := fx.controller.Start(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	live := fx.dialer.live
	live.events <- repositories.TranscriptDelta{Speaker: entities.SpeakerModel, Text: "Goodbye for now!"}
	live.events <- repositories.TurnComplete{}

	time.Sleep(100 * time.Millisecond)
	if fx.controller.Status() != entities.SessionStatusConnected {
		t.Errorf("Expected the session to stay connected, got %s", fx.controller.Status())
	}
	fx.controller.Stop()
}
