package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
	"github.com/cheesyocean/voicedesk/internal/audio"
	"github.com/cheesyocean/voicedesk/internal/scheduler"
)

// Defaults for the lifecycle configuration.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultFarewellDelay  = 2 * time.Second
	DefaultBanDuration    = 24 * time.Hour
)

// Config controls one client's session lifecycle.
type Config struct {
	ClientID string

	// CaptureSupported is the client's declared microphone capability from
	// the transport handshake.
	CaptureSupported bool

	ConnectTimeout time.Duration
	FarewellDelay  time.Duration
	BanDuration    time.Duration
}

// Deps are the controller's collaborators.
type Deps struct {
	Dialer      repositories.LiveDialer
	Settings    repositories.SettingsRepository
	Orders      repositories.OrderRepository
	Flags       repositories.ClientFlagRepository
	Scheduler   *scheduler.RiderScheduler
	Credentials *CredentialResolver
}

// Callbacks deliver session output to the transport layer. Any callback may
// be nil. OnError only fires for failures detected asynchronously; Start
// reports its own failures through its return value.
type Callbacks struct {
	OnStatus                func(entities.SessionStatus)
	OnTranscriptionUpdate   func(entities.Speaker, string)
	OnTranscriptionComplete func(entities.Speaker, string)
	OnAudio                 func(pcm []byte, duration time.Duration)
	OnInterrupted           func()
	OnOrderPlaced           func(entities.Order)
	OnError                 func(error)
}

// Controller is the live session state machine for one client. States move
// Idle -> Connecting -> Connected and back to Idle on stop or Error on
// failure; every exit path funnels into one idempotent teardown.
type Controller struct {
	cfg       Config
	deps      Deps
	callbacks Callbacks
	logger    *zap.Logger

	now       func() time.Time
	pickVoice func() string

	closing atomic.Bool

	mu         sync.Mutex
	starting   bool
	status     entities.SessionStatus
	sess       *entities.Session
	live       repositories.LiveSession
	capture    *audio.Capture
	player     *audio.Player
	turns      *TurnAccumulator
	dispatcher *ToolDispatcher
	farewell   *time.Timer
}

// NewController creates an idle controller for one client.
func NewController(cfg Config, deps Deps, callbacks Callbacks, logger *zap.Logger) *Controller {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.FarewellDelay <= 0 {
		cfg.FarewellDelay = DefaultFarewellDelay
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = DefaultBanDuration
	}
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		callbacks: callbacks,
		logger:    logger,
		now:       time.Now,
		status:    entities.SessionStatusIdle,
		pickVoice: func() string {
			return VoiceOptions[rand.Intn(len(VoiceOptions))]
		},
	}
}

// Status returns the current lifecycle status.
func (c *Controller) Status() entities.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OrderID returns the id of any order placed during the current session.
func (c *Controller) OrderID() string {
	c.mu.Lock()
	dispatcher := c.dispatcher
	c.mu.Unlock()
	if dispatcher == nil {
		return ""
	}
	return dispatcher.OrderID()
}

// Start checks every precondition, opens the live conversation and wires the
// audio pipelines. Precondition failures leave the controller Idle; failures
// after the Connecting transition move it to Error. The returned error
// classifies the failure via the sentinel errors in this package.
func (c *Controller) Start(ctx context.Context) error {
	// Claim the start before the awaited precondition checks run, so two
	// concurrent starts cannot both pass the idle check and both dial.
	c.mu.Lock()
	if c.starting || c.status == entities.SessionStatusConnecting || c.status == entities.SessionStatusConnected {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	// Preconditions, all evaluated before any state change.
	if err := c.deps.Credentials.Resolve(ctx); err != nil {
		return err
	}
	settings, err := c.deps.Settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load shop settings: %w", err)
	}
	if !settings.ShopInfo.WorkingHours.IsOpenAt(c.now()) {
		return fmt.Errorf("%w: hours %s-%s", ErrShopClosed,
			settings.ShopInfo.WorkingHours.Start, settings.ShopInfo.WorkingHours.End)
	}
	if !c.cfg.CaptureSupported {
		return ErrUnsupportedEnvironment
	}
	bannedUntil, err := c.deps.Flags.BannedUntil(ctx, c.cfg.ClientID)
	if err != nil {
		c.logger.Warn("Ban lookup failed, refusing session", zap.Error(err))
		return ErrBanned
	}
	if bannedUntil.After(c.now()) {
		return fmt.Errorf("%w until %s", ErrBanned, bannedUntil.Format(time.RFC3339))
	}

	c.closing.Store(false)
	c.setStatus(entities.SessionStatusConnecting)

	cfg := repositories.LiveConfig{
		SystemInstruction: BuildSystemInstruction(settings),
		Voice:             c.pickVoice(),
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	live, err := c.deps.Dialer.Dial(dialCtx, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrConnectionTimeout
		} else {
			err = fmt.Errorf("%w: %v", ErrTransport, err)
		}
		c.teardown(entities.SessionStatusError, nil)
		return err
	}
	if c.closing.Load() {
		// A concurrent stop raced the dial; discard the fresh channel.
		_ = live.Close()
		return nil
	}

	sess := entities.NewSession(c.cfg.ClientID)

	c.mu.Lock()
	c.sess = sess
	c.live = live
	c.capture = audio.NewCapture(live.SendAudio, c.logger)
	c.player = audio.NewPlayer(c.emitAudio, c.logger)
	c.turns = NewTurnAccumulator(c.callbacks.OnTranscriptionUpdate, c.completeUtterance)
	c.dispatcher = NewToolDispatcher(c.deps.Orders, c.deps.Scheduler, settings.Riders, c.orderPlaced, c.logger)
	c.mu.Unlock()

	c.setStatus(entities.SessionStatusConnected)
	c.logger.Info("Live session connected",
		zap.String("client_id", c.cfg.ClientID),
		zap.String("session_id", sess.ID),
		zap.String("voice", cfg.Voice))

	go c.receiveLoop(live)
	return nil
}

// StartWithCapture records the capture capability declared in the transport
// handshake, then starts the session.
func (c *Controller) StartWithCapture(ctx context.Context, captureSupported bool) error {
	c.mu.Lock()
	c.cfg.CaptureSupported = captureSupported
	c.mu.Unlock()
	return c.Start(ctx)
}

// HandleSamples feeds one block of captured microphone samples into the
// session. Blocks arriving while no session is connected are dropped.
func (c *Controller) HandleSamples(samples []float32) {
	c.mu.Lock()
	capture := c.capture
	status := c.status
	c.mu.Unlock()
	if capture == nil || status != entities.SessionStatusConnected {
		return
	}
	capture.Process(samples)
}

// ReportCaptureDenied handles the client declining microphone access after
// the session started connecting.
func (c *Controller) ReportCaptureDenied() {
	c.teardown(entities.SessionStatusError, ErrPermissionDenied)
}

// Stop ends the session and releases every resource. Idempotent: stopping an
// already idle session is a no-op.
func (c *Controller) Stop() {
	c.teardown(entities.SessionStatusIdle, nil)
}

func (c *Controller) receiveLoop(live repositories.LiveSession) {
	ctx := context.Background()

	c.mu.Lock()
	player, turns, dispatcher := c.player, c.turns, c.dispatcher
	c.mu.Unlock()

	for ev := range live.Events() {
		switch ev := ev.(type) {
		case repositories.TranscriptDelta:
			turns.AddDelta(ev.Speaker, ev.Text)

		case repositories.AudioChunk:
			if err := player.Enqueue(ev.Data); err != nil {
				c.logger.Warn("Failed to schedule audio chunk", zap.Error(err))
			}

		case repositories.Interrupted:
			player.Interrupt()
			if c.callbacks.OnInterrupted != nil {
				c.callbacks.OnInterrupted()
			}

		case repositories.TurnComplete:
			c.completeTurn(ctx, turns, dispatcher)

		case repositories.ToolCall:
			responses := dispatcher.Dispatch(ctx, []repositories.ToolCall{ev})
			if err := live.SendToolResponse(ctx, responses); err != nil {
				c.logger.Error("Failed to send tool response", zap.Error(err))
			}

		case repositories.SessionClosed:
			if ev.Err != nil {
				c.teardown(entities.SessionStatusError, fmt.Errorf("%w: %v", ErrTransport, ev.Err))
			} else {
				c.Stop()
			}
		}
	}
}

func (c *Controller) completeTurn(ctx context.Context, turns *TurnAccumulator, dispatcher *ToolDispatcher) {
	modelText, terminated := turns.CompleteTurn()
	if terminated {
		until := c.now().Add(c.cfg.BanDuration)
		if err := c.deps.Flags.SetBannedUntil(ctx, c.cfg.ClientID, until); err != nil {
			c.logger.Error("Failed to persist ban", zap.Error(err))
		}
		c.logger.Warn("Termination token observed, banning client",
			zap.String("client_id", c.cfg.ClientID),
			zap.Time("banned_until", until))
		c.teardown(entities.SessionStatusError, ErrPolicyViolation)
		return
	}

	// Once the order is in and the model says its goodbyes, schedule a stop
	// with enough delay for the farewell audio to finish playing.
	if modelText != "" && dispatcher.OrderPlaced() && ContainsSignOff(modelText) {
		c.mu.Lock()
		if c.farewell == nil {
			c.farewell = time.AfterFunc(c.cfg.FarewellDelay, c.Stop)
		}
		c.mu.Unlock()
	}
}

func (c *Controller) completeUtterance(speaker entities.Speaker, text string) {
	c.mu.Lock()
	if c.sess != nil {
		c.sess.AddUtterance(speaker, text)
	}
	cb := c.callbacks.OnTranscriptionComplete
	c.mu.Unlock()
	if cb != nil {
		cb(speaker, text)
	}
}

func (c *Controller) orderPlaced(order entities.Order) {
	c.mu.Lock()
	if c.sess != nil {
		c.sess.MarkOrderPlaced(order.ID)
	}
	cb := c.callbacks.OnOrderPlaced
	c.mu.Unlock()
	if cb != nil {
		cb(order)
	}
}

func (c *Controller) emitAudio(pcm []byte, duration time.Duration) {
	if c.callbacks.OnAudio != nil {
		c.callbacks.OnAudio(pcm, duration)
	}
}

// teardown is the single exit path for every way a session can end: user
// stop, protocol close, protocol error, policy ban. The closing flag makes
// racing exits collapse into one release; a later explicit stop still
// normalizes the status to Idle. Teardown never lets a close error escape.
func (c *Controller) teardown(final entities.SessionStatus, cause error) {
	if !c.closing.CompareAndSwap(false, true) {
		if final == entities.SessionStatusIdle {
			c.setStatus(entities.SessionStatusIdle)
		}
		return
	}

	c.mu.Lock()
	live := c.live
	capture := c.capture
	player := c.player
	farewell := c.farewell
	c.live = nil
	c.farewell = nil
	c.mu.Unlock()

	if farewell != nil {
		farewell.Stop()
	}
	if capture != nil {
		capture.Close()
	}
	if player != nil {
		player.Interrupt()
	}
	if live != nil {
		if err := live.Close(); err != nil {
			c.logger.Debug("Live channel close", zap.Error(err))
		}
	}

	c.setStatus(final)
	if cause != nil && c.callbacks.OnError != nil {
		c.callbacks.OnError(cause)
	}
	c.logger.Info("Session ended",
		zap.String("client_id", c.cfg.ClientID),
		zap.String("status", string(final)))
}

func (c *Controller) setStatus(status entities.SessionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	if c.sess != nil {
		c.sess.Status = status
	}
	cb := c.callbacks.OnStatus
	c.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}
