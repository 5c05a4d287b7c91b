package scheduler

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// ErrNoRiders is returned when the roster is empty; no order may be created.
var ErrNoRiders = errors.New("no riders configured")

// Scheduling constants. Prep scales with order size, travel and cooldown
// carry bounded random jitter so consecutive ETAs do not look mechanical.
const (
	BasePrepTime        = 10 * time.Minute
	PerItemPrepTime     = 3 * time.Minute
	BaseTravelTime      = 15 * time.Minute
	MaxRandomTravelTime = 10 * time.Minute
	BaseCooldownTime    = 5 * time.Minute
	RandomCooldownRange = 5 * time.Minute
)

// Assignment is the result of scheduling one order onto the fleet.
type Assignment struct {
	Rider            entities.Rider
	ExpectedDelivery time.Time
}

// RiderScheduler owns the process-lifetime availability table mapping rider
// identity to the instant that rider becomes free again. It is the table's
// only writer; each assignment is one atomic read-modify-write under the
// mutex. The table is deliberately not persisted: a fresh process starts
// with every rider available immediately.
type RiderScheduler struct {
	mu          sync.Mutex
	availableAt map[string]time.Time

	now    func() time.Time
	random func() float64
	logger *zap.Logger
}

// NewRiderScheduler creates a scheduler with the wall clock and the default
// random source.
func NewRiderScheduler(logger *zap.Logger) *RiderScheduler {
	return &RiderScheduler{
		availableAt: make(map[string]time.Time),
		now:         time.Now,
		random:      rand.Float64,
		logger:      logger,
	}
}

// WithClock overrides the clock source. Test hook.
func (s *RiderScheduler) WithClock(now func() time.Time) *RiderScheduler {
	s.now = now
	return s
}

// WithRandom overrides the jitter source. Test hook; the function must
// return values in [0, 1).
func (s *RiderScheduler) WithRandom(random func() float64) *RiderScheduler {
	s.random = random
	return s
}

// Assign picks the rider who frees up earliest (ties broken by roster
// order), computes the order's expected delivery time from prep, rider
// availability and travel, and marks the rider busy until after a
// post-delivery cooldown.
func (s *RiderScheduler) Assign(roster []entities.Rider, itemCount int) (Assignment, error) {
	if len(roster) == 0 {
		s.logger.Error("Cannot assign rider: roster is empty")
		return Assignment{}, ErrNoRiders
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	selected := roster[0]
	selectedAvailable := s.availabilityLocked(selected, now)
	for _, rider := range roster[1:] {
		if available := s.availabilityLocked(rider, now); available.Before(selectedAvailable) {
			selected = rider
			selectedAvailable = available
		}
	}

	effectiveAvailable := selectedAvailable
	if effectiveAvailable.Before(now) {
		effectiveAvailable = now
	}

	prep := BasePrepTime + time.Duration(itemCount)*PerItemPrepTime
	deliveryStart := now.Add(prep)
	if deliveryStart.Before(effectiveAvailable) {
		deliveryStart = effectiveAvailable
	}

	travel := BaseTravelTime + jitter(s.random(), MaxRandomTravelTime)
	expectedDelivery := deliveryStart.Add(travel)

	cooldown := BaseCooldownTime + jitter(s.random(), RandomCooldownRange)
	s.availableAt[selected.Key()] = expectedDelivery.Add(cooldown)

	s.logger.Info("Rider assigned",
		zap.String("rider", selected.Name),
		zap.Int("item_count", itemCount),
		zap.Time("expected_delivery", expectedDelivery),
		zap.Time("next_available", s.availableAt[selected.Key()]))

	return Assignment{Rider: selected, ExpectedDelivery: expectedDelivery}, nil
}

// AvailableAt reports when a rider frees up, defaulting to now for riders
// never assigned before.
func (s *RiderScheduler) AvailableAt(rider entities.Rider) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availabilityLocked(rider, s.now())
}

func (s *RiderScheduler) availabilityLocked(rider entities.Rider, now time.Time) time.Time {
	if at, ok := s.availableAt[rider.Key()]; ok {
		return at
	}
	return now
}

func jitter(random float64, max time.Duration) time.Duration {
	return time.Duration(random * float64(max))
}
