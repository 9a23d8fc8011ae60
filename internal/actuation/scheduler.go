// Package actuation turns desired switch states into physical pulses.
//
// The actuators are momentary-contact: "on" means push for a fixed dwell and
// release, not hold a position. Each channel has at most one pulse in flight;
// a change that arrives mid-pulse waits until the pulse has been released.
package actuation

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/servo"
)

// DefaultDwell is how long a servo holds its pushed position.
const DefaultDwell = 300 * time.Millisecond

// DefaultTick is the scheduler polling period.
const DefaultTick = 10 * time.Millisecond

// Notifier is told about every applied state change. The remote sync
// engine implements it and decides itself whether a broadcast is possible.
type Notifier interface {
	NotifyState(ch logic.Channel, on bool)
}

// ChannelProfile holds the per-channel actuation parameters.
type ChannelProfile struct {
	OnAngle  uint8
	OffAngle uint8
	Dwell    time.Duration
}

// Angle returns the servo angle that pushes the switch to state on.
func (p ChannelProfile) Angle(on bool) uint8 {
	if on {
		return p.OnAngle
	}
	return p.OffAngle
}

type pulse struct {
	inFlight bool
	started  time.Time
}

// Scheduler realizes the store's desired states on the servos.
// Tick must only be called from one goroutine.
type Scheduler struct {
	store    *logic.Store
	driver   servo.Driver
	profiles [logic.NumChannels]ChannelProfile
	pulses   [logic.NumChannels]pulse
	notifier Notifier
}

// New creates a scheduler. notifier may be nil.
func New(store *logic.Store, driver servo.Driver, profiles []ChannelProfile, notifier Notifier) *Scheduler {
	s := &Scheduler{
		store:    store,
		driver:   driver,
		notifier: notifier,
	}
	for i := range s.profiles {
		p := ChannelProfile{Dwell: DefaultDwell}
		if i < len(profiles) {
			p = profiles[i]
		}
		if p.Dwell <= 0 {
			p.Dwell = DefaultDwell
		}
		s.profiles[i] = p
	}
	return s
}

// Tick runs one scheduler iteration at now and returns the transitions it
// performed. Per channel, an expired pulse is released first; then, if the
// desired state differs from the applied one and nothing is in flight, a
// new pulse starts.
func (s *Scheduler) Tick(now time.Time) []logic.Event {
	var events []logic.Event
	for i := range s.pulses {
		ch := logic.Channel(i)
		if e, ok := s.release(ch, now); ok {
			events = append(events, e)
		}
		if e, ok := s.apply(ch, now); ok {
			events = append(events, e)
		}
	}
	return events
}

func (s *Scheduler) release(ch logic.Channel, now time.Time) (logic.Event, bool) {
	p := &s.pulses[ch]
	if !p.inFlight || now.Sub(p.started) < s.profiles[ch].Dwell {
		return logic.Event{}, false
	}

	if err := s.driver.TurnOff(ch); err != nil {
		log.WithField("channel", ch).Errorf("servo release failed: %v", err)
	}
	p.inFlight = false

	return logic.Event{
		Timestamp: now,
		Type:      logic.EventReleased,
		Channel:   ch,
		State:     logic.StateOf(s.store.Applied(ch)),
		Source:    s.store.Snapshot(ch).Source,
	}, true
}

func (s *Scheduler) apply(ch logic.Channel, now time.Time) (logic.Event, bool) {
	p := &s.pulses[ch]
	if p.inFlight {
		return logic.Event{}, false
	}
	rec := s.store.Snapshot(ch)
	if rec.Desired == rec.Applied {
		return logic.Event{}, false
	}

	angle := s.profiles[ch].Angle(rec.Desired)
	if err := s.driver.SetAngle(ch, angle); err != nil {
		// Nothing is committed; the next tick tries again.
		log.WithFields(log.Fields{
			"channel": ch,
			"angle":   angle,
		}).Errorf("servo push failed: %v", err)
		return logic.Event{}, false
	}

	s.store.Commit(ch, rec.Desired)
	p.inFlight = true
	p.started = now

	log.WithFields(log.Fields{
		"channel": ch,
		"state":   logic.StateOf(rec.Desired),
		"angle":   angle,
		"source":  rec.Source,
	}).Info("switch state applied")

	if s.notifier != nil {
		s.notifier.NotifyState(ch, rec.Desired)
	}

	return logic.Event{
		Timestamp: now,
		Type:      logic.EventApplied,
		Channel:   ch,
		State:     logic.StateOf(rec.Desired),
		Source:    rec.Source,
	}, true
}

// InFlight reports whether channel ch has a pulse in flight.
// Like Tick, it must be called from the scheduler goroutine.
func (s *Scheduler) InFlight(ch logic.Channel) bool {
	if !ch.Valid() {
		return false
	}
	return s.pulses[ch].inFlight
}

// ReleaseAll turns every servo off and clears in-flight pulses.
func (s *Scheduler) ReleaseAll() {
	for i := range s.pulses {
		ch := logic.Channel(i)
		if err := s.driver.TurnOff(ch); err != nil {
			log.WithField("channel", ch).Warnf("servo release on shutdown failed: %v", err)
		}
		s.pulses[i].inFlight = false
	}
}

// Run ticks every period until ctx is done, handing each event to sink.
// On return every servo has been released.
func (s *Scheduler) Run(ctx context.Context, period time.Duration, now func() time.Time, sink func(logic.Event)) error {
	if period <= 0 {
		period = DefaultTick
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer s.ReleaseAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, e := range s.Tick(now()) {
				if sink != nil {
					sink(e)
				}
			}
		}
	}
}
