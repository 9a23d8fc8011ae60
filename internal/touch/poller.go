// Package touch turns raw capacitive pad readings into switch toggles.
package touch

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/switch-bot/internal/gpio"
	"github.com/sweeney/switch-bot/internal/logic"
)

// Defaults for the touch loop.
const (
	DefaultCalibrationWindow   = 500 * time.Millisecond
	DefaultCalibrationAttempts = 3
	DefaultPollInterval        = 10 * time.Millisecond
)

// calibrationPause spaces calibration samples.
const calibrationPause = time.Millisecond

// Config configures a Poller.
type Config struct {
	// Pins holds the touch pad pin of each channel.
	Pins                [logic.NumChannels]int
	CalibrationWindow   time.Duration
	CalibrationAttempts int
	Margin              int
	PollInterval        time.Duration
}

func (c Config) withDefaults() Config {
	if c.CalibrationWindow <= 0 {
		c.CalibrationWindow = DefaultCalibrationWindow
	}
	if c.CalibrationAttempts <= 0 {
		c.CalibrationAttempts = DefaultCalibrationAttempts
	}
	if c.Margin <= 0 {
		c.Margin = logic.DefaultTouchMargin
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Poller calibrates the touch pads and toggles channels on touches.
type Poller struct {
	sensor gpio.Sensor
	store  *logic.Store
	cfg    Config
	now    func() time.Time

	baselines  [logic.NumChannels]logic.Baseline
	detectors  [logic.NumChannels]*logic.EdgeDetector
	calibrated bool
}

// NewPoller creates a poller. now defaults to time.Now.
func NewPoller(sensor gpio.Sensor, store *logic.Store, cfg Config, now func() time.Time) *Poller {
	if now == nil {
		now = time.Now
	}
	return &Poller{
		sensor: sensor,
		store:  store,
		cfg:    cfg.withDefaults(),
		now:    now,
	}
}

// Calibrate samples every pad for the calibration window and derives the
// trigger thresholds. Channels whose baseline is degenerate are sampled
// again, up to the configured number of attempts; after that the degenerate
// baseline is kept and a warning is logged.
func (p *Poller) Calibrate(ctx context.Context) ([logic.NumChannels]logic.Baseline, error) {
	var pending []logic.Channel
	for c := logic.Channel(0); c < logic.NumChannels; c++ {
		pending = append(pending, c)
	}

	for attempt := 1; attempt <= p.cfg.CalibrationAttempts && len(pending) > 0; attempt++ {
		results, err := p.sample(ctx, pending)
		if err != nil {
			return p.baselines, err
		}

		var retry []logic.Channel
		for i, c := range pending {
			b := results[i]
			p.baselines[c] = b
			fields := log.Fields{
				"channel":   c,
				"mean":      b.Mean,
				"threshold": b.Threshold,
				"samples":   b.Samples,
				"attempt":   attempt,
			}
			if b.Degenerate {
				retry = append(retry, c)
				log.WithFields(fields).Warn("touch calibration degenerate")
				continue
			}
			log.WithFields(fields).Info("touch calibrated")
		}
		pending = retry
	}

	for _, c := range pending {
		log.WithField("channel", c).Warnf("touch pad still degenerate after %d attempts, continuing", p.cfg.CalibrationAttempts)
	}

	for c := range p.detectors {
		p.detectors[c] = logic.NewEdgeDetector(p.baselines[c])
	}
	p.calibrated = true
	return p.baselines, nil
}

func (p *Poller) sample(ctx context.Context, channels []logic.Channel) ([]logic.Baseline, error) {
	cals := make([]logic.Calibration, len(channels))
	deadline := p.now().Add(p.cfg.CalibrationWindow)

	for p.now().Before(deadline) {
		for i, c := range channels {
			v, err := p.sensor.RawReading(p.cfg.Pins[c])
			if err != nil {
				log.WithField("channel", c).Debugf("calibration read failed: %v", err)
				continue
			}
			cals[i].Add(v)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("calibration interrupted: %w", ctx.Err())
		case <-time.After(calibrationPause):
		}
	}

	out := make([]logic.Baseline, len(channels))
	for i := range cals {
		out[i] = cals[i].Baseline(p.cfg.Margin)
	}
	return out, nil
}

// Baselines returns the calibration results.
func (p *Poller) Baselines() [logic.NumChannels]logic.Baseline {
	return p.baselines
}

// Poll reads every pad once at now and toggles the channels that saw a new
// touch. It returns the channels whose toggle was accepted.
func (p *Poller) Poll(now time.Time) []logic.Channel {
	if !p.calibrated {
		return nil
	}
	var toggled []logic.Channel
	for c := logic.Channel(0); c < logic.NumChannels; c++ {
		v, err := p.sensor.RawReading(p.cfg.Pins[c])
		if err != nil {
			log.WithField("channel", c).Warnf("touch read error: %v", err)
			continue
		}
		if !p.detectors[c].Poll(v) {
			continue
		}

		target, ok := p.store.Toggle(c, now, logic.SourceTouch)
		fields := log.Fields{"channel": c, "reading": v, "target": logic.StateOf(target)}
		if !ok {
			log.WithFields(fields).Debug("touch ignored within rearm interval")
			continue
		}
		log.WithFields(fields).Info("touch")
		toggled = append(toggled, c)
	}
	return toggled
}

// Run calibrates if needed, then polls every poll interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if !p.calibrated {
		if _, err := p.Calibrate(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(p.now())
		}
	}
}
