package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/switch-bot/internal/actuation"
	"github.com/sweeney/switch-bot/internal/config"
	"github.com/sweeney/switch-bot/internal/gpio"
	"github.com/sweeney/switch-bot/internal/ir"
	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/metrics"
	"github.com/sweeney/switch-bot/internal/mqtt"
	"github.com/sweeney/switch-bot/internal/remote"
	"github.com/sweeney/switch-bot/internal/servo"
	"github.com/sweeney/switch-bot/internal/settings"
	"github.com/sweeney/switch-bot/internal/status"
	"github.com/sweeney/switch-bot/internal/touch"
	"github.com/sweeney/switch-bot/internal/web"
)

// statusInterval is how often the status tracker is refreshed and the
// heartbeat checked.
const statusInterval = time.Second

const eventQueueSize = 64

var errSignal = errors.New("signal received")

// hardware is everything the daemon talks to outside the process. Nil
// members disable the corresponding feature.
type hardware struct {
	settings  settings.Store
	driver    servo.Driver
	sensor    gpio.Sensor
	transport remote.Transport
	irSource  ir.Source
}

type daemon struct {
	cfg   *config.Config
	store *logic.Store
	hw    hardware
	now   func() time.Time

	scheduler *actuation.Scheduler
	poller    *touch.Poller
	engine    *remote.Engine
	irProd    *ir.Producer
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	web       *web.Server
	heartbeat *logic.Heartbeat

	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus

	events chan logic.Event
}

// newDaemon wires the components for cfg. The store must already hold the
// persisted states.
func newDaemon(cfg *config.Config, store *logic.Store, hw hardware, now func() time.Time) *daemon {
	if now == nil {
		now = time.Now
	}
	d := &daemon{
		cfg:       cfg,
		store:     store,
		hw:        hw,
		now:       now,
		heartbeat: logic.NewHeartbeat(now()),
		events:    make(chan logic.Event, eventQueueSize),
	}

	var notifier actuation.Notifier
	if hw.transport != nil {
		ec := cfg.Engine()
		ec.Now = now
		ec.OnStateChange = d.onRemoteState
		d.engine = remote.NewEngine(ec, hw.transport, store)
		notifier = d.engine
	}
	d.scheduler = actuation.New(store, hw.driver, cfg.ChannelProfiles(), notifier)

	if hw.sensor != nil {
		d.poller = touch.NewPoller(hw.sensor, store, cfg.TouchPoller(), now)
	}
	if hw.irSource != nil {
		d.irProd = ir.NewProducer(hw.irSource, store, cfg.IR.Address, now)
	}

	var stats func() remote.Stats
	if d.engine != nil {
		stats = d.engine.Stats
	}
	d.metrics = metrics.New(store, stats)
	d.tracker = status.NewTracker(now(), statusConfig(cfg))
	d.tracker.Refresh(store)
	if n := readNetworkInfo(); n != nil {
		d.tracker.SetNetwork(n)
	}
	if cfg.HTTP.Addr != "" {
		d.web = web.New(cfg.HTTP.Addr, d.tracker, d.metrics.Registry)
	}
	return d
}

func statusConfig(cfg *config.Config) status.Config {
	sc := status.Config{
		DeviceID:    cfg.DeviceID,
		Revision:    cfg.Revision,
		FrameLayout: cfg.Layout().String(),
		RemoteURL:   cfg.Remote.URL,
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.TopicPrefix(),
		HTTPAddr:    cfg.HTTP.Addr,
		WSBroker:    cfg.MQTT.WSBroker,
		HeartbeatMs: cfg.MQTT.HeartbeatMs,
		DwellMs:     cfg.Actuator.DwellMs,
		TickMs:      cfg.Actuator.TickMs,
		PollMs:      cfg.Touch.PollMs,
		IRDevice:    cfg.IR.Device,
	}
	for i, r := range cfg.RearmIntervals() {
		if i < len(sc.RearmMs) {
			sc.RearmMs[i] = r.Milliseconds()
		}
	}
	return sc
}

// setPublisher attaches the MQTT publisher. cs may be nil.
func (d *daemon) setPublisher(p mqtt.Publisher, cs mqtt.ConnectionStatus) {
	d.publisher = p
	d.mqttStatus = cs
}

// enqueue is the scheduler's sink. Reporting happens on its own goroutine
// so a slow broker or disk never delays a servo release.
func (d *daemon) enqueue(e logic.Event) {
	select {
	case d.events <- e:
	default:
		log.WithField("channel", e.Channel).Warnf("event queue full, dropping %s event", e.Type)
	}
}

func (d *daemon) report(ctx context.Context) error {
	for {
		select {
		case e := <-d.events:
			d.handleEvent(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-d.events:
					d.handleEvent(e)
				default:
					return nil
				}
			}
		}
	}
}

// handleEvent persists applied states and reports every transition.
func (d *daemon) handleEvent(e logic.Event) {
	fields := log.Fields{"channel": e.Channel, "state": e.State, "source": e.Source}
	d.metrics.ObserveEvent(e)

	if e.Type == logic.EventApplied {
		log.WithFields(fields).Debug("reporting applied state")
		if err := settings.SaveState(d.hw.settings, e.Channel, e.State == logic.StateOn); err != nil {
			log.WithFields(fields).Warnf("persist state: %v", err)
		}
	} else {
		log.WithFields(fields).Debug("servo released")
	}

	if d.publisher != nil {
		if err := d.publisher.Publish(e); err != nil {
			log.Warnf("publish error: %v", err)
		}
	}
	d.tracker.Refresh(d.store)
}

// handleCommand applies a command received over MQTT.
func (d *daemon) handleCommand(ch logic.Channel, on bool) {
	fields := log.Fields{"channel": ch, "state": logic.StateOf(on)}
	if !d.store.RequestChange(ch, on, d.now(), logic.SourceMQTT) {
		log.WithFields(fields).Debug("mqtt command rejected")
		return
	}
	log.WithFields(fields).Info("mqtt command")
}

func (d *daemon) onRemoteState(s remote.ConnState) {
	log.WithField("state", s).Info("remote link")
	d.metrics.SetRemoteState(s)
	d.tracker.SetRemote(s, d.engine.Stats())
}

func (d *daemon) setMQTTConnected(up bool) {
	d.metrics.SetMQTTConnected(up)
	d.tracker.SetMQTTConnected(up)
}

func (d *daemon) publishSystem(event, reason string, retained bool) {
	if d.publisher == nil {
		return
	}
	if d.mqttStatus != nil {
		d.setMQTTConnected(d.mqttStatus.IsConnected())
	}
	d.tracker.Refresh(d.store)
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		log.Warnf("failed to publish %s event: %v", event, err)
		return
	}
	log.Debugf("published %s event", event)
}

// refresh updates the status tracker and sends a heartbeat when due.
func (d *daemon) refresh(now time.Time) {
	d.tracker.Refresh(d.store)
	if d.engine != nil {
		d.tracker.SetRemote(d.engine.State(), d.engine.Stats())
	}
	if d.mqttStatus != nil {
		d.setMQTTConnected(d.mqttStatus.IsConnected())
	}

	hb := d.heartbeat.Check(now, d.cfg.Heartbeat(), d.store.Counts())
	if hb == nil {
		return
	}
	counts := hb.Counts
	log.WithFields(log.Fields{
		"uptime":   hb.Uptime.Truncate(time.Second),
		"up_on":    counts[logic.ChannelUp].On,
		"up_off":   counts[logic.ChannelUp].Off,
		"down_on":  counts[logic.ChannelDown].On,
		"down_off": counts[logic.ChannelDown].Off,
	}).Info("heartbeat")
	if n := readNetworkInfo(); n != nil {
		d.tracker.SetNetwork(n)
	}
	d.publishSystem("HEARTBEAT", "", false)
}

func (d *daemon) statusLoop(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			d.refresh(d.now())
		}
	}
}

func (d *daemon) runTouch(ctx context.Context) error {
	b, err := d.poller.Calibrate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	d.tracker.SetBaselines(b)
	d.metrics.SetBaselines(b)
	return d.poller.Run(ctx)
}

func (d *daemon) runIR(ctx context.Context) error {
	// A failing receiver only disables IR.
	if err := d.irProd.Run(ctx); err != nil {
		log.Errorf("ir receiver stopped: %v", err)
	}
	return nil
}

func (d *daemon) serveHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.web.Shutdown(shutdownCtx)
	}()
	log.Infof("http status server listening on %s", d.cfg.HTTP.Addr)
	if err := d.web.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("http server error: %v", err)
	}
	return nil
}

// run starts every component and blocks until a signal arrives, ctx is
// done or a component fails. tick drives the status refresh.
func (d *daemon) run(ctx context.Context, sig <-chan os.Signal, tick <-chan time.Time) error {
	d.publishSystem("STARTUP", "", true)
	log.WithFields(log.Fields{
		"device_id": d.cfg.DeviceID,
		"revision":  d.cfg.Revision,
		"remote":    d.cfg.Remote.URL,
		"broker":    d.cfg.MQTT.Broker,
	}).Info("started")

	reason := "UNKNOWN"
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case s := <-sig:
			log.Infof("received %v, shutting down", s)
			reason = signalName(s)
			return errSignal
		case <-ctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		return d.scheduler.Run(ctx, d.cfg.Tick(), d.now, d.enqueue)
	})
	g.Go(func() error { return d.report(ctx) })
	g.Go(func() error { return d.statusLoop(ctx, tick) })
	if d.poller != nil {
		g.Go(func() error { return d.runTouch(ctx) })
	}
	if d.engine != nil {
		g.Go(func() error { return d.engine.Run(ctx) })
	}
	if d.irProd != nil {
		g.Go(func() error { return d.runIR(ctx) })
	}
	if d.web != nil {
		g.Go(func() error { return d.serveHTTP(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, errSignal) {
		err = nil
	} else if err != nil {
		reason = "ERROR"
	}
	d.publishSystem("SHUTDOWN", reason, true)
	return err
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
