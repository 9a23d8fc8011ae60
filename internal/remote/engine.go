package remote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/wire"
)

// Defaults for EngineConfig.
const (
	DefaultReconnectInterval = 1000 * time.Millisecond
	DefaultHandshakeRetry    = 500 * time.Millisecond
)

// outboxSize bounds the broadcasts queued for one connection.
const outboxSize = 16

// ConnState is the state of the link to the peer.
type ConnState int32

const (
	Disconnected ConnState = iota
	TransportConnected
	Handshaked
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case TransportConnected:
		return "connected"
	case Handshaked:
		return "handshaked"
	default:
		return "unknown"
	}
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	DeviceID string
	Codec    wire.Codec
	// Battery reports the battery level sent with every frame. nil means 0.
	Battery           func() uint8
	ReconnectInterval time.Duration
	HandshakeRetry    time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// OnStateChange, if set, is called on every connection state transition.
	OnStateChange func(ConnState)
}

// Stats are cumulative engine counters.
type Stats struct {
	Dials            uint64
	Disconnects      uint64
	Handshakes       uint64
	Mismatches       uint64
	CommandsAccepted uint64
	CommandsRejected uint64
	FramesSent       uint64
	Dropped          uint64
}

type counters struct {
	dials, disconnects, handshakes, mismatches atomic.Uint64
	accepted, rejected, sent, dropped          atomic.Uint64
}

// Engine runs the connection state machine. Run owns the connection; the
// only other entry points are NotifyState and the read-only accessors.
type Engine struct {
	cfg       EngineConfig
	transport Transport
	store     *logic.Store

	// mu guards state transitions against NotifyState so nothing is queued
	// for a link that is no longer handshaked.
	mu     sync.Mutex
	state  atomic.Int32
	outbox chan []byte

	stats counters
}

// NewEngine creates an engine. Zero durations in cfg take the defaults.
func NewEngine(cfg EngineConfig, transport Transport, store *logic.Store) *Engine {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.HandshakeRetry <= 0 {
		cfg.HandshakeRetry = DefaultHandshakeRetry
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Battery == nil {
		cfg.Battery = func() uint8 { return 0 }
	}
	return &Engine{
		cfg:       cfg,
		transport: transport,
		store:     store,
		outbox:    make(chan []byte, outboxSize),
	}
}

// State returns the current connection state.
func (e *Engine) State() ConnState {
	return ConnState(e.state.Load())
}

// Handshaked reports whether the peer has acknowledged the welcome.
func (e *Engine) Handshaked() bool {
	return e.State() == Handshaked
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Dials:            e.stats.dials.Load(),
		Disconnects:      e.stats.disconnects.Load(),
		Handshakes:       e.stats.handshakes.Load(),
		Mismatches:       e.stats.mismatches.Load(),
		CommandsAccepted: e.stats.accepted.Load(),
		CommandsRejected: e.stats.rejected.Load(),
		FramesSent:       e.stats.sent.Load(),
		Dropped:          e.stats.dropped.Load(),
	}
}

func (e *Engine) setState(s ConnState) {
	e.mu.Lock()
	prev := ConnState(e.state.Swap(int32(s)))
	if s != Handshaked {
		// Pending broadcasts belong to the link that just ended.
		for len(e.outbox) > 0 {
			<-e.outbox
		}
	}
	e.mu.Unlock()

	if prev != s && e.cfg.OnStateChange != nil {
		e.cfg.OnStateChange(s)
	}
}

// NotifyState queues a state-change broadcast for channel ch. It never
// blocks: while the link is not handshaked, or the outbox is full, the
// frame is dropped and the next handshake brings the peer up to date.
func (e *Engine) NotifyState(ch logic.Channel, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() != Handshaked {
		return
	}
	frame := e.cfg.Codec.EncodeStateChange(ch, on, e.cfg.Battery())
	select {
	case e.outbox <- frame:
	default:
		e.stats.dropped.Add(1)
		log.WithField("channel", ch).Warn("remote outbox full, dropping state change")
	}
}

// Run connects, handshakes and serves the link until ctx is done,
// reconnecting whenever the connection is lost.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(Disconnected)

	for {
		conn, err := e.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := e.serve(ctx, conn); err != nil {
			log.WithField("state", e.State()).Warnf("remote connection lost: %v", err)
		}
		e.stats.disconnects.Add(1)
		e.setState(Disconnected)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.cfg.ReconnectInterval):
		}
	}
}

func (e *Engine) dial(ctx context.Context) (Conn, error) {
	var conn Conn
	op := func() error {
		e.stats.dials.Add(1)
		c, err := e.transport.Dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.WithField("retry_in", next).Debugf("remote dial failed: %v", err)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(e.cfg.ReconnectInterval), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("dial remote: %w", err)
	}
	return conn, nil
}

// serve runs one connection until it fails or ctx is done. It is the only
// writer on conn.
func (e *Engine) serve(ctx context.Context, conn Conn) error {
	defer conn.Close()
	e.setState(TransportConnected)
	log.Info("remote transport connected")

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			m, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- m:
			case <-sctx.Done():
				return
			}
		}
	}()

	sess := &session{}
	var err error
	if sess.welcome, err = e.sendWelcome(conn); err != nil {
		return err
	}

	retry := time.NewTicker(e.cfg.HandshakeRetry)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("read: %w", err)

		case <-retry.C:
			if e.State() == Handshaked {
				continue
			}
			if sess.welcome, err = e.sendWelcome(conn); err != nil {
				return err
			}

		case frame := <-e.outbox:
			f := e.cfg.Codec.Decode(frame)
			if sess.redundant(f) {
				log.WithField("channel", f.Channel).Debug("peer already has this state, skipping broadcast")
				continue
			}
			if err := e.write(conn, Message{Data: frame}); err != nil {
				return err
			}
			sess.record(f)

		case m := <-inbound:
			if err := e.handle(conn, m, sess); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) sendWelcome(conn Conn) ([]bool, error) {
	states := e.store.AppliedStates()
	frame := e.cfg.Codec.EncodeWelcome(e.cfg.DeviceID, e.cfg.Battery(), states...)
	if err := e.write(conn, Message{Data: frame}); err != nil {
		return nil, err
	}
	log.WithField("device_id", e.cfg.DeviceID).Debug("sent welcome")
	return states, nil
}

func (e *Engine) write(conn Conn, m Message) error {
	if err := conn.WriteMessage(m); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	e.stats.sent.Add(1)
	return nil
}

func (e *Engine) handle(conn Conn, m Message, sess *session) error {
	if m.Text {
		if e.State() == Handshaked {
			return nil
		}
		if string(m.Data) != e.cfg.DeviceID {
			e.stats.mismatches.Add(1)
			log.WithFields(log.Fields{
				"device_id": e.cfg.DeviceID,
				"received":  string(m.Data),
			}).Warn("remote handshake mismatch")
			return nil
		}
		return e.completeHandshake(conn, sess)
	}

	if e.State() != Handshaked {
		log.Debugf("discarding %d byte frame before handshake", len(m.Data))
		return nil
	}

	f := e.cfg.Codec.Decode(m.Data)
	if f.Kind != wire.KindCommand {
		log.WithField("kind", f.Kind).Debugf("discarding inbound frame % x", m.Data)
		return nil
	}

	if e.store.RequestChange(f.Channel, f.State, e.cfg.Now(), logic.SourceRemote) {
		e.stats.accepted.Add(1)
		log.WithFields(log.Fields{
			"channel": f.Channel,
			"state":   logic.StateOf(f.State),
		}).Info("remote command accepted")
	} else {
		e.stats.rejected.Add(1)
	}
	return nil
}

// completeHandshake marks the link handshaked and sends a state-change frame
// for every channel the peer cannot know about: all of them when the welcome
// carries no state, otherwise those that changed after the welcome was sent.
// Broadcasts already queued for a state the catch-up covers are skipped by
// serve.
func (e *Engine) completeHandshake(conn Conn, sess *session) error {
	e.setState(Handshaked)
	e.stats.handshakes.Add(1)
	log.WithField("device_id", e.cfg.DeviceID).Info("remote handshake complete")

	if e.cfg.Codec.Layout.WelcomeCarriesState() {
		for i, on := range sess.welcome {
			sess.set(logic.Channel(i), on)
		}
	}

	applied := e.store.AppliedStates()
	for i, on := range applied {
		ch := logic.Channel(i)
		if sess.knows(ch, on) {
			continue
		}
		frame := e.cfg.Codec.EncodeStateChange(ch, on, e.cfg.Battery())
		if err := e.write(conn, Message{Data: frame}); err != nil {
			return err
		}
		sess.set(ch, on)
	}
	return nil
}

// session tracks what the peer of one connection has been told.
type session struct {
	welcome []bool
	known   [logic.NumChannels]bool
	peer    [logic.NumChannels]bool
}

func (s *session) set(ch logic.Channel, on bool) {
	if !ch.Valid() {
		return
	}
	s.known[ch] = true
	s.peer[ch] = on
}

func (s *session) knows(ch logic.Channel, on bool) bool {
	return ch.Valid() && s.known[ch] && s.peer[ch] == on
}

// redundant reports whether f would tell the peer a state it already has.
func (s *session) redundant(f wire.Frame) bool {
	return f.Kind == wire.KindStateChange && s.knows(f.Channel, f.State)
}

func (s *session) record(f wire.Frame) {
	if f.Kind == wire.KindStateChange {
		s.set(f.Channel, f.State)
	}
}
