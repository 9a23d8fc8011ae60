package remote

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/wire"
)

const testDeviceID = "switch-test-1"

func testConfig(layout wire.Layout) EngineConfig {
	return EngineConfig{
		DeviceID:          testDeviceID,
		Codec:             wire.New(layout),
		ReconnectInterval: 5 * time.Millisecond,
		HandshakeRetry:    10 * time.Millisecond,
	}
}

// startEngine runs e until the test ends.
func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func nextConn(t *testing.T, tr *FakeTransport) *FakeConn {
	t.Helper()
	select {
	case c := <-tr.Conns():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func nextSent(t *testing.T, c *FakeConn) Message {
	t.Helper()
	select {
	case m := <-c.Sent():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return Message{}
	}
}

// nextNonWelcome skips handshake retries and returns the next other frame.
func nextNonWelcome(t *testing.T, c *FakeConn, codec wire.Codec) Message {
	t.Helper()
	for {
		m := nextSent(t, c)
		if codec.Decode(m.Data).Kind != wire.KindWelcome {
			return m
		}
	}
}

func handshake(t *testing.T, e *Engine, c *FakeConn) {
	t.Helper()
	if !c.Deliver(Message{Text: true, Data: []byte(testDeviceID)}) {
		t.Fatal("connection closed before handshake")
	}
	waitFor(t, "handshake", e.Handshaked)
}

func TestConnStateString(t *testing.T) {
	tests := map[ConnState]string{
		Disconnected:       "disconnected",
		TransportConnected: "connected",
		Handshaked:         "handshaked",
		ConnState(9):       "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("ConnState(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestWelcomeThenHandshake(t *testing.T) {
	store := logic.NewStore(nil, []bool{false, true})
	tr := NewFakeTransport()
	cfg := testConfig(wire.LayoutCurrent)
	cfg.Battery = func() uint8 { return 7 }
	e := NewEngine(cfg, tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)
	m := nextSent(t, c)
	if m.Text {
		t.Fatal("welcome must be binary")
	}
	f := cfg.Codec.Decode(m.Data)
	if f.Kind != wire.KindWelcome || f.DeviceID != testDeviceID || f.Battery != 7 {
		t.Fatalf("unexpected welcome %+v", f)
	}
	if f.States[logic.ChannelUp] || !f.States[logic.ChannelDown] {
		t.Errorf("welcome should carry applied states, got %v", f.States)
	}
	if e.State() != TransportConnected {
		t.Errorf("state before echo: got %s", e.State())
	}

	handshake(t, e, c)
	if e.Stats().Handshakes != 1 {
		t.Errorf("expected one handshake, got %d", e.Stats().Handshakes)
	}
}

func TestHandshakeConvergesAfterDroppedWelcomes(t *testing.T) {
	store := logic.NewStore(nil, nil)
	tr := NewFakeTransport()
	cfg := testConfig(wire.LayoutCurrent)
	e := NewEngine(cfg, tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)

	// The peer loses the first three welcomes and answers the fourth.
	welcomes := 0
	for welcomes < 4 {
		m := nextSent(t, c)
		if cfg.Codec.Decode(m.Data).Kind == wire.KindWelcome {
			welcomes++
		}
		if e.Handshaked() {
			t.Fatal("handshaked without an echo")
		}
	}
	handshake(t, e, c)

	// Once handshaked the engine stops re-sending welcomes.
	n := len(c.Written())
	time.Sleep(50 * time.Millisecond)
	if len(c.Written()) != n {
		t.Errorf("welcome re-sent after handshake: %d -> %d writes", n, len(c.Written()))
	}
}

func TestHandshakeMismatch(t *testing.T) {
	tr := NewFakeTransport()
	e := NewEngine(testConfig(wire.LayoutCurrent), tr, logic.NewStore(nil, nil))
	startEngine(t, e)

	c := nextConn(t, tr)
	nextSent(t, c)
	c.Deliver(Message{Text: true, Data: []byte("someone-else")})
	waitFor(t, "mismatch", func() bool { return e.Stats().Mismatches == 1 })

	if e.State() != TransportConnected {
		t.Errorf("mismatch must not change state, got %s", e.State())
	}
	// The correct echo still completes the handshake afterwards.
	handshake(t, e, c)
}

func TestCommandBeforeHandshakeDiscarded(t *testing.T) {
	store := logic.NewStore(nil, nil)
	tr := NewFakeTransport()
	e := NewEngine(testConfig(wire.LayoutCurrent), tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)
	c.Deliver(Message{Data: []byte{0x11}})
	handshake(t, e, c)

	if store.Desired(logic.ChannelUp) {
		t.Error("command before handshake must be discarded")
	}
	if s := e.Stats(); s.CommandsAccepted != 0 || s.CommandsRejected != 0 {
		t.Errorf("unexpected command counters %+v", s)
	}
}

func TestCommandAccepted(t *testing.T) {
	store := logic.NewStore(nil, nil)
	tr := NewFakeTransport()
	e := NewEngine(testConfig(wire.LayoutCurrent), tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)
	handshake(t, e, c)

	c.Deliver(Message{Data: []byte{0x21}})
	waitFor(t, "command", func() bool { return e.Stats().CommandsAccepted == 1 })

	rec := store.Snapshot(logic.ChannelDown)
	if !rec.Desired || rec.Source != logic.SourceRemote {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Applied {
		t.Error("the engine must never touch the applied state")
	}
}

func TestCommandWithinRearmRejected(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := logic.NewStore(nil, nil)
	store.RequestChange(logic.ChannelUp, true, t0, logic.SourceTouch)

	tr := NewFakeTransport()
	cfg := testConfig(wire.LayoutCurrent)
	cfg.Now = func() time.Time { return t0.Add(100 * time.Millisecond) }
	e := NewEngine(cfg, tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)
	handshake(t, e, c)

	c.Deliver(Message{Data: []byte{0x10}})
	waitFor(t, "rejection", func() bool { return e.Stats().CommandsRejected == 1 })

	if !store.Desired(logic.ChannelUp) {
		t.Error("command within rearm interval must not change desired state")
	}
}

func TestMalformedFramesIgnored(t *testing.T) {
	store := logic.NewStore(nil, nil)
	tr := NewFakeTransport()
	e := NewEngine(testConfig(wire.LayoutCurrent), tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)
	handshake(t, e, c)

	for _, b := range [][]byte{{}, {0x30}, {0x7F, 0x01}, {0x03, 0xC0}} {
		c.Deliver(Message{Data: b})
	}
	c.Deliver(Message{Data: []byte{0x11}})
	waitFor(t, "valid command", func() bool { return e.Stats().CommandsAccepted == 1 })

	if store.Desired(logic.ChannelDown) {
		t.Error("malformed frames must not change state")
	}
	if e.State() != Handshaked {
		t.Errorf("malformed frames must not affect the link, got %s", e.State())
	}
}

func TestNotifyStateOnlyWhenHandshaked(t *testing.T) {
	store := logic.NewStore(nil, nil)
	tr := NewFakeTransport()
	cfg := testConfig(wire.LayoutCurrent)
	cfg.Battery = func() uint8 { return 3 }
	e := NewEngine(cfg, tr, store)

	e.NotifyState(logic.ChannelUp, true) // not even connected
	startEngine(t, e)

	c := nextConn(t, tr)
	nextSent(t, c)
	e.NotifyState(logic.ChannelUp, true) // connected, not handshaked
	handshake(t, e, c)

	e.NotifyState(logic.ChannelDown, true)
	m := nextNonWelcome(t, c, cfg.Codec)
	if want := []byte{0x03, 0x53}; !bytes.Equal(m.Data, want) {
		t.Errorf("broadcast: got % x, want % x", m.Data, want)
	}

	for _, w := range c.Written() {
		if f := cfg.Codec.Decode(w.Data); f.Kind == wire.KindStateChange && f.Channel == logic.ChannelUp {
			t.Errorf("notification before handshake was sent: % x", w.Data)
		}
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	store := logic.NewStore(nil, nil)
	tr := NewFakeTransport()
	var mu sync.Mutex
	var states []ConnState
	cfg := testConfig(wire.LayoutCurrent)
	cfg.OnStateChange = func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	e := NewEngine(cfg, tr, store)
	startEngine(t, e)

	c1 := nextConn(t, tr)
	handshake(t, e, c1)

	c1.Close()
	c2 := nextConn(t, tr)
	if f := cfg.Codec.Decode(nextSent(t, c2).Data); f.Kind != wire.KindWelcome {
		t.Fatalf("new connection must start with a welcome, got %+v", f)
	}
	if e.Handshaked() {
		t.Error("a new connection must handshake again")
	}
	handshake(t, e, c2)

	if s := e.Stats(); s.Disconnects != 1 || s.Handshakes != 2 {
		t.Errorf("unexpected stats %+v", s)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []ConnState{TransportConnected, Handshaked, Disconnected, TransportConnected, Handshaked}
	if len(states) != len(want) {
		t.Fatalf("transitions: got %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, states[i], want[i])
		}
	}
}

func TestWriteErrorDisconnects(t *testing.T) {
	tr := NewFakeTransport()
	e := NewEngine(testConfig(wire.LayoutCurrent), tr, logic.NewStore(nil, nil))
	startEngine(t, e)

	c1 := nextConn(t, tr)
	handshake(t, e, c1)

	c1.SetWriteError(errors.New("broken pipe"))
	e.NotifyState(logic.ChannelUp, true)

	nextConn(t, tr)
	if !c1.Closed() {
		t.Error("failed connection should be closed")
	}
}

func TestDialRetriesForever(t *testing.T) {
	tr := NewFakeTransport()
	tr.FailDials(5, errors.New("connection refused"))
	e := NewEngine(testConfig(wire.LayoutCurrent), tr, logic.NewStore(nil, nil))
	startEngine(t, e)

	nextConn(t, tr)
	if tr.Dials() != 6 {
		t.Errorf("expected 6 dials, got %d", tr.Dials())
	}
	// Failed dials count as attempts too.
	if n := e.Stats().Dials; n != 6 {
		t.Errorf("expected 6 dial attempts in stats, got %d", n)
	}
}

func TestLegacyLayoutSendsStatesAfterHandshake(t *testing.T) {
	store := logic.NewStore(nil, []bool{true, false})
	tr := NewFakeTransport()
	cfg := testConfig(wire.LayoutLegacy)
	e := NewEngine(cfg, tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)
	if want := append([]byte{0x02, 0x01, 0x00}, testDeviceID...); !bytes.Equal(nextSent(t, c).Data, want) {
		t.Fatal("unexpected legacy welcome")
	}
	handshake(t, e, c)

	want := [][]byte{
		{0x02, 0x03, 0x10},
		{0x02, 0x03, 0x40},
	}
	for i, w := range want {
		m := nextNonWelcome(t, c, cfg.Codec)
		if !bytes.Equal(m.Data, w) {
			t.Errorf("state frame %d: got % x, want % x", i, m.Data, w)
		}
	}
}

func TestCurrentLayoutCatchesUpChangesDuringHandshake(t *testing.T) {
	store := logic.NewStore(nil, nil)
	tr := NewFakeTransport()
	cfg := testConfig(wire.LayoutCurrent)
	cfg.HandshakeRetry = time.Hour
	e := NewEngine(cfg, tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)
	nextSent(t, c)

	// Actuated after the welcome went out; NotifyState is suppressed.
	store.Commit(logic.ChannelUp, true)
	e.NotifyState(logic.ChannelUp, true)

	handshake(t, e, c)
	if m := nextSent(t, c); !bytes.Equal(m.Data, []byte{0x03, 0x10}) {
		t.Errorf("catch-up frame: got % x", m.Data)
	}
	if n := len(c.Written()); n != 2 {
		t.Errorf("expected welcome + one catch-up frame, got %d writes", n)
	}
}

func TestCatchUpNotRepeatedByDelayedBroadcast(t *testing.T) {
	store := logic.NewStore(nil, nil)
	tr := NewFakeTransport()
	cfg := testConfig(wire.LayoutCurrent)
	cfg.HandshakeRetry = time.Hour
	e := NewEngine(cfg, tr, store)
	startEngine(t, e)

	c := nextConn(t, tr)
	nextSent(t, c)

	// Committed before the handshake, notified only after it completed.
	store.Commit(logic.ChannelUp, true)
	handshake(t, e, c)
	if m := nextSent(t, c); !bytes.Equal(m.Data, []byte{0x03, 0x10}) {
		t.Fatalf("catch-up frame: got % x", m.Data)
	}
	e.NotifyState(logic.ChannelUp, true)

	store.Commit(logic.ChannelDown, true)
	e.NotifyState(logic.ChannelDown, true)
	if m := nextSent(t, c); !bytes.Equal(m.Data, []byte{0x03, 0x50}) {
		t.Errorf("next frame: got % x, want 03 50", m.Data)
	}

	ups := 0
	for _, w := range c.Written() {
		if f := cfg.Codec.Decode(w.Data); f.Kind == wire.KindStateChange && f.Channel == logic.ChannelUp {
			ups++
		}
	}
	if ups != 1 {
		t.Errorf("expected one state frame for up, got %d", ups)
	}

	// A real change on a known channel is still broadcast.
	store.Commit(logic.ChannelUp, false)
	e.NotifyState(logic.ChannelUp, false)
	if m := nextSent(t, c); !bytes.Equal(m.Data, []byte{0x03, 0x00}) {
		t.Errorf("change after catch-up: got % x, want 03 00", m.Data)
	}
}

func TestRunStopsDisconnected(t *testing.T) {
	tr := NewFakeTransport()
	e := NewEngine(testConfig(wire.LayoutCurrent), tr, logic.NewStore(nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	c := nextConn(t, tr)
	handshake(t, e, c)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if e.State() != Disconnected {
		t.Errorf("state after Run: got %s", e.State())
	}
	if !c.Closed() {
		t.Error("connection should be closed")
	}
}
