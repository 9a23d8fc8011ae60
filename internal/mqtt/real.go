package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/switch-bot/internal/logic"
)

const (
	publishTimeout = 5 * time.Second
	bufferCapacity = 100
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Prefix   string

	// OnCommand receives commands from the Set topics. Nil disables the
	// subscription.
	OnCommand CommandHandler

	// OnConnectionChange is called when the client connects or loses the
	// connection.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are kept in a ring buffer and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	opts   Options

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher and starts connecting to the broker
// in the background. It does not wait for the connection.
func NewRealPublisher(o Options) *RealPublisher {
	topics := Topics{Prefix: o.Prefix}
	p := &RealPublisher{
		topics: topics,
		opts:   o,
		buffer: newRingBuffer(bufferCapacity),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(false).
		SetWill(topics.System(), string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	p.client.Connect()
	log.WithFields(log.Fields{"broker": o.Broker, "client_id": o.ClientID}).Info("mqtt: connecting")
	return p
}

func newPublisherWithClient(client paho.Client, o Options) *RealPublisher {
	return &RealPublisher{
		client: client,
		topics: Topics{Prefix: o.Prefix},
		opts:   o,
		buffer: newRingBuffer(bufferCapacity),
	}
}

func (p *RealPublisher) onConnect(c paho.Client) {
	log.Info("mqtt: connected")
	if p.opts.OnCommand != nil {
		c.Subscribe(p.topics.SetFilter(), 1, p.onMessage)
	}
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(true)
	}
	p.replay()
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	log.WithError(err).Warn("mqtt: connection lost")
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(false)
	}
}

func (p *RealPublisher) onMessage(_ paho.Client, m paho.Message) {
	ch, on, err := p.topics.ParseCommand(m.Topic(), m.Payload())
	if err != nil {
		log.WithError(err).Warn("mqtt: ignoring command")
		return
	}
	log.WithFields(log.Fields{"channel": ch, "state": logic.StateOf(on)}).Debug("mqtt: command")
	p.opts.OnCommand(ch, on)
}

// replay publishes buffered messages in order. Messages that fail again go
// back into the buffer.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	pending := p.buffer.drainAll()
	p.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	log.Infof("mqtt: replaying %d buffered messages", len(pending))
	for _, m := range pending {
		if err := p.send(m); err != nil {
			log.WithError(err).Warn("mqtt: replay failed")
			p.enqueue(m)
		}
	}
}

func (p *RealPublisher) enqueue(m bufferedMsg) {
	p.mu.Lock()
	p.buffer.push(m)
	p.mu.Unlock()
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

func (p *RealPublisher) deliver(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(m)
		return nil
	}
	if err := p.send(m); err != nil {
		p.enqueue(m)
		return err
	}
	return nil
}

// Publish sends a switch event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.deliver(bufferedMsg{topic: p.topics.Events(), payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.deliver(bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
