// Package config loads the daemon configuration: a TOML file decoded over
// built-in defaults, completed from the hardware revision profile and
// finally overridden by values persisted in the settings store.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/switch-bot/internal/actuation"
	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/remote"
	"github.com/sweeney/switch-bot/internal/servo"
	"github.com/sweeney/switch-bot/internal/touch"
	"github.com/sweeney/switch-bot/internal/wire"
)

//go:embed default.toml
var defaultConfig string

// Config is the resolved daemon configuration.
type Config struct {
	DeviceID string          `toml:"device_id"`
	Revision string          `toml:"revision"`
	Remote   RemoteConfig    `toml:"remote"`
	Touch    TouchConfig     `toml:"touch"`
	Actuator ActuatorConfig  `toml:"actuator"`
	Channels []ChannelConfig `toml:"channel"`
	IR       IRConfig        `toml:"ir"`
	MQTT     MQTTConfig      `toml:"mqtt"`
	HTTP     HTTPConfig      `toml:"http"`
	Settings SettingsConfig  `toml:"settings"`
	Log      LogConfig       `toml:"log"`
}

type RemoteConfig struct {
	URL              string `toml:"url"`
	FrameLayout      string `toml:"frame_layout"`
	ReconnectMs      int64  `toml:"reconnect_ms"`
	HandshakeRetryMs int64  `toml:"handshake_retry_ms"`
	WriteTimeoutMs   int64  `toml:"write_timeout_ms"`
	PingMs           int64  `toml:"ping_ms"`
	BatteryLevel     uint8  `toml:"battery_level"`
}

type TouchConfig struct {
	Enabled             bool   `toml:"enabled"`
	Chip                string `toml:"chip"`
	CalibrationMs       int64  `toml:"calibration_ms"`
	CalibrationAttempts int    `toml:"calibration_attempts"`
	Margin              int    `toml:"margin"`
	PollMs              int64  `toml:"poll_ms"`
	MaxCount            int    `toml:"max_count"`
}

type ActuatorConfig struct {
	DwellMs int64 `toml:"dwell_ms"`
	TickMs  int64 `toml:"tick_ms"`
}

// ChannelConfig configures one switch channel. Unset angles and rearm
// interval come from the revision profile.
type ChannelConfig struct {
	Name     string `toml:"name"`
	ServoPin string `toml:"servo_pin"`
	TouchPin int    `toml:"touch_pin"`
	OnAngle  *int   `toml:"on_angle"`
	OffAngle *int   `toml:"off_angle"`
	RearmMs  int64  `toml:"rearm_ms"`
}

type IRConfig struct {
	Device  string `toml:"device"`
	Address uint16 `toml:"address"`
}

type MQTTConfig struct {
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Prefix      string `toml:"prefix"`
	HeartbeatMs int64  `toml:"heartbeat_ms"`
	WSBroker    string `toml:"ws_broker"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type SettingsConfig struct {
	Dir string `toml:"dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	return Parse("")
}

// Load reads the file at path over the defaults. An empty path loads the
// defaults only.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.Decode(defaultConfig, &c); err != nil {
		return nil, fmt.Errorf("decode default config: %w", err)
	}
	if path != "" {
		md, err := toml.DecodeFile(path, &c)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		warnUndecoded(md)
	}
	return c.resolve()
}

// Parse decodes doc over the defaults.
func Parse(doc string) (*Config, error) {
	var c Config
	if _, err := toml.Decode(defaultConfig, &c); err != nil {
		return nil, fmt.Errorf("decode default config: %w", err)
	}
	md, err := toml.Decode(doc, &c)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	warnUndecoded(md)
	return c.resolve()
}

func warnUndecoded(md toml.MetaData) {
	for _, k := range md.Undecoded() {
		log.WithField("key", k.String()).Warn("unknown config key")
	}
}

func (c *Config) resolve() (*Config, error) {
	if err := c.applyRevision(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.MQTT.WSBroker = resolveWSBroker(c.MQTT.WSBroker, c.MQTT.Broker)
	return c, nil
}

func (c *Config) applyRevision() error {
	p, ok := Revisions[c.Revision]
	if !ok {
		return fmt.Errorf("unknown revision %q", c.Revision)
	}
	if c.Remote.FrameLayout == "" {
		c.Remote.FrameLayout = p.Layout.String()
	}
	if c.Actuator.DwellMs == 0 {
		c.Actuator.DwellMs = p.Dwell.Milliseconds()
	}
	for i := range c.Channels {
		if i >= len(p.Channels) {
			break
		}
		ch := &c.Channels[i]
		if ch.OnAngle == nil {
			v := int(p.Channels[i].OnAngle)
			ch.OnAngle = &v
		}
		if ch.OffAngle == nil {
			v := int(p.Channels[i].OffAngle)
			ch.OffAngle = &v
		}
		if ch.RearmMs == 0 {
			ch.RearmMs = p.Rearm[i].Milliseconds()
		}
	}
	return nil
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Channels) != int(logic.NumChannels) {
		errs = append(errs, fmt.Errorf("expected %d channels, got %d", logic.NumChannels, len(c.Channels)))
	}
	for i, ch := range c.Channels {
		want := logic.Channel(i)
		if got, ok := logic.ParseChannel(ch.Name); !ok || got != want {
			errs = append(errs, fmt.Errorf("channel %d: name must be %q, got %q", i, want, ch.Name))
		}
		if ch.ServoPin == "" {
			errs = append(errs, fmt.Errorf("channel %s: servo_pin is required", ch.Name))
		}
		for _, a := range []*int{ch.OnAngle, ch.OffAngle} {
			if a != nil && (*a < 0 || *a > servo.MaxAngle) {
				errs = append(errs, fmt.Errorf("channel %s: angle %d out of range 0-%d", ch.Name, *a, servo.MaxAngle))
			}
		}
		if ch.RearmMs < 0 {
			errs = append(errs, fmt.Errorf("channel %s: rearm_ms must not be negative", ch.Name))
		}
	}

	if _, err := wire.ParseLayout(c.Remote.FrameLayout); err != nil {
		errs = append(errs, err)
	}
	if c.Remote.URL != "" {
		if err := validateWebSocketURL(c.Remote.URL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Remote.ReconnectMs <= 0 || c.Remote.HandshakeRetryMs <= 0 {
		errs = append(errs, errors.New("remote: reconnect_ms and handshake_retry_ms must be positive"))
	}

	if c.Touch.Enabled {
		if c.Touch.Chip == "" {
			errs = append(errs, errors.New("touch: chip is required"))
		}
		if c.Touch.Margin <= 0 {
			errs = append(errs, errors.New("touch: margin must be positive"))
		}
	}
	if c.Actuator.DwellMs <= 0 || c.Actuator.TickMs <= 0 {
		errs = append(errs, errors.New("actuator: dwell_ms and tick_ms must be positive"))
	}
	if c.MQTT.Broker != "" && c.MQTT.Prefix == "" {
		errs = append(errs, errors.New("mqtt: prefix is required"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	return errors.Join(errs...)
}

func validateWebSocketURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("remote: invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("remote: url %q must use ws:// or wss://", s)
	}
	return nil
}

// resolveWSBroker converts the ws_broker value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" or an
// unusable broker disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	if broker == "" {
		return ""
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Warnf("ws_broker: cannot parse broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Layout returns the frame layout.
func (c *Config) Layout() wire.Layout {
	l, _ := wire.ParseLayout(c.Remote.FrameLayout)
	return l
}

// ChannelProfiles returns the actuation parameters of every channel.
func (c *Config) ChannelProfiles() []actuation.ChannelProfile {
	out := make([]actuation.ChannelProfile, len(c.Channels))
	for i, ch := range c.Channels {
		out[i] = actuation.ChannelProfile{
			OnAngle:  uint8(*ch.OnAngle),
			OffAngle: uint8(*ch.OffAngle),
			Dwell:    millis(c.Actuator.DwellMs),
		}
	}
	return out
}

// RearmIntervals returns the minimum interval between accepted changes of
// every channel.
func (c *Config) RearmIntervals() []time.Duration {
	out := make([]time.Duration, len(c.Channels))
	for i, ch := range c.Channels {
		out[i] = millis(ch.RearmMs)
	}
	return out
}

// TouchPins returns the touch pad pin of every channel.
func (c *Config) TouchPins() []int {
	out := make([]int, len(c.Channels))
	for i, ch := range c.Channels {
		out[i] = ch.TouchPin
	}
	return out
}

// TouchPoller returns the touch poller configuration.
func (c *Config) TouchPoller() touch.Config {
	tc := touch.Config{
		CalibrationWindow:   millis(c.Touch.CalibrationMs),
		CalibrationAttempts: c.Touch.CalibrationAttempts,
		Margin:              c.Touch.Margin,
		PollInterval:        millis(c.Touch.PollMs),
	}
	for i, pin := range c.TouchPins() {
		if i < len(tc.Pins) {
			tc.Pins[i] = pin
		}
	}
	return tc
}

// Engine returns the remote engine configuration. The caller fills in
// DeviceID after settings have been applied, and any observers.
func (c *Config) Engine() remote.EngineConfig {
	battery := c.Remote.BatteryLevel
	return remote.EngineConfig{
		DeviceID:          c.DeviceID,
		Codec:             wire.New(c.Layout()),
		Battery:           func() uint8 { return battery },
		ReconnectInterval: millis(c.Remote.ReconnectMs),
		HandshakeRetry:    millis(c.Remote.HandshakeRetryMs),
	}
}

// Transport returns the WebSocket transport for the remote URL.
func (c *Config) Transport() *remote.WebSocketTransport {
	t := remote.NewWebSocketTransport(c.Remote.URL)
	t.WriteTimeout = millis(c.Remote.WriteTimeoutMs)
	t.PingInterval = millis(c.Remote.PingMs)
	return t
}

// Tick returns the scheduler period.
func (c *Config) Tick() time.Duration {
	return millis(c.Actuator.TickMs)
}

// Heartbeat returns the heartbeat interval; 0 disables heartbeats.
func (c *Config) Heartbeat() time.Duration {
	return millis(c.MQTT.HeartbeatMs)
}

// TopicPrefix returns the MQTT topic prefix with any trailing slash removed.
func (c *Config) TopicPrefix() string {
	return strings.TrimSuffix(c.MQTT.Prefix, "/")
}
