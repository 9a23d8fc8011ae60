// Package settings persists the small set of values that must survive a
// restart: the device id, the peer URL, per-channel angle overrides and the
// last applied switch state.
package settings

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/sweeney/switch-bot/internal/logic"
)

// ErrNotFound is returned when a key has never been set.
var ErrNotFound = errors.New("settings: not found")

// Well-known keys.
const (
	KeyDeviceID     = "device_id"
	KeyWebSocketURL = "websocket_url"
)

// Store is a persistent key/value store.
type Store interface {
	// Get returns the value of key, or ErrNotFound.
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Close() error
}

// AngleKey returns the key of the angle override for channel ch in state
// on, e.g. "up_on" or "down_off".
func AngleKey(ch logic.Channel, on bool) string {
	if on {
		return ch.String() + "_on"
	}
	return ch.String() + "_off"
}

// StateKey returns the key holding the last applied state of ch.
func StateKey(ch logic.Channel) string {
	return "state_" + ch.String()
}

// GetString returns the string value of key.
func GetString(s Store, key string) (string, error) {
	b, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SetString stores a string value.
func SetString(s Store, key, value string) error {
	return s.Set(key, []byte(value))
}

// GetUint8 returns the uint8 value of key.
func GetUint8(s Store, key string) (uint8, error) {
	str, err := GetString(s, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(str, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("settings: %s: %w", key, err)
	}
	return uint8(v), nil
}

// SetUint8 stores a uint8 value.
func SetUint8(s Store, key string, value uint8) error {
	return SetString(s, key, strconv.FormatUint(uint64(value), 10))
}

// GetBool returns the boolean value of key.
func GetBool(s Store, key string) (bool, error) {
	str, err := GetString(s, key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("settings: %s: %w", key, err)
	}
	return v, nil
}

// SetBool stores a boolean value.
func SetBool(s Store, key string, value bool) error {
	return SetString(s, key, strconv.FormatBool(value))
}

// EnsureDeviceID returns the stored device id, generating and storing a new
// one on first boot.
func EnsureDeviceID(s Store) (string, error) {
	id, err := GetString(s, KeyDeviceID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id = uuid.NewString()
	if err := SetString(s, KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return id, nil
}

// LoadStates returns the last applied state of every channel. Channels
// without a stored state are off.
func LoadStates(s Store) ([]bool, error) {
	states := make([]bool, logic.NumChannels)
	for i := range states {
		v, err := GetBool(s, StateKey(logic.Channel(i)))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states[i] = v
	}
	return states, nil
}

// SaveState stores the applied state of ch.
func SaveState(s Store, ch logic.Channel, on bool) error {
	return SetBool(s, StateKey(ch), on)
}
