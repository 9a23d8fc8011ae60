package config

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/servo"
	"github.com/sweeney/switch-bot/internal/settings"
)

// ApplySettings overrides file values with values persisted in the
// settings store: the peer URL and per-channel angles. The device id is
// taken from the store as well; a device id from the file is stored on
// first boot, and without either a new one is generated.
func (c *Config) ApplySettings(s settings.Store) error {
	if err := c.applyDeviceID(s); err != nil {
		return err
	}

	if u, err := settings.GetString(s, settings.KeyWebSocketURL); err == nil {
		// Stored URLs that are not WebSocket URLs are ignored.
		if strings.HasPrefix(u, "ws") && validateWebSocketURL(u) == nil {
			c.Remote.URL = u
		} else {
			log.WithField("url", u).Warn("ignoring stored websocket url")
		}
	} else if !errors.Is(err, settings.ErrNotFound) {
		return fmt.Errorf("read websocket url: %w", err)
	}

	for i := range c.Channels {
		ch := logic.Channel(i)
		for _, on := range []bool{true, false} {
			v, err := settings.GetUint8(s, settings.AngleKey(ch, on))
			if errors.Is(err, settings.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if int(v) > servo.MaxAngle {
				log.WithField("key", settings.AngleKey(ch, on)).Warnf("ignoring stored angle %d", v)
				continue
			}
			a := int(v)
			if on {
				c.Channels[i].OnAngle = &a
			} else {
				c.Channels[i].OffAngle = &a
			}
		}
	}
	return nil
}

func (c *Config) applyDeviceID(s settings.Store) error {
	stored, err := settings.GetString(s, settings.KeyDeviceID)
	switch {
	case err == nil && stored != "":
		c.DeviceID = stored
		return nil
	case err != nil && !errors.Is(err, settings.ErrNotFound):
		return fmt.Errorf("read device id: %w", err)
	}

	if c.DeviceID != "" {
		return settings.SetString(s, settings.KeyDeviceID, c.DeviceID)
	}
	id, err := settings.EnsureDeviceID(s)
	if err != nil {
		return err
	}
	c.DeviceID = id
	return nil
}
