package config

import (
	"time"

	"github.com/sweeney/switch-bot/internal/actuation"
	"github.com/sweeney/switch-bot/internal/logic"
	"github.com/sweeney/switch-bot/internal/wire"
)

// Revision holds the conventions of one hardware revision.
type Revision struct {
	Layout   wire.Layout
	Dwell    time.Duration
	Rearm    [logic.NumChannels]time.Duration
	Channels [logic.NumChannels]actuation.ChannelProfile
}

// Revisions are the known hardware revisions.
//
// v1 boards mount both servos full-travel and speak the legacy frame
// layout. v2 boards use the short-throw mounts, mirrored between the two
// switches.
var Revisions = map[string]Revision{
	"v1": {
		Layout: wire.LayoutLegacy,
		Dwell:  actuation.DefaultDwell,
		Rearm:  [logic.NumChannels]time.Duration{logic.DefaultRearmUp, logic.DefaultRearmDown},
		Channels: [logic.NumChannels]actuation.ChannelProfile{
			{OnAngle: 0, OffAngle: 180},
			{OnAngle: 180, OffAngle: 0},
		},
	},
	"v2": {
		Layout: wire.LayoutCurrent,
		Dwell:  actuation.DefaultDwell,
		Rearm:  [logic.NumChannels]time.Duration{logic.DefaultRearmUp, logic.DefaultRearmDown},
		Channels: [logic.NumChannels]actuation.ChannelProfile{
			{OnAngle: 45, OffAngle: 110},
			{OnAngle: 110, OffAngle: 45},
		},
	},
}
