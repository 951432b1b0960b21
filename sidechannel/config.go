package sidechannel

import "strings"

// Config configures one Engine, mirroring the peer-facing options in spec
// §6. It is kept independent of pkg/config so this package has no
// dependency on the composition root; cmd/sidechannel-node maps the
// viper-backed config into this struct.
type Config struct {
	// EntryChannel bypasses invite and welcome requirements and acts as the
	// bootstrap meeting point (spec GLOSSARY).
	EntryChannel string

	MaxMessageBytes int
	AllowRemoteOpen bool
	AutoJoinOnOpen  bool

	RelayEnabled bool
	RelayTTL     int

	MaxSeen   int
	SeenTTLMs int64

	RateBytesPerSecond float64
	RateBurstBytes     float64
	MaxStrikes         int
	StrikeWindowMs     int64
	BlockMs            int64

	PowEnabled          bool
	PowDifficulty       int
	PowNonceCeiling     int64
	PowRequireEntry     bool
	PowRequiredChannels map[string]struct{}

	InviteRequired         bool
	InviteRequiredChannels map[string]struct{}
	InviteRequiredPrefixes []string
	InviterKeys            map[string]struct{}
	InviteTTLMs            int64

	OwnerWriteOnly     bool
	OwnerWriteChannels map[string]struct{}
	OwnerKeys          map[string]string // channel -> ownerPubKeyHex
	DefaultOwnerKey    string

	WelcomeRequired  bool
	WelcomeByChannel map[string]bool
}

func (c *Config) channelRequiresInvite(channel string) bool {
	if channel == c.EntryChannel {
		return false
	}
	if !c.InviteRequired {
		return false
	}
	if len(c.InviteRequiredChannels) > 0 {
		_, ok := c.InviteRequiredChannels[channel]
		return ok
	}
	if len(c.InviteRequiredPrefixes) > 0 {
		for _, p := range c.InviteRequiredPrefixes {
			if strings.HasPrefix(channel, p) {
				return true
			}
		}
		return false
	}
	return true
}

// channelRequiresPow implements spec §4.5's three cases: an explicit set of
// PoW-required channels, else entry-channel-only, else (when PoW is
// enabled and neither restricts) every channel.
func (c *Config) channelRequiresPow(channel string) bool {
	if !c.PowEnabled {
		return false
	}
	if len(c.PowRequiredChannels) > 0 {
		_, ok := c.PowRequiredChannels[channel]
		return ok
	}
	if c.PowRequireEntry {
		return channel == c.EntryChannel
	}
	return true
}

func (c *Config) channelRequiresWelcome(channel string) bool {
	if channel == c.EntryChannel {
		return false
	}
	if v, ok := c.WelcomeByChannel[channel]; ok {
		return v
	}
	return c.WelcomeRequired
}

func (c *Config) channelIsOwnerWriteOnly(channel string) bool {
	if c.OwnerWriteOnly {
		return true
	}
	_, ok := c.OwnerWriteChannels[channel]
	return ok
}

func (c *Config) ownerForChannel(channel string) string {
	if owner, ok := c.OwnerKeys[channel]; ok {
		return owner
	}
	return c.DefaultOwnerKey
}
