// Package config loads and validates the RaSTA SR-layer parameter set
// described in spec.md §3: per-connection timing and buffer limits,
// the safety code mode, and the diagnostic window/timing-distribution
// settings. Loading uses gopkg.in/ini.v1, one section per logical
// group, Key(...).MustUint()/MustString() field extraction.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/railsafe/gorasta/pkg/srdia"
	"github.com/railsafe/gorasta/pkg/srmsg"
)

// ConnectionConfig is one entry of spec.md §3's connection_configurations
// table: the addressing and network-id pairing for a single peer.
type ConnectionConfig struct {
	Name       string
	SenderID   uint32
	ReceiverID uint32
	NetworkID  uint32
}

// Config is the fully validated parameter set for one RaSTA instance,
// spanning spec.md §3's global table plus its per-connection entries.
type Config struct {
	NetworkID                uint32
	TMax                     uint32 // t_max, ms
	TH                       uint32 // t_h, ms
	SafetyCodeType           srmsg.SafetyCodeType
	MWA                      uint32 // m_w_a, unconfirmed-receive watermark that triggers a heartbeat
	NSendMax                 uint32 // n_send_max, send-buffer capacity
	NMaxPacket               uint32 // n_max_packet, max PDUs per network-layer send
	NDiagWindow              uint32 // n_diag_window, srdia window size
	MD4InitialValue          [4]uint32
	DiagTimingDistrIntervals [4]uint32
	Connections              []ConnectionConfig
}

// New validates a programmatically constructed Config, applying every
// domain/range/cross-field constraint spec.md §3 documents.
func New(c Config) (*Config, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate re-applies every constraint New and LoadINI already enforce
// at construction time. Callers holding a *Config built some other way
// (a hand-assembled literal, a value copied from one and mutated) can
// use this to confirm it still satisfies spec.md §3 before handing it
// to Engine.Init.
func (c *Config) Validate() error {
	return c.validate()
}

// Range domains from spec.md §3.
const (
	tMaxMin         = 750
	tMaxMax         = 2000
	tHMin           = 300
	tHMax           = 750
	mWAMin          = 1
	mWAMax          = 19
	nSendMaxMin     = 2
	nSendMaxMax     = 20
	nMaxPacketFixed = 1
	nDiagWindowMin  = 100
	nDiagWindowMax  = 10000
	connectionsMin  = 1
	connectionsMax  = 2
)

func (c *Config) validate() error {
	if c.TMax < tMaxMin || c.TMax > tMaxMax {
		return fmt.Errorf("config: t_max (%d) must be in [%d, %d]", c.TMax, tMaxMin, tMaxMax)
	}
	if c.TH < tHMin || c.TH > tHMax {
		return fmt.Errorf("config: t_h (%d) must be in [%d, %d]", c.TH, tHMin, tHMax)
	}
	if c.TH > c.TMax {
		return fmt.Errorf("config: t_h (%d) must be <= t_max (%d)", c.TH, c.TMax)
	}
	if c.MWA < mWAMin || c.MWA > mWAMax {
		return fmt.Errorf("config: m_w_a (%d) must be in [%d, %d]", c.MWA, mWAMin, mWAMax)
	}
	if c.NSendMax < nSendMaxMin || c.NSendMax > nSendMaxMax {
		return fmt.Errorf("config: n_send_max (%d) must be in [%d, %d]", c.NSendMax, nSendMaxMin, nSendMaxMax)
	}
	if c.MWA >= c.NSendMax {
		return fmt.Errorf("config: m_w_a (%d) must be < n_send_max (%d)", c.MWA, c.NSendMax)
	}
	if c.NMaxPacket != nMaxPacketFixed {
		return fmt.Errorf("config: n_max_packet (%d) must be %d", c.NMaxPacket, nMaxPacketFixed)
	}
	if c.NDiagWindow < nDiagWindowMin || c.NDiagWindow > nDiagWindowMax {
		return fmt.Errorf("config: n_diag_window (%d) must be in [%d, %d]", c.NDiagWindow, nDiagWindowMin, nDiagWindowMax)
	}
	switch c.SafetyCodeType {
	case srmsg.SafetyCodeNone, srmsg.SafetyCodeLowerMd4, srmsg.SafetyCodeFullMd4:
	default:
		return fmt.Errorf("config: unknown safety_code_type %v", c.SafetyCodeType)
	}
	if !srdia.AreDiagnosticTimingIntervalsValid(c.TMax, c.DiagTimingDistrIntervals) {
		return fmt.Errorf("config: diag_timing_distr_intervals must strictly ascend and end at or below t_max")
	}
	if len(c.Connections) < connectionsMin || len(c.Connections) > connectionsMax {
		return fmt.Errorf("config: number_of_connections (%d) must be in [%d, %d]", len(c.Connections), connectionsMin, connectionsMax)
	}
	for _, conn := range c.Connections {
		if conn.SenderID == conn.ReceiverID {
			return fmt.Errorf("config: connection %q has sender_id == receiver_id (%d)", conn.Name, conn.SenderID)
		}
	}
	return nil
}

// LoadINI reads a Config from an ini-format file: a [general] section
// for the global parameters and one [connection.<name>] section per
// peer.
func LoadINI(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	general, err := f.GetSection("general")
	if err != nil {
		return nil, fmt.Errorf("config: missing [general] section: %w", err)
	}

	var c Config
	c.NetworkID = uint32(general.Key("rasta_network_id").MustUint(0))
	c.TMax = uint32(general.Key("t_max").MustUint(0))
	c.TH = uint32(general.Key("t_h").MustUint(0))
	c.MWA = uint32(general.Key("m_w_a").MustUint(0))
	c.NSendMax = uint32(general.Key("n_send_max").MustUint(0))
	c.NMaxPacket = uint32(general.Key("n_max_packet").MustUint(0))
	c.NDiagWindow = uint32(general.Key("n_diag_window").MustUint(0))

	switch general.Key("safety_code_type").MustString("md4_full") {
	case "none":
		c.SafetyCodeType = srmsg.SafetyCodeNone
	case "md4_lower":
		c.SafetyCodeType = srmsg.SafetyCodeLowerMd4
	case "md4_full":
		c.SafetyCodeType = srmsg.SafetyCodeFullMd4
	default:
		return nil, fmt.Errorf("config: unknown safety_code_type %q", general.Key("safety_code_type").String())
	}

	for i, key := range []string{"md4_initial_value_a", "md4_initial_value_b", "md4_initial_value_c", "md4_initial_value_d"} {
		c.MD4InitialValue[i] = uint32(general.Key(key).MustUint(0))
	}
	for i, key := range []string{"diag_timing_distr_interval_0", "diag_timing_distr_interval_1", "diag_timing_distr_interval_2", "diag_timing_distr_interval_3"} {
		c.DiagTimingDistrIntervals[i] = uint32(general.Key(key).MustUint(0))
	}

	for _, section := range f.Sections() {
		name := section.Name()
		if len(name) < 12 || name[:11] != "connection." {
			continue
		}
		c.Connections = append(c.Connections, ConnectionConfig{
			Name:       name[11:],
			SenderID:   uint32(section.Key("sender_id").MustUint(0)),
			ReceiverID: uint32(section.Key("receiver_id").MustUint(0)),
			NetworkID:  uint32(section.Key("network_id").MustUint(uint64(c.NetworkID))),
		})
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
