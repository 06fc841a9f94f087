// Package config loads the daemon's immutable startup configuration (spec
// §6.4), grounded on the teacher's internal/config package for the
// struct-plus-Validate shape and on
// original_source/daemon/source/configsettings/configsettings.cpp for the
// exact JSON schema (a top-level "timeouts" object and a "models" array).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rdkcmf/rdk-blercudaemon-sub001/internal/blercu"
)

// jsonTimeouts mirrors spec §6.4's {discovery, pair, setup, unpair,
// hidrawPoll, hidrawLimit} block, all millisecond integers. hidrawPoll and
// hidrawLimit are carried through for schema fidelity with the original
// config format but are not consumed by any component in this repository
// (no hidraw IR path is modeled here).
type jsonTimeouts struct {
	DiscoveryMs   *int `json:"discovery"`
	PairMs        *int `json:"pair"`
	SetupMs       *int `json:"setup"`
	UnpairMs      *int `json:"unpair"`
	HidrawPollMs  *int `json:"hidrawPoll"`
	HidrawLimitMs *int `json:"hidrawLimit"`
}

type jsonConnectionParams struct {
	MinInterval        *float64 `json:"minInterval"`
	MaxInterval        *float64 `json:"maxInterval"`
	Latency            *int     `json:"latency"`
	SupervisionTimeout *int     `json:"supervisionTimeout"`
}

type jsonServices struct {
	Type      string   `json:"type"`
	Supported []string `json:"supported"`
}

type jsonModel struct {
	Name              string                `json:"name"`
	Manufacturer      string                `json:"manufacturer"`
	OUI               string                `json:"oui"`
	Disabled          bool                  `json:"disabled"`
	PairingNameFormat string                `json:"pairingNameFormat"`
	ScanNameFormat    string                `json:"scanNameFormat"`
	FilterBytes       []int                 `json:"filterBytes"`
	Services          jsonServices          `json:"services"`
	ConnectionParams  *jsonConnectionParams `json:"connectionParams"`
}

type jsonConfig struct {
	Timeouts jsonTimeouts `json:"timeouts"`
	Models   []jsonModel  `json:"models"`
}

// Config is the fully-resolved, validated configuration consumed by
// cmd/blercud: the Controller's Timeouts and the per-model profile set,
// plus the enforcer's resolved per-OUI desired-parameters map.
type Config struct {
	Timeouts blercu.Timeouts
	Models   []blercu.ModelProfile

	// DesiredConnectionParams is derived from Models' ConnectionParams,
	// keyed by OUI, for internal/hci.ConnParamEnforcer.
	DesiredConnectionParams map[blercu.OUI]blercu.ConnectionParameters
}

// Load reads and parses the JSON config file at path, applying spec §5's
// defaults for any timeout field the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var raw jsonConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: invalid json: %w", err)
	}

	timeouts := blercu.DefaultTimeouts()
	applyMs(&timeouts.Discovery, raw.Timeouts.DiscoveryMs)
	applyMs(&timeouts.Pairing, raw.Timeouts.PairMs)
	applyMs(&timeouts.Setup, raw.Timeouts.SetupMs)
	applyMs(&timeouts.Unpairing, raw.Timeouts.UnpairMs)

	if len(raw.Models) == 0 {
		return nil, fmt.Errorf("config: missing or empty 'models' field")
	}

	models := make([]blercu.ModelProfile, 0, len(raw.Models))
	desired := make(map[blercu.OUI]blercu.ConnectionParameters)

	for i, m := range raw.Models {
		profile, err := convertModel(m)
		if err != nil {
			return nil, fmt.Errorf("config: model[%d] %q: %w", i, m.Name, err)
		}
		models = append(models, profile)
		if profile.ConnectionParams != nil {
			desired[profile.OUI] = *profile.ConnectionParams
		}
	}

	return &Config{
		Timeouts:                timeouts,
		Models:                  models,
		DesiredConnectionParams: desired,
	}, nil
}

func applyMs(field *time.Duration, ms *int) {
	if ms != nil {
		*field = time.Duration(*ms) * time.Millisecond
	}
}

func convertModel(m jsonModel) (blercu.ModelProfile, error) {
	if m.Name == "" {
		return blercu.ModelProfile{}, fmt.Errorf("missing 'name'")
	}
	oui, ok := blercu.ParseOUI(m.OUI)
	if !ok {
		return blercu.ModelProfile{}, fmt.Errorf("invalid 'oui' %q", m.OUI)
	}

	filterBytes := make([]byte, len(m.FilterBytes))
	for i, b := range m.FilterBytes {
		if b < 0 || b > 0xFF {
			return blercu.ModelProfile{}, fmt.Errorf("filterBytes[%d] %d out of byte range", i, b)
		}
		filterBytes[i] = byte(b)
	}

	transport := blercu.ServiceTransportDBus
	if m.Services.Type == string(blercu.ServiceTransportGATT) {
		transport = blercu.ServiceTransportGATT
	}

	profile := blercu.ModelProfile{
		Name:              m.Name,
		Manufacturer:      m.Manufacturer,
		OUI:               oui,
		Disabled:          m.Disabled,
		PairingNameFormat: m.PairingNameFormat,
		ScanNameFormat:    m.ScanNameFormat,
		FilterBytes:       filterBytes,
		Transport:         transport,
		Services:          servicesMask(m.Services.Supported),
	}

	if m.ConnectionParams != nil {
		cp, err := convertConnectionParams(*m.ConnectionParams)
		if err != nil {
			return blercu.ModelProfile{}, fmt.Errorf("connectionParams: %w", err)
		}
		profile.ConnectionParams = &cp
	}

	return profile, nil
}

func convertConnectionParams(p jsonConnectionParams) (blercu.ConnectionParameters, error) {
	if p.MinInterval == nil || p.MaxInterval == nil || p.Latency == nil || p.SupervisionTimeout == nil {
		return blercu.ConnectionParameters{}, fmt.Errorf("all of minInterval/maxInterval/latency/supervisionTimeout are required")
	}
	cp := blercu.ConnectionParameters{
		MinIntervalMs:        *p.MinInterval,
		MaxIntervalMs:        *p.MaxInterval,
		Latency:              uint16(*p.Latency),
		SupervisionTimeoutMs: uint16(*p.SupervisionTimeout),
	}
	if err := cp.Validate(); err != nil {
		return blercu.ConnectionParameters{}, err
	}
	return cp, nil
}

var serviceNames = map[string]blercu.ServiceMask{
	"audio":     blercu.ServiceAudio,
	"infrared":  blercu.ServiceInfrared,
	"upgrade":   blercu.ServiceUpgrade,
	"battery":   blercu.ServiceBattery,
	"findMe":    blercu.ServiceFindMe,
}

func servicesMask(names []string) blercu.ServiceMask {
	var mask blercu.ServiceMask
	for _, n := range names {
		mask |= serviceNames[n]
	}
	return mask
}
