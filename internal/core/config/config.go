package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the prediction core and the demo server.
type Config struct {
	// TickRate is the fixed simulation rate in Hz.
	TickRate int `json:"tick_rate" yaml:"tick_rate"`

	// HistoryCapacity is the per-component prediction history depth in
	// ticks. Must cover the worst expected round-trip.
	HistoryCapacity int `json:"history_capacity" yaml:"history_capacity"`

	// PrespawnWindow is how many ticks an unmatched speculative spawn
	// survives before it is despawned as an orphan.
	PrespawnWindow int `json:"prespawn_window" yaml:"prespawn_window"`

	// CorrectionSeconds is the visual correction blend duration.
	CorrectionSeconds float64 `json:"correction_seconds" yaml:"correction_seconds"`

	// InterpolationDelayTicks is how far behind the newest snapshot
	// interpolated-only entities are rendered.
	InterpolationDelayTicks int `json:"interpolation_delay_ticks" yaml:"interpolation_delay_ticks"`

	// MissingInputPolicy is "repeat" or "blank".
	MissingInputPolicy string `json:"missing_input_policy" yaml:"missing_input_policy"`

	// RebroadcastInputs forwards confirmed client inputs to other clients
	// so they can predict remote entities instead of interpolating them.
	RebroadcastInputs bool `json:"rebroadcast_inputs" yaml:"rebroadcast_inputs"`

	// Transport selects "websocket", "quic", "kcp" or "memory".
	Transport string `json:"transport" yaml:"transport"`

	// ListenAddr is the server bind address.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// InputRatePerSecond and InputBurst bound how many input messages a
	// session may submit.
	InputRatePerSecond float64 `json:"input_rate_per_second" yaml:"input_rate_per_second"`
	InputBurst         int     `json:"input_burst" yaml:"input_burst"`

	// JWTSecret signs session tokens. Empty falls back to the
	// ROLLSYNC_JWT_SECRET environment variable, then a development default.
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`

	// LogLevel is debug, info, warn, error or fatal.
	LogLevel string `json:"log_level" yaml:"log_level"`
}

func Default() Config {
	return Config{
		TickRate:                64,
		HistoryCapacity:         64,
		PrespawnWindow:          50,
		CorrectionSeconds:       0.15,
		InterpolationDelayTicks: 4,
		MissingInputPolicy:      "repeat",
		RebroadcastInputs:       true,
		Transport:               "websocket",
		ListenAddr:              ":7350",
		InputRatePerSecond:      128,
		InputBurst:              32,
		LogLevel:                "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err = cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TickRate <= 0 || c.TickRate > 1000 {
		return errors.Errorf("tick_rate %d out of range", c.TickRate)
	}
	if c.HistoryCapacity < 8 {
		return errors.Errorf("history_capacity %d too small, need at least 8", c.HistoryCapacity)
	}
	if c.PrespawnWindow <= 0 {
		return errors.Errorf("prespawn_window %d must be positive", c.PrespawnWindow)
	}
	switch c.MissingInputPolicy {
	case "repeat", "blank":
	default:
		return errors.Errorf("missing_input_policy %q unknown", c.MissingInputPolicy)
	}
	switch c.Transport {
	case "websocket", "quic", "kcp", "memory":
	default:
		return errors.Errorf("transport %q unknown", c.Transport)
	}
	return nil
}
