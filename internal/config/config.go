// Package config loads the stream supervisor's YAML options document,
// grounded on the teacher's internal config loader
// (yaml.v3 unmarshal, normalise-then-validate discipline). The json
// struct tags are declarative only; this package does no JSON decoding.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/streamkeeper/internal/venue"
)

// OutputMode selects whether received frames are forwarded raw or
// JSON-decoded (spec.md §6 "output_default").
type OutputMode string

const (
	OutputRaw     OutputMode = "raw"
	OutputDecoded OutputMode = "decoded"
)

// ProxyOptions configures an optional SOCKS5 tunnel (spec.md §6).
type ProxyOptions struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	Address            string `yaml:"address" json:"address"`
	Username           string `yaml:"username" json:"username"`
	Password           string `yaml:"password" json:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecureSkipVerify"`
}

// ConnectionOverride mirrors venue.ConnectionInfo for YAML overrides of
// the static per-exchange connection table (spec.md §6 "each field is
// overrideable at manager construction").
type ConnectionOverride struct {
	BaseURI    string `yaml:"base_uri" json:"baseUri"`
	APIVersion string `yaml:"api_version" json:"apiVersion"`
	ArgLimit   int    `yaml:"arg_limit" json:"argLimit"`

	MaxSubscriptionsSpot    int `yaml:"max_subscriptions_per_stream_spot" json:"maxSubscriptionsSpot"`
	MaxSubscriptionsLinear  int `yaml:"max_subscriptions_per_stream_linear" json:"maxSubscriptionsLinear"`
	MaxSubscriptionsInverse int `yaml:"max_subscriptions_per_stream_inverse" json:"maxSubscriptionsInverse"`
	MaxSubscriptionsOption  int `yaml:"max_subscriptions_per_stream_option" json:"maxSubscriptionsOption"`
}

// ToConnectionInfo converts the YAML override into a venue.ConnectionInfo
// suitable for venue.Override.
func (c ConnectionOverride) ToConnectionInfo() venue.ConnectionInfo {
	caps := make(map[venue.MarketFamily]int, 4)
	if c.MaxSubscriptionsSpot > 0 {
		caps[venue.FamilySpot] = c.MaxSubscriptionsSpot
	}
	if c.MaxSubscriptionsLinear > 0 {
		caps[venue.FamilyLinear] = c.MaxSubscriptionsLinear
	}
	if c.MaxSubscriptionsInverse > 0 {
		caps[venue.FamilyInverse] = c.MaxSubscriptionsInverse
	}
	if c.MaxSubscriptionsOption > 0 {
		caps[venue.FamilyOption] = c.MaxSubscriptionsOption
	}
	return venue.ConnectionInfo{
		BaseURI:                   c.BaseURI,
		APIVersion:                c.APIVersion,
		ArgLimit:                  c.ArgLimit,
		MaxSubscriptionsPerStream: caps,
	}
}

// Options is the full environment/config surface enumerated in spec.md
// §6, plus per-exchange connection-table overrides.
type Options struct {
	OutputDefault                 OutputMode `yaml:"output_default" json:"outputDefault"`
	EnableStreamSignalBuffer      bool       `yaml:"enable_stream_signal_buffer" json:"enableStreamSignalBuffer"`
	AutoDataCleanupStoppedStreams bool       `yaml:"auto_data_cleanup_stopped_streams" json:"autoDataCleanupStoppedStreams"`
	StreamBufferMaxLen            int        `yaml:"stream_buffer_maxlen" json:"streamBufferMaxlen"`

	PingIntervalDefaultSeconds int `yaml:"ping_interval_default" json:"pingIntervalDefault"`
	PingTimeoutDefaultSeconds  int `yaml:"ping_timeout_default" json:"pingTimeoutDefault"`
	CloseTimeoutDefaultSeconds int `yaml:"close_timeout_default" json:"closeTimeoutDefault"`
	RestartTimeoutSeconds      int `yaml:"restart_timeout" json:"restartTimeout"`

	HighPerformance bool `yaml:"high_performance" json:"highPerformance"`

	Proxy ProxyOptions `yaml:"proxy" json:"proxy"`

	ConnectionOverrides map[string]ConnectionOverride `yaml:"connections" json:"connections"`

	LicenseKey string `yaml:"license_key" json:"licenseKey"`
}

// PingInterval returns the configured ping interval as a time.Duration.
func (o Options) PingInterval() time.Duration {
	return time.Duration(o.PingIntervalDefaultSeconds) * time.Second
}

// PingTimeout returns the configured ping timeout as a time.Duration.
func (o Options) PingTimeout() time.Duration {
	return time.Duration(o.PingTimeoutDefaultSeconds) * time.Second
}

// CloseTimeout returns the configured close timeout as a time.Duration.
func (o Options) CloseTimeout() time.Duration {
	return time.Duration(o.CloseTimeoutDefaultSeconds) * time.Second
}

// RestartTimeout returns the configured restart-backoff ceiling as a
// time.Duration.
func (o Options) RestartTimeout() time.Duration {
	return time.Duration(o.RestartTimeoutSeconds) * time.Second
}

// Default returns the baseline Options used when no file is supplied.
func Default() Options {
	return Options{
		OutputDefault:              OutputRaw,
		PingIntervalDefaultSeconds: 20,
		PingTimeoutDefaultSeconds:  10,
		CloseTimeoutDefaultSeconds: 5,
		RestartTimeoutSeconds:      6,
	}
}

func (o *Options) normalise() {
	o.OutputDefault = OutputMode(strings.ToLower(strings.TrimSpace(string(o.OutputDefault))))
	if o.OutputDefault == "" {
		o.OutputDefault = OutputRaw
	}
	if o.PingIntervalDefaultSeconds <= 0 {
		o.PingIntervalDefaultSeconds = 20
	}
	if o.PingTimeoutDefaultSeconds <= 0 {
		o.PingTimeoutDefaultSeconds = 10
	}
	if o.CloseTimeoutDefaultSeconds <= 0 {
		o.CloseTimeoutDefaultSeconds = 5
	}
	if o.RestartTimeoutSeconds <= 0 {
		o.RestartTimeoutSeconds = 6
	}
	if len(o.ConnectionOverrides) > 0 {
		normalised := make(map[string]ConnectionOverride, len(o.ConnectionOverrides))
		for name, override := range o.ConnectionOverrides {
			normalised[strings.ToLower(strings.TrimSpace(name))] = override
		}
		o.ConnectionOverrides = normalised
	}
}

// Validate rejects options that cannot be reconciled into a working
// Manager configuration.
func (o Options) Validate() error {
	switch o.OutputDefault {
	case OutputRaw, OutputDecoded:
	default:
		return fmt.Errorf("output_default must be %q or %q, got %q", OutputRaw, OutputDecoded, o.OutputDefault)
	}
	if o.Proxy.Enabled && strings.TrimSpace(o.Proxy.Address) == "" {
		return fmt.Errorf("proxy.address is required when proxy.enabled is true")
	}
	return nil
}

// Load reads, normalises, and validates Options from a YAML file at path.
func Load(path string) (Options, error) {
	clean := filepath.Clean(strings.TrimSpace(path))
	f, err := os.Open(clean) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return Options{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return Options{}, fmt.Errorf("read config: %w", err)
	}

	opts := Default()
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return Options{}, fmt.Errorf("unmarshal config: %w", err)
	}
	opts.normalise()
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadOrDefault loads Options from path, falling back to Default when
// the file does not exist.
func LoadOrDefault(path string) (Options, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	opts, err := Load(path)
	if err == nil {
		return opts, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		def := Default()
		def.normalise()
		return def, nil
	}
	return Options{}, err
}
