// Package config loads the run description: horizon, resources,
// participants, negotiations and the ambient services around them.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/dernego/core/factory"
	"github.com/kilianp07/dernego/core/metrics"
	"github.com/kilianp07/dernego/core/recorder"
	"github.com/kilianp07/dernego/infra/mqtt"
)

// ErrConfig wraps every validation failure.
var ErrConfig = errors.New("invalid configuration")

// EnvPrefix selects the environment variables overriding file values.
// Nested keys are separated by a double underscore: DN_MQTT__BROKER.
const EnvPrefix = "DN_"

type Config struct {
	RunID        string               `json:"run_id"`
	Horizon      HorizonConfig        `json:"horizon"`
	Schedules    SchedulesConfig      `json:"schedules"`
	Agents       []AgentConfig        `json:"agents"`
	Containers   []ContainerConfig    `json:"containers"`
	Negotiations []NegotiationConfig  `json:"negotiations"`
	Defaults     DefaultsConfig       `json:"defaults"`
	Workers      int                  `json:"workers"`
	Results      factory.ModuleConfig `json:"results"`
	Logging      LoggingConfig        `json:"logging"`
	Metrics      metrics.Config       `json:"metrics"`
	MQTT         mqtt.Config          `json:"mqtt"`
	Cosim        CosimConfig          `json:"cosim"`
	Sentry       SentryConfig         `json:"sentry"`
	API          APIConfig            `json:"api"`

	// dir is the directory relative file paths are resolved against.
	dir string
}

// CosimConfig enables the co-simulation bridge over MQTT.
type CosimConfig struct {
	Enabled bool `json:"enabled"`
	// PublishOnCommit pushes schedules as soon as a negotiation commits.
	PublishOnCommit bool `json:"publish_on_commit"`
	SubscribeState  bool `json:"subscribe_state"`
}

// APIConfig configures the record query endpoint of `serve`.
type APIConfig struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
}

// Load reads path, applies DN_ environment overrides, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: unsupported config format: %s", ErrConfig, ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.dir = filepath.Dir(path)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies sane defaults to every section.
func (c *Config) SetDefaults() {
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Results.Type == "" {
		c.Results.Type = "jsonl"
	}
	if c.Results.Conf == nil {
		c.Results.Conf = map[string]any{}
	}
	if _, ok := c.Results.Conf["path"]; !ok {
		if c.Results.Type == "sqlite" {
			c.Results.Conf["path"] = "results.db"
		} else {
			c.Results.Conf["path"] = "results.jsonl"
		}
	}
	if p, ok := c.Results.Conf["path"].(string); ok {
		c.Results.Conf["path"] = c.resolve(p)
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Metrics.PrometheusAddr == "" {
		c.Metrics.PrometheusAddr = ":2112"
	}
	c.Defaults.SetDefaults()
	c.Logging.SetDefaults()
	c.MQTT.SetDefaults()
}

// Validate checks every section and resolves every reference between
// resources, participants and negotiations.
func (c *Config) Validate() error {
	h, err := c.ResolveHorizon()
	if err != nil {
		return err
	}
	entries, err := c.Entries(h)
	if err != nil {
		return err
	}
	resources := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		resources[e.ID] = struct{}{}
	}
	if err := c.validateParticipants(resources); err != nil {
		return err
	}
	if _, err := c.Specs(h); err != nil {
		return err
	}
	if !contains(recorder.Backends(), c.Results.Type) {
		return fmt.Errorf("%w: results: unknown backend %q", ErrConfig, c.Results.Type)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging: %v", ErrConfig, err)
	}
	if c.Cosim.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: cosim requires mqtt.broker", ErrConfig)
	}
	return nil
}

// resolve makes p relative to the configuration file directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" || strings.HasPrefix(p, "file:") {
		return p
	}
	return filepath.Join(c.dir, p)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
