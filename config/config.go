// Package config loads the service configuration from a yaml or json file
// with environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/coopertaxi/dispatchd/core/health"
	"github.com/coopertaxi/dispatchd/core/metrics"
	"github.com/coopertaxi/dispatchd/core/notify"
	"github.com/coopertaxi/dispatchd/core/request"
	"github.com/coopertaxi/dispatchd/core/session"
	"github.com/coopertaxi/dispatchd/infra/geocode"
	"github.com/coopertaxi/dispatchd/infra/mqtt"
	"github.com/coopertaxi/dispatchd/infra/postgres"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Kind is "memory" or "postgres".
	Kind     string          `json:"kind"`
	Postgres postgres.Config `json:"postgres"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = "memory"
	}
}

func (c StoreConfig) Validate() error {
	switch c.Kind {
	case "memory", "postgres":
		return nil
	default:
		return fmt.Errorf("unknown store kind %q", c.Kind)
	}
}

type Config struct {
	// OperatorPhone is the identity allowed to manage the fleet over chat.
	OperatorPhone string `json:"operator_phone"`

	Store    StoreConfig    `json:"store"`
	MQTT     mqtt.Config    `json:"mqtt"`
	Notify   notify.Config  `json:"notify"`
	Session  session.Config `json:"session"`
	Health   health.Config  `json:"health"`
	Metrics  metrics.Config `json:"metrics"`
	Geocode  geocode.Config `json:"geocode"`
	Requests request.Config `json:"requests"`
}

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
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("TAXI_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "taxi_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Store.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Notify.SetDefaults()
	cfg.Session.SetDefaults()
	cfg.Health.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Requests.SetDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Notify.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
