package embermqtt

import (
	"log/slog"
	"os"

	"github.com/jinzhu/copier"
	"github.com/rs/xid"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk YAML shape for embermqttd, grounded on the
// teacher's config.go: a thin wrapper so Capabilities can be unmarshalled
// directly with their yaml tags.
type Config struct {
	Broker struct {
		Capabilities Capabilities `yaml:"capabilities"`
	} `yaml:"broker"`

	Listeners struct {
		TCP []NamedAddress `yaml:"tcp"`
		Websocket []NamedAddress `yaml:"websocket"`
		UnixSock []NamedPath `yaml:"unix_socket"`
		HealthCheck string `yaml:"health_check_address"`
		Stats       string `yaml:"stats_address"`
	} `yaml:"listeners"`

	Auth struct {
		AllowAll bool   `yaml:"allow_all"`
		Ledger   string `yaml:"ledger_file"`
	} `yaml:"auth"`

	Storage struct {
		Driver string `yaml:"driver"` // "", "bolt", "badger", "pebble", "redis"
		Path   string `yaml:"path"`
		Addr   string `yaml:"addr"` // redis address
	} `yaml:"storage"`
}

// NamedAddress and NamedPath back the listener-list config sections.
type NamedAddress struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type NamedPath struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// LoadConfig reads and parses a YAML config file at path, returning the
// built-in defaults unchanged if path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Broker.Capabilities = DefaultCapabilities()
	if path == "" {
		slog.Default().Debug("no config file path provided, using defaults")
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Unmarshal onto a fresh Config so yaml.v3 only overwrites fields the
	// file actually sets, then deep-copy the result over the
	// default-seeded cfg — copier.Copy skips zero-valued source fields,
	// so unset YAML keys keep their default-capabilities value instead
	// of being zeroed out by a plain struct assignment.
	loaded := &Config{}
	if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, err
	}
	if err := copier.CopyWithOption(cfg, loaded, copier.Option{IgnoreEmpty: true}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewClientID returns a fresh, collision-resistant id for a client that
// connected without one, the way the teacher's clients.go falls back to
// xid.New() for an empty CONNECT client identifier.
func NewClientID() string {
	return "auto-" + xid.New().String()
}
