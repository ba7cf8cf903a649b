// Copyright 2025-2026 spore.ink

package bridge

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide bridge configuration. It is loaded once at
// startup and treated as read-only by both network loops afterwards.
type Config struct {
	QQ      QQConfig          `yaml:"qq"`
	Matrix  MatrixConfig      `yaml:"matrix"`
	Logging zeroconfig.Config `yaml:"logging"`

	groupSet map[int64]struct{}
}

// QQConfig configures the QQ side of the bridge.
type QQConfig struct {
	// Groups lists the QQ group ids to bridge. Events from any other group
	// are ignored.
	Groups []int64 `yaml:"groups"`
	// GatewayURL is the websocket URL of the QQ protocol agent.
	GatewayURL string `yaml:"gateway_url"`
	// DevicePath is where the persisted device credential lives.
	// Defaults to "device.json".
	DevicePath string `yaml:"device_path"`
	// QRCodePath is where the current login challenge image is written.
	// Defaults to "qrcode.png".
	QRCodePath string `yaml:"qrcode_path"`
}

// MatrixConfig configures the Matrix appservice side of the bridge.
type MatrixConfig struct {
	// HomeserverName is the server name part of user ids and room aliases,
	// like "example.com".
	HomeserverName string `yaml:"homeserver_name"`
	// HomeserverURL is the URL the appservice uses to reach the
	// homeserver's client-server API.
	HomeserverURL string `yaml:"homeserver_url"`
	// Registration is the path of the appservice registration manifest.
	// Defaults to "registration.yaml".
	Registration string `yaml:"registration"`
}

// ErrAlreadyInitialized is returned by Init when the configuration has
// already been loaded. The config is shared read-only state for both
// network loops, so a second initialization must fail loudly instead of
// silently replacing it.
var ErrAlreadyInitialized = errors.New("bridge config already initialized")

var (
	initMu  sync.Mutex
	current *Config
)

// Init loads the configuration from path exactly once for the process.
// A second call returns ErrAlreadyInitialized.
func Init(path string) (*Config, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if current != nil {
		return nil, ErrAlreadyInitialized
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	current = cfg
	return cfg, nil
}

// Load reads and validates a configuration file without touching the
// process-wide singleton. Used directly by tests.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) postProcess() error {
	if c.Matrix.HomeserverName == "" {
		return errors.New("matrix.homeserver_name is required")
	}
	if c.Matrix.HomeserverURL == "" {
		return errors.New("matrix.homeserver_url is required")
	}
	if c.QQ.GatewayURL == "" {
		return errors.New("qq.gateway_url is required")
	}
	if c.QQ.DevicePath == "" {
		c.QQ.DevicePath = "device.json"
	}
	if c.QQ.QRCodePath == "" {
		c.QQ.QRCodePath = "qrcode.png"
	}
	if c.Matrix.Registration == "" {
		c.Matrix.Registration = "registration.yaml"
	}
	if len(c.Logging.Writers) == 0 {
		c.Logging.Writers = []zeroconfig.WriterConfig{{
			Type:   zeroconfig.WriterTypeStderr,
			Format: zeroconfig.LogFormatPrettyColored,
		}}
	}
	c.groupSet = make(map[int64]struct{}, len(c.QQ.Groups))
	for _, id := range c.QQ.Groups {
		if _, dup := c.groupSet[id]; dup {
			return fmt.Errorf("qq.groups contains duplicate id %d", id)
		}
		c.groupSet[id] = struct{}{}
	}
	return nil
}

// BridgesGroup reports whether the given QQ group is configured for
// bridging.
func (c *Config) BridgesGroup(groupID int64) bool {
	_, ok := c.groupSet[groupID]
	return ok
}
