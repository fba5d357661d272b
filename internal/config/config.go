// Package config loads the YAML configuration for an objectrpc server or
// client process: read the whole file, unmarshal with yaml.v3, apply
// defaults, validate.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything a process needs to stand up a session: where to
// listen or dial, the frame codec's size ceiling, how deep the dispatch
// queue is allowed to grow before a session faults with Congestion, how
// long a request waits for a response, and how long a finalized proxy's
// identifier sits quiescent before the server is told about it.
type Config struct {
	Debug bool `yaml:"debug"`

	ListenAddress string `yaml:"listen_address"`
	DialAddress   string `yaml:"dial_address"`
	Codec         string `yaml:"codec"` // "msgpack" (default) or "json"

	MaxFrameBytes        int `yaml:"max_frame_bytes"`
	DispatchQueueDepth    int `yaml:"dispatch_queue_depth"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	QuiescenceMillis      int `yaml:"quiescence_millis"`
}

const (
	defaultMaxFrameBytes        = 64 * 1024 * 1024
	defaultDispatchQueueDepth   = 10000
	defaultRequestTimeoutSecs   = 30
	defaultQuiescenceMillis     = 50
)

// Load reads filename, unmarshals it, fills in defaults for anything left
// at its zero value, and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Codec == "" {
		c.Codec = "msgpack"
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	if c.DispatchQueueDepth == 0 {
		c.DispatchQueueDepth = defaultDispatchQueueDepth
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = defaultRequestTimeoutSecs
	}
	if c.QuiescenceMillis == 0 {
		c.QuiescenceMillis = defaultQuiescenceMillis
	}
}

func (c *Config) validate() error {
	if c.MaxFrameBytes < 0 {
		return fmt.Errorf("max_frame_bytes cannot be negative: %d", c.MaxFrameBytes)
	}
	if c.DispatchQueueDepth <= 0 {
		return fmt.Errorf("dispatch_queue_depth must be positive: %d", c.DispatchQueueDepth)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive: %d", c.RequestTimeoutSeconds)
	}
	if c.QuiescenceMillis < 0 {
		return fmt.Errorf("quiescence_millis cannot be negative: %d", c.QuiescenceMillis)
	}
	switch c.Codec {
	case "msgpack", "json":
	default:
		return fmt.Errorf("unknown codec %q: want \"msgpack\" or \"json\"", c.Codec)
	}
	return nil
}
