package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/pubparam/pkg/types"
)

// Config holds runtime settings for a pubparam process. Load starts from
// Default, so keys missing from the file keep their default value.
type Config struct {
	Capacity          int    `json:"capacity" yaml:"capacity" toml:"capacity"`
	PostTimeoutMS     int    `json:"post_timeout_ms" yaml:"post_timeout_ms" toml:"post_timeout_ms"`
	IdleTimeoutMS     int    `json:"idle_timeout_ms" yaml:"idle_timeout_ms" toml:"idle_timeout_ms"`
	CommandQueueDepth int    `json:"command_queue_depth" yaml:"command_queue_depth" toml:"command_queue_depth"`
	LoopQueueSize     int    `json:"loop_queue_size" yaml:"loop_queue_size" toml:"loop_queue_size"`
	LogLevel          string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogJSON           bool   `json:"log_json" yaml:"log_json" toml:"log_json"`
	MetricsAddr       string `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"`

	Parameters []ParamSpec `json:"parameters" yaml:"parameters" toml:"parameters"`
}

// ParamSpec declares a parameter created at startup
type ParamSpec struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Type is a type name, optionally suffixed with ",hidden"
	Type     string `json:"type" yaml:"type" toml:"type"`
	Unit     string `json:"unit" yaml:"unit" toml:"unit"`
	Initial  string `json:"initial" yaml:"initial" toml:"initial"`
	Writable bool   `json:"writable" yaml:"writable" toml:"writable"`
	// PublishIntervalMS republishes the value to subscribers periodically when set
	PublishIntervalMS int `json:"publish_interval_ms" yaml:"publish_interval_ms" toml:"publish_interval_ms"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Capacity:          50,
		PostTimeoutMS:     20,
		IdleTimeoutMS:     1000,
		CommandQueueDepth: 2,
		LoopQueueSize:     16,
		LogLevel:          "info",
		MetricsAddr:       ":9090",
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) PostTimeout() time.Duration {
	return time.Duration(c.PostTimeoutMS) * time.Millisecond
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// Validate reports every problem in the configuration at once
func (c Config) Validate() error {
	var err error
	if c.Capacity <= 0 {
		err = multierr.Append(err, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if c.PostTimeoutMS <= 0 {
		err = multierr.Append(err, fmt.Errorf("post_timeout_ms must be positive, got %d", c.PostTimeoutMS))
	}
	if c.IdleTimeoutMS <= 0 {
		err = multierr.Append(err, fmt.Errorf("idle_timeout_ms must be positive, got %d", c.IdleTimeoutMS))
	}
	if c.CommandQueueDepth <= 0 {
		err = multierr.Append(err, fmt.Errorf("command_queue_depth must be positive, got %d", c.CommandQueueDepth))
	}
	if c.LoopQueueSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("loop_queue_size must be positive, got %d", c.LoopQueueSize))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.Capacity > 0 && len(c.Parameters) > c.Capacity {
		err = multierr.Append(err, fmt.Errorf("%d parameters declared, capacity is %d", len(c.Parameters), c.Capacity))
	}

	seen := make(map[string]bool, len(c.Parameters))
	for i, p := range c.Parameters {
		if p.Name != "" && seen[p.Name] {
			err = multierr.Append(err, fmt.Errorf("parameters[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if perr := p.Validate(); perr != nil {
			err = multierr.Append(err, fmt.Errorf("parameters[%d]: %w", i, perr))
		}
	}
	return err
}

// Validate checks a single declaration
func (p ParamSpec) Validate() error {
	var err error
	if p.Name == "" {
		err = multierr.Append(err, errors.New("name is empty"))
	}
	typ, terr := types.ParseType(p.Type)
	if terr != nil {
		return multierr.Append(err, terr)
	}
	if p.Unit != "" && types.ParseUnit(p.Unit) == types.UnitNone {
		err = multierr.Append(err, fmt.Errorf("unknown unit %q", p.Unit))
	}
	if _, verr := parseInitial(typ, p.Initial); verr != nil {
		err = multierr.Append(err, verr)
	}
	if p.PublishIntervalMS < 0 {
		err = multierr.Append(err, fmt.Errorf("publish_interval_ms must not be negative, got %d", p.PublishIntervalMS))
	}
	return err
}

// ParamType returns the parsed type tag
func (p ParamSpec) ParamType() (types.ParamType, error) {
	return types.ParseType(p.Type)
}

// PublishInterval returns how often the value is republished, zero for never
func (p ParamSpec) PublishInterval() time.Duration {
	return time.Duration(p.PublishIntervalMS) * time.Millisecond
}

// Value returns freshly allocated storage holding the initial value: *int32,
// *int64, *float32, *bool or *string. Arrays, binary and execute parameters
// have no declarative value and return nil.
func (p ParamSpec) Value() (any, error) {
	typ, err := types.ParseType(p.Type)
	if err != nil {
		return nil, err
	}
	return parseInitial(typ, p.Initial)
}

func parseInitial(typ types.ParamType, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch typ.Base() {
	case types.TypeInt32:
		var v int32
		if s != "" {
			n, err := strconv.ParseInt(s, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("initial value %q is not an int32", s)
			}
			v = int32(n)
		}
		return &v, nil
	case types.TypeInt64:
		var v int64
		if s != "" {
			n, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("initial value %q is not an int64", s)
			}
			v = n
		}
		return &v, nil
	case types.TypeFloat:
		var v float32
		if s != "" {
			f, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("initial value %q is not a float", s)
			}
			v = float32(f)
		}
		return &v, nil
	case types.TypeBool:
		var v bool
		if s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("initial value %q is not a bool", s)
			}
			v = b
		}
		return &v, nil
	case types.TypeString:
		v := s
		return &v, nil
	default:
		if s != "" {
			return nil, fmt.Errorf("type %s takes no initial value", typ)
		}
		return nil, nil
	}
}
