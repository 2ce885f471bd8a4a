package core

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFenceTimeout     = 5 * time.Second
	DefaultPushConstantSize = 128
)

// Duration decodes from strings such as "250ms" in both TOML and YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// BindingConfig declares one entry of the bindless descriptor set.
// Type is one of uniform_buffer, storage_buffer, combined_image_sampler,
// sampled_image, sampler, storage_image. Stages lists vertex, fragment, compute.
// The renderer finds its camera, frame, transforms and textures bindings by Name.
type BindingConfig struct {
	Name    string   `toml:"name" yaml:"name"`
	Binding uint32   `toml:"binding" yaml:"binding"`
	Count   uint32   `toml:"count" yaml:"count"`
	Type    string   `toml:"type" yaml:"type"`
	Stages  []string `toml:"stages" yaml:"stages"`
}

// Config holds everything the renderer needs at initialization time.
type Config struct {
	AppName    string   `toml:"app_name" yaml:"app_name"`
	Width      uint32   `toml:"width" yaml:"width"`
	Height     uint32   `toml:"height" yaml:"height"`
	Validation bool     `toml:"validation" yaml:"validation"`
	LogLevel   LogLevel `toml:"log_level" yaml:"log_level"`
	// MaxFramesInFlight caps the number of sync records; 0 uses the swapchain image count.
	MaxFramesInFlight uint32          `toml:"max_frames_in_flight" yaml:"max_frames_in_flight"`
	FenceTimeout      Duration        `toml:"fence_timeout" yaml:"fence_timeout"`
	PushConstantSize  uint32          `toml:"push_constant_size" yaml:"push_constant_size"`
	ShaderRoot        string          `toml:"shader_root" yaml:"shader_root"`
	HotReload         bool            `toml:"hot_reload" yaml:"hot_reload"`
	Bindless          []BindingConfig `toml:"bindless" yaml:"bindless"`
}

// DefaultConfig returns a config with a camera uniform at binding 0, the
// per-frame values at binding 1, the transform storage buffer at binding 2
// and a table of sampled textures at binding 3.
func DefaultConfig() Config {
	return Config{
		AppName:          "anima-graph",
		Width:            1280,
		Height:           720,
		LogLevel:         LogLevelInfo,
		FenceTimeout:     Duration{DefaultFenceTimeout},
		PushConstantSize: DefaultPushConstantSize,
		ShaderRoot:       "assets/shaders",
		Bindless: []BindingConfig{
			{Name: "camera", Binding: 0, Count: 1, Type: "uniform_buffer", Stages: []string{"vertex", "fragment"}},
			{Name: "frame", Binding: 1, Count: 1, Type: "uniform_buffer", Stages: []string{"vertex", "fragment"}},
			{Name: "transforms", Binding: 2, Count: 1, Type: "storage_buffer", Stages: []string{"vertex"}},
			{Name: "textures", Binding: 3, Count: 16, Type: "combined_image_sampler", Stages: []string{"fragment"}},
		},
	}
}

// LoadConfig reads a TOML or YAML file on top of DefaultConfig. The format is
// picked from the extension.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, filepath.Ext(path))
}

// ParseConfig decodes data in the format named by ext (".toml", ".yaml", ".yml").
func ParseConfig(data []byte, ext string) (Config, error) {
	cfg := DefaultConfig()
	// slices are not merged with the defaults
	cfg.Bindless = nil
	switch strings.ToLower(ext) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decoding toml config: %w", err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decoding yaml config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	if cfg.Bindless == nil {
		cfg.Bindless = DefaultConfig().Bindless
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validBindingTypes = map[string]bool{
	"uniform_buffer":         true,
	"storage_buffer":         true,
	"combined_image_sampler": true,
	"sampled_image":          true,
	"sampler":                true,
	"storage_image":          true,
}

var validStages = map[string]bool{"vertex": true, "fragment": true, "compute": true}

func (c Config) Validate() error {
	var errs []error
	if c.Width == 0 || c.Height == 0 {
		errs = append(errs, fmt.Errorf("window size must be non-zero, got %dx%d", c.Width, c.Height))
	}
	if c.FenceTimeout.Duration <= 0 {
		errs = append(errs, errors.New("fence_timeout must be positive"))
	}
	if c.PushConstantSize%4 != 0 {
		errs = append(errs, fmt.Errorf("push_constant_size must be a multiple of 4, got %d", c.PushConstantSize))
	}
	seen := make(map[uint32]bool)
	names := make(map[string]bool)
	for _, b := range c.Bindless {
		if seen[b.Binding] {
			errs = append(errs, fmt.Errorf("bindless binding %d declared twice", b.Binding))
		}
		seen[b.Binding] = true
		if b.Name != "" {
			if names[b.Name] {
				errs = append(errs, fmt.Errorf("bindless name %q declared twice", b.Name))
			}
			names[b.Name] = true
		}
		if !validBindingTypes[b.Type] {
			errs = append(errs, fmt.Errorf("bindless binding %d: unknown type %q", b.Binding, b.Type))
		}
		if b.Count == 0 {
			errs = append(errs, fmt.Errorf("bindless binding %d: count must be at least 1", b.Binding))
		}
		for _, s := range b.Stages {
			if !validStages[s] {
				errs = append(errs, fmt.Errorf("bindless binding %d: unknown stage %q", b.Binding, s))
			}
		}
	}
	return errors.Join(errs...)
}
