// Package config loads and validates the pipeline configuration. The
// recognized surface is enumerated here; unknown keys fail fast at startup.
package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BaseSettings are the pipeline-wide knobs.
type BaseSettings struct {
	// CodecCmd is the external codec bridge command; empty selects the
	// built-in null codec (useful for dry runs).
	CodecCmd string `yaml:"codec_cmd"`
	// AudioCodec is the model identifier handed to the codec command.
	AudioCodec     string `yaml:"audio_codec"`
	NumReaders     int    `yaml:"num_readers"`
	QSize          int    `yaml:"qsize"`
	LinesPerFile   int    `yaml:"lines_per_file"`
	OutDir         string `yaml:"out_dir"`
	GzipLevel      int    `yaml:"gzip_level"`
	BufferSize     int    `yaml:"buffer_size"`
	BatchSize      int    `yaml:"batch_size"`
	BatchTimeoutMS int    `yaml:"batch_timeout_ms"`
	SanitizeText   bool   `yaml:"sanitize_text"`
}

// SaveSettings name the persistence sinks for the assembled dataset. Either
// may be empty to disable that sink.
type SaveSettings struct {
	Local    string `yaml:"local"`
	S3Upload string `yaml:"s3_upload"`
}

// ConstantColumn is one constant field injected into every record of a
// dataset.
type ConstantColumn struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// DatasetConfig describes one dataset to process.
type DatasetConfig struct {
	Name string `yaml:"name"`
	// Kind selects the source implementation: "wavdir" or "manifest".
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
	// Split is an optional subdirectory under Path for wavdir sources.
	Split          string           `yaml:"split"`
	TextColumn     string           `yaml:"text_column"`
	AudioColumn    string           `yaml:"audio_column"`
	SpeakerColumn  string           `yaml:"speaker_column"`
	SpeakerFromDir bool             `yaml:"speaker_from_dir"`
	AddConstant    []ConstantColumn `yaml:"add_constant"`
}

// Prefix is the dataset's shard filename prefix: the part of the name after
// the last slash.
func (d *DatasetConfig) Prefix() string {
	if idx := strings.LastIndex(d.Name, "/"); idx >= 0 {
		return d.Name[idx+1:]
	}
	return d.Name
}

// Constants returns the constant columns as a map.
func (d *DatasetConfig) Constants() map[string]string {
	if len(d.AddConstant) == 0 {
		return nil
	}
	constants := make(map[string]string, len(d.AddConstant))
	for _, col := range d.AddConstant {
		constants[col.Key] = col.Value
	}
	return constants
}

// ConstantKeys returns the sorted constant column names.
func (d *DatasetConfig) ConstantKeys() []string {
	keys := make([]string, 0, len(d.AddConstant))
	for _, col := range d.AddConstant {
		keys = append(keys, col.Key)
	}
	sort.Strings(keys)
	return keys
}

// Config is the full recognized configuration surface.
type Config struct {
	Base     BaseSettings    `yaml:"base_settings"`
	Save     SaveSettings    `yaml:"save_settings"`
	Datasets []DatasetConfig `yaml:"datasets"`
}

// Defaults mirror the original deployment's settings.
func defaults() BaseSettings {
	return BaseSettings{
		AudioCodec:     "nvidia/nemo-nano-codec-22khz-0.6kbps-12.5fps",
		NumReaders:     4,
		QSize:          256,
		LinesPerFile:   10000,
		OutDir:         "./out",
		GzipLevel:      6,
		BufferSize:     1 << 20,
		BatchSize:      16,
		BatchTimeoutMS: 200,
	}
}

// Load reads, strictly decodes, defaults, and validates the configuration
// at path.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Decode(file)
}

// Decode is Load from an open reader.
func Decode(r io.Reader) (*Config, error) {
	cfg := &Config{Base: defaults()}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the numeric knobs, the per-dataset entries, and that all
// datasets declare the same constant columns — mismatched constants would
// make the assembled dataset's schema inconsistent, so this fails before
// any pipeline runs.
func (c *Config) Validate() error {
	base := &c.Base
	if base.NumReaders <= 0 {
		return fmt.Errorf("num_readers must be positive, got %d",
			base.NumReaders)
	}
	if base.QSize <= 0 {
		return fmt.Errorf("qsize must be positive, got %d", base.QSize)
	}
	if base.LinesPerFile <= 0 {
		return fmt.Errorf("lines_per_file must be positive, got %d",
			base.LinesPerFile)
	}
	if base.GzipLevel < 1 || base.GzipLevel > 9 {
		return fmt.Errorf("gzip_level must be in [1,9], got %d",
			base.GzipLevel)
	}
	if base.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d",
			base.BufferSize)
	}
	if base.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d",
			base.BatchSize)
	}
	if base.OutDir == "" {
		return fmt.Errorf("out_dir is required")
	}
	if len(c.Datasets) == 0 {
		return fmt.Errorf("no datasets specified in configuration")
	}
	for dsIdx := range c.Datasets {
		if err := c.Datasets[dsIdx].validate(); err != nil {
			return err
		}
	}
	return c.validateConstants()
}

func (d *DatasetConfig) validate() error {
	if d.Name == "" {
		return fmt.Errorf("dataset with empty name")
	}
	if d.Path == "" {
		return fmt.Errorf("dataset %q: path is required", d.Name)
	}
	switch d.Kind {
	case "wavdir":
	case "manifest":
		if d.TextColumn == "" || d.AudioColumn == "" {
			return fmt.Errorf(
				"dataset %q: manifest sources require text_column "+
					"and audio_column", d.Name)
		}
	default:
		return fmt.Errorf("dataset %q: unknown kind %q "+
			"(expected wavdir or manifest)", d.Name, d.Kind)
	}
	seen := make(map[string]bool, len(d.AddConstant))
	for _, col := range d.AddConstant {
		if col.Key == "" {
			return fmt.Errorf("dataset %q: constant column with empty key",
				d.Name)
		}
		if seen[col.Key] {
			return fmt.Errorf("dataset %q: duplicate constant column %q",
				d.Name, col.Key)
		}
		seen[col.Key] = true
	}
	return nil
}

// validateConstants requires every dataset to declare the same constant
// column set, so records from different datasets merge into one schema.
func (c *Config) validateConstants() error {
	union := make(map[string]bool)
	for dsIdx := range c.Datasets {
		for _, key := range c.Datasets[dsIdx].ConstantKeys() {
			union[key] = true
		}
	}
	for dsIdx := range c.Datasets {
		ds := &c.Datasets[dsIdx]
		declared := make(map[string]bool, len(ds.AddConstant))
		for _, key := range ds.ConstantKeys() {
			declared[key] = true
		}
		missing := make([]string, 0)
		for key := range union {
			if !declared[key] {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf(
				"dataset %q is missing constant columns %v; all datasets "+
					"must declare the same constant columns for merging",
				ds.Name, missing)
		}
	}
	return nil
}

// ConstantKeys returns the sorted constant column names shared by every
// dataset (identical across datasets once Validate passes).
func (c *Config) ConstantKeys() []string {
	if len(c.Datasets) == 0 {
		return nil
	}
	return c.Datasets[0].ConstantKeys()
}
