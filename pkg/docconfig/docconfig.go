// Package docconfig loads document-engine runtime settings from an
// optional automerge.yaml file and AUTOMERGE_-prefixed environment
// variables, environment taking precedence over file, file taking
// precedence over built-in defaults.
//
// Grounded in the teacher's pkg/config (env-first Neo4j-compatible
// loader) and apoc/config.go (yaml.v3-backed LoadConfig/LoadFromEnvOrFile
// layering) — this package keeps the same three-tier precedence and
// doc-comment register but covers this engine's actual knobs: whether to
// verify change hashes on load, whether text indexing runs in UTF-8 or
// UTF-32 mode, and the data directory badgerbackend stores op state
// under.
package docconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrBadConfig is returned by LoadFile when the YAML is malformed or
// carries a key this engine does not recognize (the recognized-options
// contract: unknown keys are rejected rather than silently ignored).
var ErrBadConfig = errors.New("docconfig: invalid configuration")

// TextMode selects how list-index positions are counted in Text
// objects (spec §9 Open Question 3: "UTF-8 vs UTF-32 text indexing").
type TextMode string

const (
	// TextModeUTF8 counts positions in bytes.
	TextModeUTF8 TextMode = "utf8"
	// TextModeUTF32 counts positions in runes (Unicode code points).
	TextModeUTF32 TextMode = "utf32"
)

// Config holds document-engine runtime settings.
type Config struct {
	// VerifyHashes controls whether load checks a saved document's
	// trailing hash against its contents before parsing it (passed to
	// pkg/codec's Options.VerifyHashes). Decoding a single incremental
	// change always checks its hash, and apply_changes does not read this
	// setting. Disabling trades that integrity check for faster bulk load
	// of already-trusted data.
	VerifyHashes bool `yaml:"verify_hashes"`

	// TextMode selects byte or rune indexing for Text objects.
	TextMode TextMode `yaml:"text_mode"`

	// ConvertScalarStrToText converts scalar string values into Text
	// objects while loading saves produced by engines that stored text as
	// plain strings. Recognized for compatibility with that older layout;
	// format-v1 saves always store text as Text objects, so the option
	// has no effect on blobs this engine writes.
	ConvertScalarStrToText bool `yaml:"convert_scalar_str_to_text"`

	// DataDir is the directory pkg/opstore/badgerbackend persists to.
	DataDir string `yaml:"data_dir"`

	// ResCacheSize and ResCacheTTL size and age out pkg/rescache's
	// resolved-winner cache.
	ResCacheSize int           `yaml:"rescache_size"`
	ResCacheTTL  time.Duration `yaml:"-"`

	// PoolEnabled and PoolMaxSize configure internal/bufpool.
	PoolEnabled bool `yaml:"pool_enabled"`
	PoolMaxSize int  `yaml:"pool_max_size"`

	// CompressThreshold is the minimum canonical-payload size (bytes) a
	// changelog.Change must reach before pkg/codec attempts s2
	// compression of its document chapter.
	CompressThreshold int `yaml:"compress_threshold"`
}

// yamlShape mirrors Config's field layout but with ResCacheTTL as the
// duration-string form YAML actually carries (time.Duration has no
// native yaml.v3 scalar decoding, unlike its text-based env var
// counterpart which goes through time.ParseDuration directly).
type yamlShape struct {
	VerifyHashes           bool     `yaml:"verify_hashes"`
	TextMode               TextMode `yaml:"text_mode"`
	ConvertScalarStrToText bool     `yaml:"convert_scalar_str_to_text"`
	DataDir                string   `yaml:"data_dir"`
	ResCacheSize           int      `yaml:"rescache_size"`
	ResCacheTTL            string   `yaml:"rescache_ttl"`
	PoolEnabled            bool     `yaml:"pool_enabled"`
	PoolMaxSize            int      `yaml:"pool_max_size"`
	CompressThreshold      int      `yaml:"compress_threshold"`
}

// applyShape copies a decoded yamlShape onto c, parsing ResCacheTTL's
// duration string (time.Duration has no native yaml.v3 scalar decoding,
// unlike its text-based env var counterpart which goes through
// time.ParseDuration directly).
func (c *Config) applyShape(shape yamlShape) {
	c.VerifyHashes = shape.VerifyHashes
	c.TextMode = shape.TextMode
	c.ConvertScalarStrToText = shape.ConvertScalarStrToText
	c.DataDir = shape.DataDir
	c.ResCacheSize = shape.ResCacheSize
	c.PoolEnabled = shape.PoolEnabled
	c.PoolMaxSize = shape.PoolMaxSize
	c.CompressThreshold = shape.CompressThreshold
	if shape.ResCacheTTL != "" {
		if d, err := time.ParseDuration(shape.ResCacheTTL); err == nil {
			c.ResCacheTTL = d
		}
	}
}

// Default returns the built-in configuration used when no file or
// environment variable overrides a setting.
func Default() *Config {
	return &Config{
		VerifyHashes:      true,
		TextMode:          TextModeUTF8,
		DataDir:           "./data",
		ResCacheSize:      1000,
		ResCacheTTL:       5 * time.Minute,
		PoolEnabled:       true,
		PoolMaxSize:       1 << 20,
		CompressThreshold: 256,
	}
}

// LoadFile reads and parses a YAML config file. A field absent from the
// file keeps the value it already had on cfg (LoadFileOrDefault and Load
// both start from Default()).
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	shape := yamlShape{
		VerifyHashes:           cfg.VerifyHashes,
		TextMode:               cfg.TextMode,
		ConvertScalarStrToText: cfg.ConvertScalarStrToText,
		DataDir:                cfg.DataDir,
		ResCacheSize:           cfg.ResCacheSize,
		ResCacheTTL:            cfg.ResCacheTTL.String(),
		PoolEnabled:            cfg.PoolEnabled,
		PoolMaxSize:            cfg.PoolMaxSize,
		CompressThreshold:      cfg.CompressThreshold,
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&shape); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	cfg.applyShape(shape)
	return cfg, nil
}

// LoadFileOrDefault loads path if it exists, falling back to Default()
// if the file is missing or unreadable.
func LoadFileOrDefault(path string) *Config {
	cfg, err := LoadFile(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Load layers environment variables over an optional automerge.yaml
// file over built-in defaults (file path defaults to "automerge.yaml"
// in the working directory if filePath is empty).
func Load(filePath string) *Config {
	if filePath == "" {
		filePath = "automerge.yaml"
	}
	cfg := LoadFileOrDefault(filePath)

	if v := os.Getenv("AUTOMERGE_VERIFY_HASHES"); v != "" {
		cfg.VerifyHashes = parseBool(v, cfg.VerifyHashes)
	}
	if v := os.Getenv("AUTOMERGE_TEXT_MODE"); v != "" {
		switch strings.ToLower(v) {
		case "utf8":
			cfg.TextMode = TextModeUTF8
		case "utf32":
			cfg.TextMode = TextModeUTF32
		}
	}
	if v := os.Getenv("AUTOMERGE_TEXT_CONVERT"); v != "" {
		cfg.ConvertScalarStrToText = parseBool(v, cfg.ConvertScalarStrToText)
	}
	if v := os.Getenv("AUTOMERGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AUTOMERGE_RESCACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ResCacheSize = n
		}
	}
	if v := os.Getenv("AUTOMERGE_RESCACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ResCacheTTL = d
		}
	}
	if v := os.Getenv("AUTOMERGE_POOL_ENABLED"); v != "" {
		cfg.PoolEnabled = parseBool(v, cfg.PoolEnabled)
	}
	if v := os.Getenv("AUTOMERGE_POOL_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolMaxSize = n
		}
	}
	if v := os.Getenv("AUTOMERGE_COMPRESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CompressThreshold = n
		}
	}

	return cfg
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}
