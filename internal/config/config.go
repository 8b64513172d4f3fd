// Package config loads and validates the sync engine configuration:
// YAML over defaults, checked against an embedded CUE schema before any
// component starts.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the full engine configuration.
type Config struct {
	Database Database `yaml:"database" json:"database"`
	Remote   Remote   `yaml:"remote" json:"remote"`
	Batch    Batch    `yaml:"batch" json:"batch"`
	Timer    Timer    `yaml:"timer" json:"timer"`
	Snapshot Snapshot `yaml:"snapshot" json:"snapshot"`
	Listen   string   `yaml:"listen" json:"listen"`
	Log      Log      `yaml:"log" json:"log"`
}

// Database locates the local persistent store.
type Database struct {
	Path string `yaml:"path" json:"path"`
}

// Remote configures the network adapter.
type Remote struct {
	BaseURL     string `yaml:"baseUrl" json:"baseUrl"`
	APIVersion  string `yaml:"apiVersion" json:"apiVersion"`
	TimeoutMS   int    `yaml:"timeoutMs" json:"timeoutMs"`
	NativeRetry bool   `yaml:"nativeRetry" json:"nativeRetry"`
}

// Batch configures the intent collection window.
type Batch struct {
	WindowMS int `yaml:"windowMs" json:"windowMs"`
}

// Timer configures the deferred-timer tick resolution.
type Timer struct {
	ResolutionMS int `yaml:"resolutionMs" json:"resolutionMs"`
}

// Snapshot configures the staleness lifetime of merge-base snapshots.
type Snapshot struct {
	LifetimeMS int `yaml:"lifetimeMs" json:"lifetimeMs"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{Path: "sync.db"},
		Remote: Remote{
			BaseURL:    "http://localhost:3000",
			APIVersion: "1",
			TimeoutMS:  4500,
		},
		Batch:    Batch{WindowMS: 12000},
		Timer:    Timer{ResolutionMS: 500},
		Snapshot: Snapshot{LifetimeMS: 60000},
		Listen:   ":8089",
		Log:      Log{Level: "info", Format: "text"},
	}
}

// Load reads YAML from path over the defaults and validates the result.
// An empty path yields the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate unifies the configuration with the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	constraint := schema.LookupPath(cue.ParsePath("#Config"))
	if err := constraint.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := constraint.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Timeout returns the remote call timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Remote.TimeoutMS) * time.Millisecond
}

// Window returns the batch collection window.
func (c Config) Window() time.Duration {
	return time.Duration(c.Batch.WindowMS) * time.Millisecond
}

// Resolution returns the timer tick resolution.
func (c Config) Resolution() time.Duration {
	return time.Duration(c.Timer.ResolutionMS) * time.Millisecond
}

// SnapshotLifetime returns the snapshot staleness lifetime.
func (c Config) SnapshotLifetime() time.Duration {
	return time.Duration(c.Snapshot.LifetimeMS) * time.Millisecond
}
