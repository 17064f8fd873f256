package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads configuration from a YAML file and layers a small set of
// environment-variable overrides on top of it, so secrets (internalSystemKey,
// signing keys, API keys) never have to live in the file on disk.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}

	cfg, err := FromYAML(data)
	if err != nil {
		return Config{}, err
	}
	return cfg.Merge(envOverlay()), nil
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// secretEnvKeys maps config keys that must never be sourced from a file in
// production to the environment variable that supplies them instead.
var secretEnvKeys = map[string]string{
	"internalSystemKey":       "SAGAENGINE_INTERNAL_SYSTEM_KEY",
	"queue.token":             "SAGAENGINE_QUEUE_TOKEN",
	"queue.signingKeyCurrent": "SAGAENGINE_QUEUE_SIGNING_KEY_CURRENT",
	"queue.signingKeyNext":    "SAGAENGINE_QUEUE_SIGNING_KEY_NEXT",
	"eventBus.apiKey":         "SAGAENGINE_EVENT_BUS_API_KEY",
	"stateStore.token":        "SAGAENGINE_STATE_STORE_TOKEN",
}

func envOverlay() map[string]any {
	overlay := make(map[string]any, len(secretEnvKeys))
	for key, envVar := range secretEnvKeys {
		if v, ok := os.LookupEnv(envVar); ok {
			overlay[key] = v
		}
	}
	return overlay
}

// ValidateProduction enforces spec §6's "fatal misconfiguration" rule: in
// production, internalSystemKey must be at least 32 characters and queue
// credentials must be present.
func (c Config) ValidateProduction() error {
	key := c.String("internalSystemKey", "")
	if len(key) < 32 {
		return fmt.Errorf("internalSystemKey must be at least 32 characters in production")
	}
	if c.String("queue.token", "") == "" {
		return fmt.Errorf("queue.token is required in production")
	}
	if c.String("queue.signingKeyCurrent", "") == "" {
		return fmt.Errorf("queue.signingKeyCurrent is required in production")
	}
	return nil
}
