package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// DefaultProviderConfigPath is used when neither a flag nor RDNS_PROVIDER_PATH
// names a provider config file.
const DefaultProviderConfigPath = "configs/rdns-provider.yaml"

// ProviderConfig holds the rDNS provider type, app-level options, and
// provider-specific connection settings.
type ProviderConfig struct {
	Provider  string            `yaml:"provider"`
	CheckMode bool              `yaml:"check_mode"` // report changes without applying them
	Settings  map[string]string `yaml:"settings"`
}

// ProviderConfigPath returns the provider config path from the
// RDNS_PROVIDER_PATH environment variable, defaulting to
// "configs/rdns-provider.yaml".
func ProviderConfigPath() string {
	if path := os.Getenv("RDNS_PROVIDER_PATH"); path != "" {
		return path
	}
	return DefaultProviderConfigPath
}

// LoadProviderConfigFromPath reads the rDNS provider configuration from the
// given file path.
func LoadProviderConfigFromPath(path string) (*ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider config file: %w", err)
	}

	var cfg ProviderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing provider config file: %w", err)
	}

	if cfg.Provider == "" {
		return nil, fmt.Errorf("provider config: missing required field 'provider'")
	}
	if cfg.Settings == nil {
		cfg.Settings = map[string]string{}
	}

	// Expand ${ENV_VAR} references in setting values.
	for k, v := range cfg.Settings {
		cfg.Settings[k] = os.ExpandEnv(v)
	}

	return &cfg, nil
}
