package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// maxUpwardSearchLevels limits how far up the directory tree to search for
// config files.
const maxUpwardSearchLevels = 10

// Load resolves configuration with the usual precedence:
// defaults < config file < CLEANSLATE_* env vars < CLI flags.
// explicit names a config file directly; empty means probe for
// cleanslate.yaml upward from the working directory. flags may be nil.
func Load(explicit string, flags *pflag.FlagSet) (*Config, string, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"database":                     DefaultDatabasePath,
		"state":                        DefaultStatePath,
		"snapshot_dir":                 DefaultSnapshotDir,
		"timeline.checkpoint_interval": DefaultCheckpointInterval,
		"timeline.save_debounce_ms":    DefaultSaveDebounceMS,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile(explicit)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, "", fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if explicit != "" {
		return nil, "", fmt.Errorf("config file not found: %s", explicit)
	}

	// CLEANSLATE_TIMELINE__CHECKPOINT_INTERVAL -> timeline.checkpoint_interval
	envProvider := env.Provider("CLEANSLATE_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "CLEANSLATE_"))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, "", fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, "", fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()

	return &cfg, configPath, nil
}

// findConfigFile finds the config file to use.
// Priority: explicit path > cleanslate.yaml upward from CWD.
func findConfigFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for i := 0; i < maxUpwardSearchLevels; i++ {
		for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
