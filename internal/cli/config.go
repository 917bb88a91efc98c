package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// serverConfig is the optional YAML config for the serve command. Flags win
// over the file, the file wins over TESSELLATE_* env vars.
type serverConfig struct {
	Addr          string `yaml:"addr"`
	Socket        string `yaml:"socket"`
	DB            string `yaml:"db"`
	Keys          string `yaml:"keys"`
	SweepInterval string `yaml:"sweep_interval"`
	SweepGrace    string `yaml:"sweep_grace"`
}

// loadServerConfig reads path; a missing file yields a zero config when the
// caller didn't name the path explicitly.
func loadServerConfig(path string, explicit bool) (serverConfig, error) {
	var cfg serverConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveSetting picks a value by precedence: flag when set, then config file,
// then environment, then the flag's default.
func resolveSetting(flagChanged bool, flagValue, configValue, envKey string) string {
	if flagChanged {
		return flagValue
	}
	if configValue != "" {
		return configValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return flagValue
}

func resolveDuration(flagChanged bool, flagValue time.Duration, configValue, name string) (time.Duration, error) {
	if flagChanged || configValue == "" {
		return flagValue, nil
	}
	d, err := time.ParseDuration(configValue)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}
