// Package config layers server configuration from three sources.
// Precedence, lowest to highest: values already set on the target
// struct, the YAML file, then environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load fills target, a pointer to a struct, from the file at path.
// Environment keys are the config path with dots replaced by
// underscores, so redis.ratelimit.limit reads REDIS_RATELIMIT_LIMIT.
func Load(path string, target any) error {
	defaults := make(map[string]any)
	if err := mapstructure.Decode(target, &defaults); err != nil {
		return fmt.Errorf("config: decode defaults: %w", err)
	}

	v := viper.New()
	if err := v.MergeConfigMap(defaults); err != nil {
		return fmt.Errorf("config: merge defaults: %w", err)
	}

	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}

	return nil
}
