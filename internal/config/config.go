package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load config into the config struct, config must be a pointer to the config struct.
// The current values of config are the defaults. They are overridden by the
// file, if one is given, and then by environment variables, where the key
// "discord.token" is read from DISCORD_TOKEN.
func Load(file string, config any) error {
	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	setDefaults(v, "", m)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}

// setDefaults registers every leaf of m as a default, so that environment
// variables are looked up for keys the config file does not mention.
func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}

		v.SetDefault(key, val)
	}
}
