package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "AIRLOCK"

// Load overlays options, which must already carry its defaults, with the optional
// config file and then AIRLOCK_* environment variables. Nested keys map to
// underscores, so retry.maxAttempts is read from AIRLOCK_RETRY_MAXATTEMPTS.
func Load(file string, options any) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := toMap(options)
	if err != nil {
		return err
	}
	for key, value := range flatten("", defaults) {
		v.SetDefault(key, value)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}
	if err := v.Unmarshal(options); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// LoadWithFlags is Load for options bound to flags. Flags set on the command
// line are applied again afterwards and take precedence over file and env.
func LoadWithFlags(flags *pflag.FlagSet, file string, options any) error {
	changed := map[string]string{}
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := Load(file, options); err != nil {
		return err
	}
	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func toMap(options any) (map[string]any, error) {
	content, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("options must encode as an object: %w", err)
	}
	return m, nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
