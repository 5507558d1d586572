package mamsdk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BaseURL string        `mapstructure:"baseUrl"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`

	v *viper.Viper
}

const (
	EnvPrefix  = "MAM"
	ConfigRoot = ".mam"

	BaseUrlKey = "baseUrl"
	TokenKey   = "token"
	TimeoutKey = "timeout"
)

// LoadConfig reads mam.yaml from the working directory, then merges
// .mam/config.yaml over it. MAM_* environment variables win over both.
// A non-empty cfgFile replaces the lookup.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	for _, k := range []string{BaseUrlKey, TokenKey, TimeoutKey} {
		_ = v.BindEnv(k, EnvPrefix+"_"+strings.ToUpper(k))
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		for _, name := range []string{"mam.yaml", "mam.yml", ".mam.yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// Viper returns the underlying instance for flag binding.
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// ConfigFileUsed returns the config file that was read, if any.
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

func setDefaults(v *viper.Viper) {
	if !v.IsSet(BaseUrlKey) {
		v.SetDefault(BaseUrlKey, "http://localhost:3000")
	} else {
		v.Set(BaseUrlKey, strings.TrimRight(v.GetString(BaseUrlKey), "/"))
	}
	v.SetDefault(TimeoutKey, 30*time.Second)
}
