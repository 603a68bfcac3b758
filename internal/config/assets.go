package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AssetsConfig holds configuration for the custom asset commands.
type AssetsConfig struct {
	Network      string
	CustomAssets string
	LogLevel     string
}

// LoadAssets merges config file, environment variables, and flags into AssetsConfig.
func LoadAssets(cfgFile string, flags *pflag.FlagSet) (AssetsConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("network", "mainnet")
		v.SetDefault("custom-assets", "./data/custom-assets")
	})
	if err != nil {
		return AssetsConfig{}, err
	}

	return AssetsConfig{
		Network:      strings.ToLower(strings.TrimSpace(v.GetString("network"))),
		CustomAssets: v.GetString("custom-assets"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}
