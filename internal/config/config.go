package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Network locates the pair factory of one network.
type Network struct {
	LCD     string
	Factory string
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Network        string
	Networks       map[string]Network
	Offline        bool
	Limit          int
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	RetryInterval  time.Duration
	Out            string
	Checkpoint     string
	PGDSN          string
	CustomAssets   string
	Listen         string
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("network", "mainnet")
		v.SetDefault("limit", 30)
		v.SetDefault("request-timeout", 10*time.Second)
		v.SetDefault("max-retries", 0)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("retry-interval", time.Duration(0))
		v.SetDefault("custom-assets", "./data/custom-assets")
		v.SetDefault("listen", ":8080")
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Network:        strings.ToLower(strings.TrimSpace(v.GetString("network"))),
		Networks:       getNetworks(v),
		Offline:        v.GetBool("offline"),
		Limit:          v.GetInt("limit"),
		RequestTimeout: v.GetDuration("request-timeout"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		RetryInterval:  v.GetDuration("retry-interval"),
		Out:            v.GetString("out"),
		Checkpoint:     v.GetString("checkpoint"),
		PGDSN:          v.GetString("pg-dsn"),
		CustomAssets:   v.GetString("custom-assets"),
		Listen:         v.GetString("listen"),
		LogLevel:       v.GetString("log-level"),
	}

	// --lcd/--factory describe the selected network and win over the file.
	lcd, factory := v.GetString("lcd"), v.GetString("factory")
	if lcd != "" || factory != "" {
		ep := cfg.Networks[cfg.Network]
		if lcd != "" {
			ep.LCD = lcd
		}
		if factory != "" {
			ep.Factory = factory
		}
		cfg.Networks[cfg.Network] = ep
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected network can be queried.
func (c Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("network is required")
	}
	ep, ok := c.Networks[c.Network]
	if !ok {
		return fmt.Errorf("network %s is not configured (known: %s)", c.Network, strings.Join(c.NetworkNames(), ", "))
	}
	if ep.LCD == "" {
		return fmt.Errorf("network %s: lcd url is required", c.Network)
	}
	if ep.Factory == "" {
		return fmt.Errorf("network %s: factory address is required", c.Network)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("limit must be positive: %d", c.Limit)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative: %d", c.MaxRetries)
	}
	return nil
}

// NetworkNames lists the configured networks, sorted.
func (c Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("PAIRSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// getNetworks reads the networks.<name>.lcd / .factory tree.
func getNetworks(v *viper.Viper) map[string]Network {
	out := make(map[string]Network)
	for name, raw := range v.GetStringMap("networks") {
		fields, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		out[name] = Network{
			LCD:     stringField(fields, "lcd"),
			Factory: stringField(fields, "factory"),
		}
	}
	return out
}

func stringField(fields map[string]interface{}, key string) string {
	val, ok := fields[key]
	if !ok || val == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", val))
}
