package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	SummaryCacheTTLSeconds int
	MigrateOnStart         bool
	Operator               string
	SeedDemoData           bool
}

// flagKeys maps command line flags to the configuration keys they override.
var flagKeys = map[string]string{
	"database-url": "DATABASE_URL",
	"redis-addr":   "REDIS_ADDR",
	"operator":     "OPERATOR",
	"migrate":      "MIGRATE_ON_START",
}

// RegisterFlags adds the global flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "optional config file (yaml, json, toml or .env)")
	fs.String("database-url", "", "postgres connection string; empty uses the in-memory ledger")
	fs.String("redis-addr", "", "redis address for the summary cache")
	fs.String("operator", "", "username recorded in the audit trail")
	fs.Bool("migrate", false, "apply database migrations before running the command")
}

// Load reads configuration from defaults, an optional config file, the
// environment and finally flags, in increasing order of precedence.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SUMMARY_CACHE_TTL_SECONDS", 60)
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("OPERATOR", "system")
	v.SetDefault("SEED_DEMO_DATA", true)

	if fs != nil {
		for flag, key := range flagKeys {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", f.Value.String(), err)
			}
			log.Printf("[config] loaded %s", v.ConfigFileUsed())
		}
	}

	ttl := v.GetInt("SUMMARY_CACHE_TTL_SECONDS")
	if ttl < 1 {
		ttl = 60
	}
	operator := strings.TrimSpace(v.GetString("OPERATOR"))
	if operator == "" {
		operator = "system"
	}

	return Config{
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		SummaryCacheTTLSeconds: ttl,
		MigrateOnStart:         v.GetBool("MIGRATE_ON_START"),
		Operator:               operator,
		SeedDemoData:           v.GetBool("SEED_DEMO_DATA"),
	}, nil
}

func (c Config) SummaryCacheTTL() time.Duration {
	return time.Duration(c.SummaryCacheTTLSeconds) * time.Second
}
