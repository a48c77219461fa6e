package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env                string `mapstructure:"env"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	Log                LogConfig
	Store              StoreConfig
	Server             ServerConfig
	Events             EventsConfig
	Redis              RedisConfig
	Keeper             KeeperConfig
	Genesis            GenesisConfig
	Signer             SignerConfig
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// StoreConfig selects the state database.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// ServerConfig holds gRPC settings.
type ServerConfig struct {
	SocketPath     string `mapstructure:"socket_path"`
	ListenAddr     string `mapstructure:"listen_addr"`
	AuthMaxSkewSec int    `mapstructure:"auth_max_skew_sec"`
}

// AuthMaxSkew is the longest validity a signed request may claim.
func (s ServerConfig) AuthMaxSkew() time.Duration {
	return time.Duration(s.AuthMaxSkewSec) * time.Second
}

// EventsConfig holds the event/metrics HTTP endpoint.
type EventsConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// AllowedOrigins lists extra browser origins admitted by the websocket
	// stream. Empty means same-origin only; "*" admits any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KeeperConfig holds the round keeper schedule and its price gate.
type KeeperConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Schedule          string `mapstructure:"schedule"`
	StaleThresholdSec int    `mapstructure:"stale_threshold_sec"`
	CoolOffSec        int    `mapstructure:"cool_off_sec"`
}

// GenesisConfig seeds a fresh store. Admin and Feeder are hex addresses;
// an empty Feeder leaves the admin as feeder.
type GenesisConfig struct {
	Admin  string   `mapstructure:"admin"`
	Feeder string   `mapstructure:"feeder"`
	Feeds  []string `mapstructure:"feeds"`
	Oracle string   `mapstructure:"oracle"`
}

// SignerConfig locates the operator key: a hex key, or a file holding a
// KMS-encrypted key.
type SignerConfig struct {
	KeyHex    string `mapstructure:"key_hex"`
	KeyFile   string `mapstructure:"key_file"`
	KMSKeyID  string `mapstructure:"kms_key_id"`
	AWSRegion string `mapstructure:"aws_region"`
}

// Load reads configuration from environment variables prefixed with SETTLE_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SETTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.sampling", true)

	v.SetDefault("store.backend", "goleveldb")
	v.SetDefault("store.dir", "/var/lib/settle")

	v.SetDefault("server.socket_path", "/var/run/settle/settle.sock")
	v.SetDefault("server.listen_addr", "")
	v.SetDefault("server.auth_max_skew_sec", 300)

	v.SetDefault("events.http_addr", ":8090")
	v.SetDefault("events.allowed_origins", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("keeper.enabled", true)
	v.SetDefault("keeper.schedule", "*/5 * * * * *")
	v.SetDefault("keeper.stale_threshold_sec", 300)
	v.SetDefault("keeper.cool_off_sec", 30)

	v.SetDefault("genesis.feeds", "default")
	v.SetDefault("genesis.oracle", "default")

	v.SetDefault("signer.aws_region", "us-east-1")

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LocalStackEndpoint = v.GetString("localstack_endpoint")

	cfg.Log = LogConfig{
		Level:             v.GetString("log.level"),
		Encoding:          v.GetString("log.encoding"),
		Development:       v.GetBool("log.development"),
		Sampling:          v.GetBool("log.sampling"),
		DisableCaller:     v.GetBool("log.disable_caller"),
		DisableStacktrace: v.GetBool("log.disable_stacktrace"),
	}

	cfg.Store = StoreConfig{
		Backend: v.GetString("store.backend"),
		Dir:     v.GetString("store.dir"),
	}

	cfg.Server = ServerConfig{
		SocketPath:     v.GetString("server.socket_path"),
		ListenAddr:     v.GetString("server.listen_addr"),
		AuthMaxSkewSec: v.GetInt("server.auth_max_skew_sec"),
	}

	cfg.Events = EventsConfig{
		HTTPAddr:       v.GetString("events.http_addr"),
		AllowedOrigins: splitList(v.GetString("events.allowed_origins")),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("redis.enabled"),
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.Keeper = KeeperConfig{
		Enabled:           v.GetBool("keeper.enabled"),
		Schedule:          v.GetString("keeper.schedule"),
		StaleThresholdSec: v.GetInt("keeper.stale_threshold_sec"),
		CoolOffSec:        v.GetInt("keeper.cool_off_sec"),
	}

	cfg.Genesis = GenesisConfig{
		Admin:  v.GetString("genesis.admin"),
		Feeder: v.GetString("genesis.feeder"),
		Feeds:  splitList(v.GetString("genesis.feeds")),
		Oracle: v.GetString("genesis.oracle"),
	}

	cfg.Signer = SignerConfig{
		KeyHex:    v.GetString("signer.key_hex"),
		KeyFile:   v.GetString("signer.key_file"),
		KMSKeyID:  v.GetString("signer.kms_key_id"),
		AWSRegion: v.GetString("signer.aws_region"),
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
