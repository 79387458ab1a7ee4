package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TASKBOARD"

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Log       LogConfig       `mapstructure:"log" validate:"required"`
	Store     StoreConfig     `mapstructure:"store" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Broadcast BroadcastConfig `mapstructure:"broadcast" validate:"required"`
	Socket    SocketConfig    `mapstructure:"socket" validate:"required"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"required,min=1"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

type StoreConfig struct {
	Backend string       `mapstructure:"backend" validate:"required,oneof=memory tables mongo"`
	Tables  TablesConfig `mapstructure:"tables"`
	Mongo   MongoConfig  `mapstructure:"mongo"`
}

type TablesConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	TasksTable       string `mapstructure:"tasks_table"`
	UsersTable       string `mapstructure:"users_table"`
}

type MongoConfig struct {
	URI             string `mapstructure:"uri"`
	Database        string `mapstructure:"database"`
	TasksCollection string `mapstructure:"tasks_collection"`
	UsersCollection string `mapstructure:"users_collection"`
}

type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	Channel   string        `mapstructure:"channel" validate:"required"`
	ViewTTL   time.Duration `mapstructure:"view_ttl" validate:"gte=0"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl" validate:"gt=0"`
}

type BroadcastConfig struct {
	Mode string `mapstructure:"mode" validate:"required,oneof=scoped global"`
}

type SocketConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.tables.connection_string", "")
	v.SetDefault("store.tables.tasks_table", "tasks")
	v.SetDefault("store.tables.users_table", "users")
	v.SetDefault("store.mongo.uri", "")
	v.SetDefault("store.mongo.database", "task_manager")
	v.SetDefault("store.mongo.tasks_collection", "tasks")
	v.SetDefault("store.mongo.users_collection", "users_collection")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "taskboard:views")
	v.SetDefault("redis.view_ttl", time.Minute)
	v.SetDefault("redis.dedupe_ttl", 24*time.Hour)
	v.SetDefault("broadcast.mode", "scoped")
	v.SetDefault("socket.send_buffer", 32)
	v.SetDefault("socket.write_timeout", 10*time.Second)
	v.SetDefault("socket.ping_interval", 30*time.Second)
}

// Load reads configuration from TASKBOARD_* environment variables and, when
// TASKBOARD_CONFIG names one, a config file. Environment values win.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the settings required by the
// selected store backend.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	var missing []string
	switch c.Store.Backend {
	case "tables":
		if c.Store.Tables.ConnectionString == "" {
			missing = append(missing, "store.tables.connection_string")
		}
		if c.Store.Tables.TasksTable == "" {
			missing = append(missing, "store.tables.tasks_table")
		}
		if c.Store.Tables.UsersTable == "" {
			missing = append(missing, "store.tables.users_table")
		}
	case "mongo":
		if c.Store.Mongo.URI == "" {
			missing = append(missing, "store.mongo.uri")
		}
		if c.Store.Mongo.Database == "" {
			missing = append(missing, "store.mongo.database")
		}
		if c.Store.Mongo.TasksCollection == "" {
			missing = append(missing, "store.mongo.tasks_collection")
		}
		if c.Store.Mongo.UsersCollection == "" {
			missing = append(missing, "store.mongo.users_collection")
		}
	}
	if len(missing) > 0 {
		return errors.New("config validation failed: missing " + strings.Join(missing, ", "))
	}
	return nil
}
