package config

import (
	"errors"
	"strings"
	"time"

	"github.com/aryansinha9/irl-among-us/models"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Game     GameConfig     `mapstructure:"game"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress        string        `mapstructure:"http_address"`
	RPCAddress         string        `mapstructure:"rpc_address"`
	GRPCAddress        string        `mapstructure:"grpc_address"`
	MetricsAddress     string        `mapstructure:"metrics_address"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	Heartbeat          time.Duration `mapstructure:"heartbeat"` // 0 关闭读写超时
}

// StoreConfig selects the shared lobby store.
type StoreConfig struct {
	Driver     string        `mapstructure:"driver"` // memory | postgres | sqlite
	SQLitePath string        `mapstructure:"sqlite_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type GameConfig struct {
	TasksPerPlayer  int            `mapstructure:"tasks_per_player"`
	DefaultSettings SettingsConfig `mapstructure:"default_settings"`
}

// SettingsConfig 新建大厅的默认设置
type SettingsConfig struct {
	NumImposters   int  `mapstructure:"num_imposters"`
	Jester         bool `mapstructure:"jester"`
	Sheriff        bool `mapstructure:"sheriff"`
	DiscussionTime int  `mapstructure:"discussion_time"`
	VotingTime     int  `mapstructure:"voting_time"`
}

// Settings converts the configured defaults into lobby settings.
func (s SettingsConfig) Settings() models.Settings {
	return models.Settings{
		NumImposters:   s.NumImposters,
		Roles:          models.RoleSettings{Jester: s.Jester, Sheriff: s.Sheriff},
		DiscussionTime: s.DiscussionTime,
		VotingTime:     s.VotingTime,
	}
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.grpc_address", ":8082")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.session_idle_timeout", 10*time.Minute)
	v.SetDefault("server.heartbeat", 30*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_path", "lobbies.db")
	v.SetDefault("store.timeout", 5*time.Second)

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "lobbies")

	v.SetDefault("game.tasks_per_player", 5)
	v.SetDefault("game.default_settings.num_imposters", 1)
	v.SetDefault("game.default_settings.jester", false)
	v.SetDefault("game.default_settings.sheriff", false)
	v.SetDefault("game.default_settings.discussion_time", 30)
	v.SetDefault("game.default_settings.voting_time", 120)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads config.yaml from path when present, then applies
// LOBBY_-prefixed environment overrides (server.http_address ->
// LOBBY_SERVER_HTTP_ADDRESS). A missing file is not an error.
func LoadConfig(path string) (config *Config, err error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	err = v.Unmarshal(&config)
	return
}
