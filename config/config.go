package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Security  SecurityConfig  `mapstructure:"security"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Game      GameConfig      `mapstructure:"game"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

type GeneratorConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type GameConfig struct {
	// XP reward bounds, inclusive. Daily quests pay more than user quests.
	QuestXPMin int `mapstructure:"quest_xp_min"`
	QuestXPMax int `mapstructure:"quest_xp_max"`
	DailyXPMin int `mapstructure:"daily_xp_min"`
	DailyXPMax int `mapstructure:"daily_xp_max"`

	RankingRefreshS int `mapstructure:"ranking_refresh_s"`
	SessionIdleMaxS int `mapstructure:"session_idle_max_s"`
	SessionSweepS   int `mapstructure:"session_sweep_s"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/habitforge.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("generator.base_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("generator.model", "gpt-3.5-turbo")
	v.SetDefault("generator.max_tokens", 70)
	v.SetDefault("generator.timeout", "15s")
	v.SetDefault("game.quest_xp_min", 5)
	v.SetDefault("game.quest_xp_max", 20)
	v.SetDefault("game.daily_xp_min", 10)
	v.SetDefault("game.daily_xp_max", 30)
	v.SetDefault("game.ranking_refresh_s", 300)
	v.SetDefault("game.session_idle_max_s", 3600)
	v.SetDefault("game.session_sweep_s", 300)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
