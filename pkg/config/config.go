package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	SSLMode       string        `yaml:"sslmode"`
	MaxConns      int32         `yaml:"max_conns"`
	MinConns      int32         `yaml:"min_conns"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	Migrate       bool          `yaml:"migrate"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Enabled  bool   `yaml:"enabled"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// LockConfig selects the per-item lock backend ("redis" or "local").
type LockConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Wait    time.Duration `yaml:"wait"`
}

// ScheduleConfig tunes the scheduling engine.
type ScheduleConfig struct {
	// MinLag is the gap kept between a prerequisite's end and a dependent's start.
	MinLag          time.Duration `yaml:"min_lag"`
	SystemStageType string        `yaml:"system_stage_type"`
	SystemStageName string        `yaml:"system_stage_name"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
		cfg.Enabled = true
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideScheduleFromEnv reads SCHEDULE_MIN_LAG (a Go duration, e.g. "24h").
func OverrideScheduleFromEnv(cfg *ScheduleConfig) {
	if lag := os.Getenv("SCHEDULE_MIN_LAG"); lag != "" {
		if d, err := time.ParseDuration(lag); err == nil && d >= 0 {
			cfg.MinLag = d
		}
	}
}

// OverrideLockFromEnv 从环境变量覆盖锁配置
func OverrideLockFromEnv(cfg *LockConfig) {
	if backend := os.Getenv("LOCK_BACKEND"); backend != "" {
		cfg.Backend = backend
	}
}
