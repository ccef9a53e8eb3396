package config

import (
	"fmt"
	"strings"
	"time"

	pkgconfig "stageflow/pkg/config"
)

type Config struct {
	Env      string                   `yaml:"-"`
	DB       pkgconfig.DBConfig       `yaml:"db"`
	MQ       pkgconfig.MQConfig       `yaml:"mq"`
	Redis    pkgconfig.RedisConfig    `yaml:"redis"`
	JWT      pkgconfig.JWTConfig      `yaml:"jwt"`
	Server   pkgconfig.ServerConfig   `yaml:"server"`
	Lock     pkgconfig.LockConfig     `yaml:"lock"`
	Schedule pkgconfig.ScheduleConfig `yaml:"schedule"`
	Log      pkgconfig.LogConfig      `yaml:"log"`
}

// Load reads config/base.yaml, the CONFIG_ENV overlay and secrets.env, then
// applies environment overrides.
func Load(dir string) (*Config, error) {
	env := pkgconfig.GetConfigEnv()
	merged, err := pkgconfig.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := pkgconfig.Decode(merged, cfg); err != nil {
		return nil, err
	}
	cfg.Env = env

	// 环境变量覆盖（生产环境使用）
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideScheduleFromEnv(&cfg.Schedule)
	pkgconfig.OverrideLockFromEnv(&cfg.Lock)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		DB: pkgconfig.DBConfig{
			Host:          "localhost",
			Port:          5432,
			SSLMode:       "disable",
			MaxConns:      10,
			MinConns:      2,
			SlowThreshold: 100 * time.Millisecond,
		},
		MQ: pkgconfig.MQConfig{Exchange: "events"},
		Server: pkgconfig.ServerConfig{
			Port:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Lock: pkgconfig.LockConfig{
			Backend: "local",
			TTL:     10 * time.Second,
			Wait:    3 * time.Second,
		},
		Schedule: pkgconfig.ScheduleConfig{
			SystemStageType: "procurement",
			SystemStageName: "Procurement",
		},
		Log: pkgconfig.LogConfig{Level: "info"},
	}
}

func (c *Config) Validate() error {
	if c.Schedule.MinLag < 0 {
		return fmt.Errorf("schedule.min_lag must not be negative")
	}
	if c.Schedule.SystemStageType == "" {
		return fmt.Errorf("schedule.system_stage_type is required")
	}
	switch c.Lock.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("lock.backend must be local or redis, got %q", c.Lock.Backend)
	}
	if c.Lock.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when lock.backend is redis")
	}
	if c.JWT.Secret == "" || strings.HasPrefix(c.JWT.Secret, "${") {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}
