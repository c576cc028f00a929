// Package config loads service configuration from a YAML file with
// environment variable overrides. The file declares the static parts
// (tenants, users, permissions); the environment carries deployment
// specifics (URLs, ports, timeouts).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration decodes YAML duration strings like "8s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Model   ModelConfig    `yaml:"model"`
	Redis   RedisConfig    `yaml:"redis"`
	NATS    NATSConfig     `yaml:"nats"`
	Planner PlannerConfig  `yaml:"planner"`
	Tenants []TenantConfig `yaml:"tenants"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type ModelConfig struct {
	BaseURL         string   `yaml:"base_url"`
	Name            string   `yaml:"name"`
	ClassifyTimeout Duration `yaml:"classify_timeout"`
	PlanTimeout     Duration `yaml:"plan_timeout"`
	ClassifyMaxTok  int      `yaml:"classify_max_tokens"`
	PlanMaxTok      int      `yaml:"plan_max_tokens"`
	UsePlannerModel bool     `yaml:"use_planner_model"`
}

type RedisConfig struct {
	URL        string   `yaml:"url"`
	SessionTTL Duration `yaml:"session_ttl"`
}

type NATSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	ClassifySubject string `yaml:"classify_subject"`
	PlanSubject     string `yaml:"plan_subject"`
	QueueGroup      string `yaml:"queue_group"`
}

type PlannerConfig struct {
	PlanTTL Duration `yaml:"plan_ttl"`

	// Phase is the deployment rollout phase: 1 pilot, 2 assist, 3 full.
	Phase int `yaml:"phase"`
}

// TenantConfig declares one clinic. API key secrets are never stored;
// only their bcrypt hashes appear here.
type TenantConfig struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Status  string         `yaml:"status"`
	APIKeys []APIKeyConfig `yaml:"api_keys"`
	Users   []UserConfig   `yaml:"users"`
}

type APIKeyConfig struct {
	KeyID      string `yaml:"key_id"`
	SecretHash string `yaml:"secret_hash"`
}

type UserConfig struct {
	ID          string   `yaml:"id"`
	Permissions []string `yaml:"permissions"`
}

// Load reads the YAML file, then applies environment overrides. An empty
// path skips the file and configures from defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Model: ModelConfig{
			BaseURL:         "http://localhost:11434",
			Name:            "qwen2.5:7b",
			ClassifyTimeout: Duration(8 * time.Second),
			PlanTimeout:     Duration(10 * time.Second),
			ClassifyMaxTok:  512,
			PlanMaxTok:      1024,
		},
		Redis: RedisConfig{
			URL:        "redis://localhost:6379/0",
			SessionTTL: Duration(30 * time.Minute),
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			ClassifySubject: "assist.classify",
			PlanSubject:     "assist.plan",
			QueueGroup:      "assistant-svc",
		},
		Planner: PlannerConfig{
			PlanTTL: Duration(5 * time.Minute),
			Phase:   2,
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("APP_ENV", c.Server.Env)

	c.Model.BaseURL = getEnv("OLLAMA_URL", c.Model.BaseURL)
	c.Model.Name = getEnv("OLLAMA_MODEL", c.Model.Name)
	c.Model.ClassifyTimeout = getDurationEnv("CLASSIFY_TIMEOUT", c.Model.ClassifyTimeout)
	c.Model.PlanTimeout = getDurationEnv("PLAN_TIMEOUT", c.Model.PlanTimeout)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.SessionTTL = getDurationEnv("SESSION_TTL", c.Redis.SessionTTL)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	if getEnv("NATS_ENABLED", "") == "true" {
		c.NATS.Enabled = true
	}

	c.Planner.PlanTTL = getDurationEnv("PLAN_TTL", c.Planner.PlanTTL)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return Duration(duration)
		}
	}
	return defaultValue
}
