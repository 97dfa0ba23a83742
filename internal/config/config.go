package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Bevor-Protocol/certaik-api/internal/application/pipeline"
)

// DefaultPath is used when CONFIG_PATH is unset
const DefaultPath = "config.yaml"

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Minio    Minio    `yaml:"minio"`
	OpenAI   OpenAI   `yaml:"openai"`
	Pipeline Pipeline `yaml:"pipeline"`
	Prompts  Prompts  `yaml:"prompts"`
	Log      Log      `yaml:"log"`
}

type Server struct {
	Port         int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout  time.Duration `split_words:"true" yaml:"readTimeout"`
	WriteTimeout time.Duration `split_words:"true" yaml:"writeTimeout"`
	CorsOrigins  []string      `split_words:"true" yaml:"corsOrigins"`
}

type Database struct {
	Driver       string `yaml:"driver" validate:"oneof=mysql postgres"`
	Host         string `yaml:"host" validate:"required"`
	Port         int    `yaml:"port" validate:"gt=0"`
	User         string `yaml:"user" validate:"required"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name" validate:"required"`
	SSLMode      string `split_words:"true" yaml:"sslMode"`
	MaxOpenConns int    `split_words:"true" yaml:"maxOpenConns"`
	MaxIdleConns int    `split_words:"true" yaml:"maxIdleConns"`
}

// Redis is optional; an empty Addr disables progress events
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// Minio is optional; an empty Endpoint disables report archiving
type Minio struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `split_words:"true" yaml:"accessKey"`
	SecretKey  string `split_words:"true" yaml:"secretKey"`
	BucketName string `split_words:"true" yaml:"bucketName" validate:"required_with=Endpoint"`
	Region     string `yaml:"region"`
	UseSSL     bool   `split_words:"true" yaml:"useSSL"`
}

type OpenAI struct {
	APIKey  string `split_words:"true" yaml:"apiKey" validate:"required"`
	BaseURL string `split_words:"true" yaml:"baseURL" validate:"omitempty,url"`
}

type Pipeline struct {
	Model                string  `yaml:"model" validate:"required"`
	CandidateTemperature float32 `split_words:"true" yaml:"candidateTemperature" validate:"gte=0,lte=2"`
	JudgeTemperature     float32 `split_words:"true" yaml:"judgeTemperature" validate:"gte=0,lte=2"`
	MaxOutputTokens      int     `split_words:"true" yaml:"maxOutputTokens" validate:"gt=0"`
	EventsEnabled        bool    `split_words:"true" yaml:"eventsEnabled"`
	DrainBatch           int     `split_words:"true" yaml:"drainBatch" validate:"gt=0"`

	// Lease is how long a processing job may go untouched before another
	// run can reclaim it. Zero disables reclaiming.
	Lease time.Duration `yaml:"lease" validate:"gte=0"`
}

type Prompts struct {
	Source string `yaml:"source" validate:"oneof=file database"`
	Path   string `yaml:"path" validate:"required_if=Source file"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Load reads path (when it exists), loads .env, overlays the environment and
// validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		// environment only
	default:
		return nil, err
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PathFromEnv returns CONFIG_PATH or DefaultPath
func PathFromEnv() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

func defaults() *Config {
	policy := pipeline.DefaultPolicy()
	return &Config{
		Server: Server{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			CorsOrigins:  []string{"*"},
		},
		Database: Database{Driver: "mysql", Port: 3306, SSLMode: "disable"},
		Pipeline: Pipeline{
			Model:                policy.Model,
			CandidateTemperature: policy.CandidateTemperature,
			JudgeTemperature:     policy.JudgeTemperature,
			MaxOutputTokens:      policy.MaxOutputTokens,
			EventsEnabled:        true,
			DrainBatch:           10,
			Lease:                30 * time.Minute,
		},
		Prompts: Prompts{Source: "file", Path: "configs/prompts.yaml"},
		Log:     Log{Level: "info", Format: "json"},
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Policy is the model policy every job runs with
func (c *Config) Policy() pipeline.Policy {
	return pipeline.Policy{
		Model:                c.Pipeline.Model,
		CandidateTemperature: c.Pipeline.CandidateTemperature,
		JudgeTemperature:     c.Pipeline.JudgeTemperature,
		MaxOutputTokens:      c.Pipeline.MaxOutputTokens,
	}
}

// MySQLDSN builds the go-sql-driver DSN
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&clientFoundRows=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection URL
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     c.Database.Name,
		RawQuery: url.Values{"sslmode": []string{c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}
