package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var configLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	configLogger = l
}

// Config represents the complete configuration structure
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Views    ViewsConfig    `yaml:"views"`
	Search   SearchConfig   `yaml:"search"`
	Autosave AutosaveConfig `yaml:"autosave"`
	Content  ContentConfig  `yaml:"content"`
	Render   RenderConfig   `yaml:"render"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info" env:"LOG_LEVEL"`
	// File enables a rotating log file next to the console output.
	File       string `yaml:"file" default:""`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"50"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
}

type SiteConfig struct {
	Name        string `yaml:"name" default:"The Library"`
	Description string `yaml:"description" default:"Free educational PDFs, e-books and a community blog"`
	Tagline     string `yaml:"tagline" default:"Read, learn, share"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            string        `yaml:"port" default:"12600" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORSOrigins     []string      `yaml:"cors_origins" default:"*"`
}

type StoreConfig struct {
	Path string `yaml:"path" default:"./library.db" env:"LIBRARY_DB_PATH"`
}

type AuthConfig struct {
	ClerkSecretKey      string `yaml:"-" env:"CLERK_SECRET_KEY"`
	ClerkPublishableKey string `yaml:"clerk_publishable_key" default:"" env:"CLERK_PUBLISHABLE_KEY"`
	WebhookSecret       string `yaml:"-" env:"CLERK_WEBHOOK_SECRET"`
	// AllowUnsignedWebhooks accepts user webhooks when no secret is set.
	AllowUnsignedWebhooks bool   `yaml:"allow_unsigned_webhooks" default:"false" env:"ALLOW_UNSIGNED_WEBHOOKS"`
	SessionCookie         string `yaml:"session_cookie" default:"__session"`
	LoginURL              string `yaml:"login_url" default:"/auth/login"`
	// AdminIDs may moderate requests and delete any comment.
	AdminIDs []string `yaml:"admin_ids" default:""`
	// AdminPublicKey is a PEM Ed25519 key; signing its challenge signs in as admin.
	AdminPublicKey string `yaml:"-" env:"ADMIN_PUBKEY"`
}

type StorageConfig struct {
	Bucket        string `yaml:"bucket" default:"library-pdfs" env:"STORAGE_BUCKET"`
	Region        string `yaml:"region" default:"auto"`
	Endpoint      string `yaml:"endpoint" default:"" env:"STORAGE_ENDPOINT"`
	PublicBaseURL string `yaml:"public_base_url" default:"" env:"STORAGE_PUBLIC_URL"`
	AccessKeyID   string `yaml:"-" env:"STORAGE_ACCESS_KEY_ID"`
	SecretKey     string `yaml:"-" env:"STORAGE_SECRET_ACCESS_KEY"`
	PartSizeMB    int    `yaml:"part_size_mb" default:"8"`
	MaxUploadMB   int    `yaml:"max_upload_mb" default:"100"`
}

type ViewsConfig struct {
	// Backend is either "docstore" or "redis".
	Backend       string        `yaml:"backend" default:"docstore"`
	RedisURL      string        `yaml:"redis_url" default:"redis://localhost:6379/0" env:"REDIS_URL"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"1m"`
	RatePerMinute int           `yaml:"rate_per_minute" default:"30"`
}

type SearchConfig struct {
	Enabled   bool   `yaml:"enabled" default:"false"`
	MeiliURL  string `yaml:"meili_url" default:"http://localhost:7700" env:"MEILI_URL"`
	MeiliKey  string `yaml:"-" env:"MEILI_MASTER_KEY"`
	MaxResult int    `yaml:"max_results" default:"20"`
}

type AutosaveConfig struct {
	Debounce time.Duration `yaml:"debounce" default:"1500ms"`
}

type ContentConfig struct {
	PostsPerPage      int `yaml:"posts_per_page" default:"50"`
	MinPostBodyLength int `yaml:"min_post_body_length" default:"100"`
}

type RenderConfig struct {
	SyntaxTheme string `yaml:"syntax_theme" default:"gruvbox"`
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsAdmin reports whether uid is listed in auth.admin_ids.
func (c *Config) IsAdmin(uid string) bool {
	for _, id := range c.Auth.AdminIDs {
		if id != "" && id == uid {
			return true
		}
	}
	return false
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig reads the YAML file at path on top of the defaults and then applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		configLogger.Debug().Err(err).Msg("No .env file loaded")
	}

	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		configLogger.Info().Str("path", path).Msg("Config file not found, using defaults")
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Views.Backend {
	case ViewsBackendDocstore, ViewsBackendRedis:
	default:
		return fmt.Errorf("unsupported views backend %q", c.Views.Backend)
	}
	if c.Autosave.Debounce <= 0 {
		return fmt.Errorf("autosave.debounce must be positive, got %s", c.Autosave.Debounce)
	}
	if c.Storage.PartSizeMB < 5 {
		return fmt.Errorf("storage.part_size_mb must be at least 5, got %d", c.Storage.PartSizeMB)
	}
	return nil
}

const (
	ViewsBackendDocstore = "docstore"
	ViewsBackendRedis    = "redis"
)

func ApplyDefaults(config interface{}) {
	applyDefaults(config)
}

var durationType = reflect.TypeOf(time.Duration(0))

func applyDefaults(config interface{}) {
	walkFields(config, "default", func(field reflect.Value, name, value string) {
		setField(field, name, value)
	})
}

func applyEnv(config interface{}) {
	walkFields(config, "env", func(field reflect.Value, name, key string) {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			setField(field, name, value)
		}
	})
}

// walkFields calls fn for every settable leaf field carrying the given tag,
// recursing into nested structs.
func walkFields(config interface{}, tag string, fn func(field reflect.Value, name, value string)) {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.IsValid() || !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			walkFields(field.Addr().Interface(), tag, fn)
			continue
		}

		value, ok := fieldType.Tag.Lookup(tag)
		if !ok || value == "" {
			continue
		}
		fn(field, fieldType.Name, value)
	}
}

func setField(field reflect.Value, name, value string) {
	if field.Type() == durationType {
		if d, err := time.ParseDuration(value); err == nil {
			field.SetInt(int64(d))
		} else {
			configLogger.Warn().Err(err).Str("field_name", name).Msg("Invalid duration")
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if val, err := strconv.ParseBool(value); err == nil {
			field.SetBool(val)
		}
	case reflect.Int:
		if val, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(val)
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(value, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := reflect.MakeSlice(field.Type(), 0, len(parts))
			for _, part := range parts {
				if part = strings.TrimSpace(part); part != "" {
					slice = reflect.Append(slice, reflect.ValueOf(part))
				}
			}
			field.Set(slice)
		}
	default:
		configLogger.Warn().
			Str("field_name", name).
			Str("field_type", field.Kind().String()).
			Msg("Unsupported field type for default value")
	}
}
