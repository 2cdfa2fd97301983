package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort         = 8000
	defaultEnv          = "development"
	defaultDBHost       = "127.0.0.1"
	defaultDBPort       = 3306
	defaultDBUser       = "root"
	defaultDBPassword   = "password"
	defaultDBName       = "newsdigest"
	defaultDBCharset    = "utf8mb4"
	defaultDBLoc        = "Local"
	defaultRedisPort    = 6379
	defaultSiteURL      = "http://localhost:8000"
	defaultSiteName     = "NGO News Digest"
	defaultSMTPPort     = 587
	defaultFastLane     = 2
	defaultBatchSize    = 10
	defaultNotifyWorker = 4
	defaultNotifyQueue  = 64
	defaultStorage      = StorageLocal

	StorageLocal = "local"
	StorageS3    = "s3"

	MailProviderSMTP   = "smtp"
	MailProviderResend = "resend"

	EnvDSN       = "NEWSDIGEST_DSN"
	EnvSMTPPass  = "NEWSDIGEST_SMTP_PASS"
	EnvJWTSecret = "NEWSDIGEST_JWT_SECRET"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int
	Env            string
	Database       DatabaseConfig
	Redis          RedisConfig
	Paths          PathsConfig
	Site           SiteConfig
	Mail           MailConfig
	Notify         NotifyConfig
	Storage        StorageConfig
	JWTSecret      string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	DSN       string
	Host      string
	Port      int
	User      string
	Password  string
	Name      string
	Charset   string
	ParseTime bool
	Loc       string
	Params    map[string]string
}

// RedisConfig is optional; an empty URL and host disables Redis.
type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

type PathsConfig struct {
	Logs   string
	Static string
}

type SiteConfig struct {
	URL  string
	Name string
}

type MailConfig struct {
	Enable    bool
	Provider  string
	Host      string
	Port      int
	User      string
	Pass      string
	From      string
	ReplyTo   string
	ResendKey string
}

// NotifyConfig sizes the subscriber notification dispatcher.
type NotifyConfig struct {
	FastLane  int
	BatchSize int
	Workers   int
	QueueSize int
}

type StorageConfig struct {
	Driver string
	S3     S3Config
}

type S3Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	CustomDomain    string
	PathStyle       bool
}

type rawAppConfig struct {
	Port           int         `yaml:"port"`
	Env            string      `yaml:"env"`
	DSN            string      `yaml:"dsn"`
	RedisURL       string      `yaml:"redis_url"`
	Database       rawDatabase `yaml:"database"`
	Redis          rawRedis    `yaml:"redis"`
	Paths          rawPaths    `yaml:"paths"`
	Site           rawSite     `yaml:"site"`
	Mail           rawMail     `yaml:"mail"`
	Notify         rawNotify   `yaml:"notify"`
	Storage        rawStorage  `yaml:"storage"`
	JWTSecret      string      `yaml:"jwt_secret"`
	AllowedOrigins []string    `yaml:"allowed_origins"`
}

type rawDatabase struct {
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type rawRedis struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
}

type rawPaths struct {
	Logs   string `yaml:"logs"`
	Static string `yaml:"static"`
}

type rawSite struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type rawMail struct {
	Enable    *bool  `yaml:"enable"`
	Provider  string `yaml:"provider"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
	From      string `yaml:"from"`
	ReplyTo   string `yaml:"reply_to"`
	ResendKey string `yaml:"resend_key"`
}

type rawNotify struct {
	FastLane  *int `yaml:"fast_lane"`
	BatchSize int  `yaml:"batch_size"`
	Workers   int  `yaml:"workers"`
	QueueSize int  `yaml:"queue_size"`
}

type rawStorage struct {
	Driver string `yaml:"driver"`
	S3     rawS3  `yaml:"s3"`
}

type rawS3 struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	CustomDomain    string `yaml:"custom_domain"`
	PathStyle       bool   `yaml:"path_style"`
}

// Load reads and validates the YAML config at configPath.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw YAML, applies defaults and environment overrides and
// validates the result.
func Parse(content []byte) (*AppConfig, error) {
	cfg := Default()
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}

	applyRawAppConfig(&cfg, raw)
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when a key is absent.
func Default() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseConfig{
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
		},
		Site: SiteConfig{
			URL:  defaultSiteURL,
			Name: defaultSiteName,
		},
		Mail: MailConfig{
			Provider: MailProviderSMTP,
			Port:     defaultSMTPPort,
		},
		Notify: NotifyConfig{
			FastLane:  defaultFastLane,
			BatchSize: defaultBatchSize,
			Workers:   defaultNotifyWorker,
			QueueSize: defaultNotifyQueue,
		},
		Storage: StorageConfig{Driver: defaultStorage},
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = strings.ToLower(v)
	}

	db := raw.Database
	cfg.Database.DSN = firstNonEmpty(db.DSN, raw.DSN)
	setString(&cfg.Database.Host, db.Host)
	setInt(&cfg.Database.Port, db.Port)
	setString(&cfg.Database.User, db.User)
	setString(&cfg.Database.Password, db.Password)
	setString(&cfg.Database.Name, db.Name)
	setString(&cfg.Database.Charset, db.Charset)
	setString(&cfg.Database.Loc, db.Loc)
	if db.ParseTime != nil {
		cfg.Database.ParseTime = *db.ParseTime
	}
	if len(db.Params) > 0 {
		cfg.Database.Params = db.Params
	}

	cfg.Redis.URL = firstNonEmpty(raw.Redis.URL, raw.RedisURL)
	cfg.Redis.Host = strings.TrimSpace(raw.Redis.Host)
	cfg.Redis.Password = raw.Redis.Password
	if cfg.Redis.Host != "" {
		cfg.Redis.Port = defaultRedisPort
	}
	setInt(&cfg.Redis.Port, raw.Redis.Port)
	if raw.Redis.DB != nil {
		cfg.Redis.DB = *raw.Redis.DB
	}

	setString(&cfg.Paths.Logs, raw.Paths.Logs)
	setString(&cfg.Paths.Static, raw.Paths.Static)

	if v := strings.TrimSpace(raw.Site.URL); v != "" {
		cfg.Site.URL = strings.TrimRight(v, "/")
	}
	setString(&cfg.Site.Name, raw.Site.Name)

	m := raw.Mail
	if m.Enable != nil {
		cfg.Mail.Enable = *m.Enable
	}
	if v := strings.TrimSpace(m.Provider); v != "" {
		cfg.Mail.Provider = strings.ToLower(v)
	}
	setString(&cfg.Mail.Host, m.Host)
	setInt(&cfg.Mail.Port, m.Port)
	setString(&cfg.Mail.User, m.User)
	if m.Pass != "" {
		cfg.Mail.Pass = m.Pass
	}
	setString(&cfg.Mail.From, m.From)
	setString(&cfg.Mail.ReplyTo, m.ReplyTo)
	setString(&cfg.Mail.ResendKey, m.ResendKey)

	if raw.Notify.FastLane != nil {
		cfg.Notify.FastLane = *raw.Notify.FastLane
	}
	setInt(&cfg.Notify.BatchSize, raw.Notify.BatchSize)
	setInt(&cfg.Notify.Workers, raw.Notify.Workers)
	setInt(&cfg.Notify.QueueSize, raw.Notify.QueueSize)

	if v := strings.TrimSpace(raw.Storage.Driver); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	s3 := raw.Storage.S3
	cfg.Storage.S3 = S3Config{
		Endpoint:        strings.TrimSpace(s3.Endpoint),
		Bucket:          strings.TrimSpace(s3.Bucket),
		Region:          strings.TrimSpace(s3.Region),
		AccessKeyID:     strings.TrimSpace(s3.AccessKeyID),
		SecretAccessKey: strings.TrimSpace(s3.SecretAccessKey),
		CustomDomain:    strings.TrimRight(strings.TrimSpace(s3.CustomDomain), "/"),
		PathStyle:       s3.PathStyle,
	}

	setString(&cfg.JWTSecret, raw.JWTSecret)
	for _, origin := range raw.AllowedOrigins {
		if v := strings.TrimSpace(origin); v != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, v)
		}
	}
}

func applyEnv(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvSMTPPass); v != "" {
		cfg.Mail.Pass = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		cfg.JWTSecret = v
	}
}

// Validate rejects configurations the server cannot start with.
func (c *AppConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", c.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database.port %d, expected 1-65535", c.Database.Port)
	}
	if c.Redis.Host != "" && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", c.Redis.Port)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", c.Redis.DB)
	}
	if c.Notify.FastLane < 0 {
		return fmt.Errorf("invalid notify.fast_lane %d, expected >= 0", c.Notify.FastLane)
	}
	if c.Notify.BatchSize < 1 {
		return fmt.Errorf("invalid notify.batch_size %d, expected >= 1", c.Notify.BatchSize)
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("invalid notify.workers %d, expected >= 1", c.Notify.Workers)
	}
	if c.Notify.QueueSize < 1 {
		return fmt.Errorf("invalid notify.queue_size %d, expected >= 1", c.Notify.QueueSize)
	}
	switch c.Mail.Provider {
	case MailProviderSMTP, MailProviderResend:
	default:
		return fmt.Errorf("unsupported mail.provider %q", c.Mail.Provider)
	}
	if c.Mail.Enable && c.Mail.Provider == MailProviderSMTP && c.Mail.Host == "" {
		return fmt.Errorf("mail.host is required when mail is enabled")
	}
	if c.Mail.Enable && c.Mail.Provider == MailProviderResend && c.Mail.ResendKey == "" {
		return fmt.Errorf("mail.resend_key is required for the resend provider")
	}
	switch c.Storage.Driver {
	case StorageLocal:
	case StorageS3:
		s3 := c.Storage.S3
		if s3.Bucket == "" || s3.Region == "" || s3.AccessKeyID == "" || s3.SecretAccessKey == "" {
			return fmt.Errorf("incomplete storage.s3 config: bucket/region/access_key_id/secret_access_key are required")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// IsDev reports whether the server runs in development mode.
func (c *AppConfig) IsDev() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
}

// RedisEnabled reports whether a Redis endpoint is configured.
func (c *AppConfig) RedisEnabled() bool {
	return c.Redis.URL != "" || c.Redis.Host != ""
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
