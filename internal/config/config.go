package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Deployment environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config is built once at startup and passed to constructors.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Predictor   PredictorConfig `mapstructure:"predictor"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener and CORS.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the store driver and sizes its pool.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	Silent          bool          `mapstructure:"silent"`
}

// PredictorConfig points at the ML service. AllowDegraded is never true in
// production.
type PredictorConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	AllowDegraded bool          `mapstructure:"allow_degraded"`
}

// AuthConfig holds the shared secret for bearer tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LoggingConfig sets the logrus level and the text or json format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads defaults, an optional config.yaml and the environment. Extra
// search paths are tried before the defaults.
func Load(paths ...string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("NIROG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))

	if v.IsSet("predictor.allow_degraded") {
		cfg.Predictor.AllowDegraded = v.GetBool("predictor.allow_degraded")
	} else {
		cfg.Predictor.AllowDegraded = !cfg.IsProduction()
	}
	if cfg.IsProduction() && cfg.Predictor.AllowDegraded {
		logrus.Warn("predictor.allow_degraded ignored in production")
		cfg.Predictor.AllowDegraded = false
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/nirog.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.acquire_timeout", "5s")
	v.SetDefault("database.silent", false)

	v.SetDefault("predictor.base_url", "http://localhost:8000")
	v.SetDefault("predictor.timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// bindLegacyEnv maps the variable names used by existing deployments.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := [][]string{
		{"environment", "NIROG_ENVIRONMENT", "APP_ENV", "NODE_ENV"},
		{"server.port", "NIROG_SERVER_PORT", "PORT"},
		{"database.dsn", "NIROG_DATABASE_DSN", "DATABASE_URL"},
		{"predictor.base_url", "NIROG_PREDICTOR_BASE_URL", "ML_SERVICE_URL"},
		{"auth.jwt_secret", "NIROG_AUTH_JWT_SECRET", "JWT_SECRET"},
		{"predictor.allow_degraded", "NIROG_PREDICTOR_ALLOW_DEGRADED"},
	}
	for _, b := range bindings {
		if err := v.BindEnv(b...); err != nil {
			return fmt.Errorf("bind %s: %w", b[0], err)
		}
	}
	// A postgres URL without an explicit driver selects postgres.
	if url := os.Getenv("DATABASE_URL"); strings.HasPrefix(url, "postgres") && os.Getenv("NIROG_DATABASE_DRIVER") == "" {
		v.SetDefault("database.driver", "postgres")
	}
	return nil
}

// IsProduction reports whether the deployment is flagged as production.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database dsn is required")
	}
	if strings.TrimSpace(c.Predictor.BaseURL) == "" {
		return errors.New("predictor base url is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth jwt secret is required")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// Apply configures logger level and format.
func (l LoggingConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if strings.EqualFold(l.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
