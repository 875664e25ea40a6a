package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// EZDerm upstream
	EZDermUsername string `mapstructure:"EZDERM_USERNAME"`
	EZDermPassword string `mapstructure:"EZDERM_PASSWORD"`
	EZDermLoginURL string `mapstructure:"EZDERM_LOGIN_URL"`

	// Analysis collaborator
	AnalysisURL    string `mapstructure:"ANALYSIS_URL"`
	AnalysisAPIKey string `mapstructure:"ANALYSIS_API_KEY"`

	// Job cadence and limits
	ScanInterval     time.Duration `mapstructure:"SCAN_INTERVAL"`
	VitalsInterval   time.Duration `mapstructure:"VITALS_INTERVAL"`
	CheckConcurrency int           `mapstructure:"CHECK_CONCURRENCY"`
	CheckMaxAttempts int           `mapstructure:"CHECK_MAX_ATTEMPTS"`
	StaggerDelay     time.Duration `mapstructure:"STAGGER_DELAY"`
	HTTPTimeout      time.Duration `mapstructure:"HTTP_TIMEOUT"`

	// Dedup fingerprinting: "sha256" (default) or "fnv32" (local dev only).
	FingerprintAlgo string `mapstructure:"FINGERPRINT_ALGO"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("EZDERM_LOGIN_URL", "https://login.ezinfra.net")
	v.SetDefault("SCAN_INTERVAL", "15m")
	v.SetDefault("VITALS_INTERVAL", "5m")
	v.SetDefault("CHECK_CONCURRENCY", 3)
	v.SetDefault("CHECK_MAX_ATTEMPTS", 3)
	v.SetDefault("STAGGER_DELAY", "5s")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("FINGERPRINT_ALGO", "sha256")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("EZDERM_USERNAME")
	v.BindEnv("EZDERM_PASSWORD")
	v.BindEnv("EZDERM_LOGIN_URL")
	v.BindEnv("ANALYSIS_URL")
	v.BindEnv("ANALYSIS_API_KEY")
	v.BindEnv("SCAN_INTERVAL")
	v.BindEnv("VITALS_INTERVAL")
	v.BindEnv("CHECK_CONCURRENCY")
	v.BindEnv("CHECK_MAX_ATTEMPTS")
	v.BindEnv("STAGGER_DELAY")
	v.BindEnv("HTTP_TIMEOUT")
	v.BindEnv("FINGERPRINT_ALGO")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.FingerprintAlgo == "fnv32" {
		log.Println("WARNING: FINGERPRINT_ALGO=fnv32 is for local development only;")
		log.Println("WARNING: it provides no collision resistance for dedup guarantees.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Upstream credentials
// are always required since every job path authenticates against EZDerm. The
// weak fingerprint algorithm is refused outright in production.
func (c *Config) Validate() error {
	if c.EZDermUsername == "" || c.EZDermPassword == "" {
		return fmt.Errorf("EZDERM_USERNAME and EZDERM_PASSWORD are required")
	}
	if c.FingerprintAlgo != "sha256" && c.FingerprintAlgo != "fnv32" {
		return fmt.Errorf("FINGERPRINT_ALGO must be \"sha256\" or \"fnv32\", got %q", c.FingerprintAlgo)
	}
	if c.IsProduction() && c.FingerprintAlgo == "fnv32" {
		return fmt.Errorf("FINGERPRINT_ALGO=fnv32 is not allowed in production")
	}
	if c.IsProduction() && c.AnalysisURL == "" {
		return fmt.Errorf("ANALYSIS_URL is required in production")
	}
	if c.CheckConcurrency < 1 {
		return fmt.Errorf("CHECK_CONCURRENCY must be at least 1, got %d", c.CheckConcurrency)
	}
	if c.CheckMaxAttempts < 1 {
		return fmt.Errorf("CHECK_MAX_ATTEMPTS must be at least 1, got %d", c.CheckMaxAttempts)
	}
	return nil
}
