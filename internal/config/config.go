// Package config loads the catalogd configuration from file, environment and
// flags into an explicit Config value.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (CATALOGD_SCRAPER_TARGET_URL, ...).
const EnvPrefix = "CATALOGD"

// DefaultTargetURL is the listing page scraped when none is configured.
const DefaultTargetURL = "https://dns-shop.by/ru/category/17a8ae4916404e77/televizory/"

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Render   RenderConfig   `mapstructure:"render"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig selects and configures the catalog store.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN      string `mapstructure:"dsn" validate:"required"`
	MaxConns int    `mapstructure:"max_conns" validate:"gte=0"`
}

// ScraperConfig describes the source listing page and how to read it.
type ScraperConfig struct {
	TargetURL         string        `mapstructure:"target_url" validate:"required,url"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" validate:"gte=0"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" validate:"gt=0"`
	CurrencySuffix    string        `mapstructure:"currency_suffix"`
	MaxPages          int           `mapstructure:"max_pages" validate:"gte=1"`
	Selectors         Selectors     `mapstructure:"selectors"`
}

// Selectors are the CSS selectors that locate an item and its parts.
type Selectors struct {
	Item      string `mapstructure:"item" validate:"required"`
	TitleLink string `mapstructure:"title_link" validate:"required"`
	Image     string `mapstructure:"image" validate:"required"`
	Price     string `mapstructure:"price" validate:"required"`
	NextPage  string `mapstructure:"next_page"` // Empty disables pagination
}

// RenderConfig configures the page-rendering engine.
type RenderConfig struct {
	Engine          string `mapstructure:"engine" validate:"oneof=chromedp rod static"`
	Headless        bool   `mapstructure:"headless"`
	Stealth         bool   `mapstructure:"stealth"`
	UserAgent       string `mapstructure:"user_agent"`
	ChromePath      string `mapstructure:"chrome_path"`
	ProxyURL        string `mapstructure:"proxy_url" validate:"omitempty,url"`
	MaxDocumentSize string `mapstructure:"max_document_size"`
}

// JobsConfig sizes the background task executor.
type JobsConfig struct {
	Workers   int `mapstructure:"workers" validate:"gte=1"`
	QueueSize int `mapstructure:"queue_size" validate:"gte=1"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `mapstructure:"json"`
}

// MaxDocumentBytes parses MaxDocumentSize ("8MB", "512KiB"). Zero means unlimited.
func (r RenderConfig) MaxDocumentBytes() (uint64, error) {
	s := strings.TrimSpace(r.MaxDocumentSize)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid render.max_document_size %q: %w", r.MaxDocumentSize, err)
	}
	return n, nil
}

// SetDefaults registers every known key with its default. Keys must be
// registered for AutomaticEnv to reach them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "catalogd.db")
	v.SetDefault("database.max_conns", 0)

	v.SetDefault("scraper.target_url", DefaultTargetURL)
	v.SetDefault("scraper.settle_delay", 15*time.Second)
	v.SetDefault("scraper.navigation_timeout", 90*time.Second)
	v.SetDefault("scraper.currency_suffix", "BYN")
	v.SetDefault("scraper.max_pages", 1)
	v.SetDefault("scraper.selectors.item", "li[js--product-list__product]")
	v.SetDefault("scraper.selectors.title_link", ".catalog-category-product__title")
	v.SetDefault("scraper.selectors.image", ".catalog-category-product__image img")
	v.SetDefault("scraper.selectors.price", ".catalog-product-purchase__current-price")
	v.SetDefault("scraper.selectors.next_page", "")

	v.SetDefault("render.engine", "chromedp")
	v.SetDefault("render.headless", true)
	v.SetDefault("render.stealth", false)
	v.SetDefault("render.user_agent", "")
	v.SetDefault("render.chrome_path", "")
	v.SetDefault("render.proxy_url", "")
	v.SetDefault("render.max_document_size", "16MB")

	v.SetDefault("jobs.workers", 1)
	v.SetDefault("jobs.queue_size", 16)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads a config file into v. With an empty path it looks for
// catalogd.yaml in the working directory and $HOME/.catalogd.yaml; a missing
// file is not an error in that case.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.AddConfigPath(".")
	v.SetConfigName("catalogd")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err == nil {
		return nil
	} else if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
		return fmt.Errorf("read config: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	hv := viper.New()
	hv.AddConfigPath(home)
	hv.SetConfigName(".catalogd")
	hv.SetConfigType("yaml")
	if err := hv.ReadInConfig(); err != nil {
		if errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return v.MergeConfigMap(hv.AllSettings())
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Render.MaxDocumentBytes(); err != nil {
		return err
	}
	return nil
}
