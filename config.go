package folio

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/weirdwool/folio/contentsync"
)

// SiteConfig holds all configuration for the content service.
type SiteConfig struct {
	Addr string `mapstructure:"addr"` // Listen address (default ":3000")
	Root string `mapstructure:"root"` // Site checkout root (default ".")
	Env  string `mapstructure:"env"`  // "production" or "development"

	DatabasePath string `mapstructure:"database_path"` // SQLite path (default "data/folio.db")

	AdminPassword string        `mapstructure:"admin_password"` // Login answers 500 while empty
	SessionSecret string        `mapstructure:"session_secret"` // Random per process when empty
	CookieSecure  bool          `mapstructure:"cookie_secure"`  // Set true for HTTPS
	SessionTTL    time.Duration `mapstructure:"session_ttl"`    // Admin session lifetime (default 24h)

	GitHubToken  string `mapstructure:"github_token"` // Remote propagation is disabled while empty
	GitHubRepo   string `mapstructure:"github_repo"`  // "owner/name"
	GitHubBranch string `mapstructure:"github_branch"`
	GitHubAPIURL string `mapstructure:"github_api_url"` // REST API root override

	PostCacheTTL time.Duration `mapstructure:"post_cache_ttl"` // Post cache TTL (default 5min)
}

func (c *SiteConfig) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.Root == "" {
		c.Root = "."
	}
	if c.Env == "" {
		c.Env = "development"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/folio.db"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.GitHubRepo == "" {
		c.GitHubRepo = "weirdwool/jeanmarcfavre"
	}
	if c.GitHubBranch == "" {
		c.GitHubBranch = "main"
	}
	if c.PostCacheTTL <= 0 {
		c.PostCacheTTL = 5 * time.Minute
	}
}

// Production reports whether the service runs in production mode.
func (c SiteConfig) Production() bool {
	return c.Env == "production"
}

// envKeys maps config keys to the environment variables that set them.
var envKeys = map[string]string{
	"addr":           "FOLIO_ADDR",
	"root":           "FOLIO_ROOT",
	"env":            "FOLIO_ENV",
	"database_path":  "FOLIO_DATABASE_PATH",
	"admin_password": "ADMIN_PASSWORD",
	"session_secret": "SESSION_SECRET",
	"cookie_secure":  "COOKIE_SECURE",
	"session_ttl":    "SESSION_TTL",
	"github_token":   "GITHUB_TOKEN",
	"github_repo":    "GITHUB_REPO",
	"github_branch":  "GITHUB_BRANCH",
	"github_api_url": "GITHUB_API_URL",
	"post_cache_ttl": "POST_CACHE_TTL",
}

// LoadConfig reads the optional config file at path, then applies
// environment variables on top of it.
func LoadConfig(path string) (SiteConfig, error) {
	v := viper.New()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return SiteConfig{}, fmt.Errorf("folio: bind %s: %w", env, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return SiteConfig{}, fmt.Errorf("folio: read config: %w", err)
		}
	}

	var cfg SiteConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return SiteConfig{}, fmt.Errorf("folio: decode config: %w", err)
	}
	cfg.setDefaults()
	return cfg, nil
}

// Option configures additional App behavior.
type Option func(*App)

// WithLogger replaces the logger built from the config.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		a.Logger = l
	}
}

// WithRemote sets the remote store instead of the GitHub store built from
// the config. A nil r disables propagation.
func WithRemote(r contentsync.Remote) Option {
	return func(a *App) {
		a.remote = r
		a.remoteSet = true
	}
}

// NewLogger builds the zap logger for cfg: JSON in production, console
// otherwise.
func NewLogger(cfg SiteConfig) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
