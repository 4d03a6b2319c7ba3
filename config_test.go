package folio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envKeys {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Addr)
	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "data/folio.db", cfg.DatabasePath)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "weirdwool/jeanmarcfavre", cfg.GitHubRepo)
	assert.Equal(t, "main", cfg.GitHubBranch)
	assert.Equal(t, 5*time.Minute, cfg.PostCacheTTL)
	assert.Empty(t, cfg.AdminPassword)
	assert.False(t, cfg.CookieSecure)
	assert.False(t, cfg.Production())
}

func TestLoadConfigEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FOLIO_ADDR", ":8080")
	t.Setenv("FOLIO_ENV", "production")
	t.Setenv("ADMIN_PASSWORD", "s3cret")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("GITHUB_TOKEN", "ghp_x")
	t.Setenv("GITHUB_BRANCH", "preview")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.True(t, cfg.Production())
	assert.Equal(t, "s3cret", cfg.AdminPassword)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "ghp_x", cfg.GitHubToken)
	assert.Equal(t, "preview", cfg.GitHubBranch)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "folio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: /srv/site
github_repo: someone/site
post_cache_ttl: 30s
`), 0o644))
	t.Setenv("GITHUB_REPO", "override/site")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/site", cfg.Root)
	assert.Equal(t, "override/site", cfg.GitHubRepo, "environment wins over the file")
	assert.Equal(t, 30*time.Second, cfg.PostCacheTTL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	dev, err := NewLogger(SiteConfig{Env: "development"})
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zap.DebugLevel))

	prod, err := NewLogger(SiteConfig{Env: "production"})
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zap.DebugLevel))
	assert.True(t, prod.Core().Enabled(zap.InfoLevel))
}
