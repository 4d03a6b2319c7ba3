// Package folio is the admin-side content service of a photography
// portfolio. It edits blog posts, images and galleries stored as files in a
// site checkout and propagates every change to the GitHub repository the
// site is deployed from.
//
// The HTTP API is served with Echo behind a password login; the content
// operations live in the contentsync package.
package folio

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/weirdwool/folio/contentsync"
	"github.com/weirdwool/folio/remote"
)

// App wires together the store, the sync service, the post cache,
// middleware and handlers.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Store  *Store
	Cache  *PostCache
	Sync   *contentsync.Service
	Logger *zap.Logger

	loginLimiter *LoginLimiter
	remote       contentsync.Remote
	remoteSet    bool
	secret       []byte
}

// New creates an App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Init opens the database, connects the remote repository and registers
// middleware and routes. After Init the App serves requests through Echo.
func (a *App) Init(ctx context.Context) error {
	if a.Logger == nil {
		logger, err := NewLogger(a.Config)
		if err != nil {
			return fmt.Errorf("folio: init logger: %w", err)
		}
		a.Logger = logger
	}

	if a.Config.AdminPassword == "" {
		a.Logger.Warn("ADMIN_PASSWORD is not set, login is disabled")
	}
	a.secret = []byte(a.Config.SessionSecret)
	if len(a.secret) == 0 {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("folio: session secret: %w", err)
		}
		a.secret = secret
		a.Logger.Warn("SESSION_SECRET is not set, sessions will not survive a restart")
	}

	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("folio: init store: %w", err)
	}
	a.Store = store
	if n, err := a.Store.PurgeSessions(ctx, time.Now()); err != nil {
		a.Logger.Warn("purge expired sessions", zap.Error(err))
	} else if n > 0 {
		a.Logger.Info("purged expired sessions", zap.Int64("count", n))
	}

	if !a.remoteSet {
		if err := a.connectGitHub(ctx); err != nil {
			return err
		}
	}

	opts := []contentsync.Option{
		contentsync.WithJournal(a.Store),
		contentsync.WithLogger(a.Logger.Named("sync")),
	}
	if a.remote != nil {
		opts = append(opts, contentsync.WithRemote(a.remote))
	}
	a.Sync = contentsync.New(a.Config.Root, opts...)

	a.Cache = NewPostCache(a.Sync.ListPosts, a.Config.PostCacheTTL)

	a.loginLimiter = NewLoginLimiter(5, time.Minute)

	a.setupMiddleware()
	a.setupRoutes()
	return nil
}

func (a *App) connectGitHub(ctx context.Context) error {
	if a.Config.GitHubToken == "" {
		a.Logger.Warn("GITHUB_TOKEN is not set, changes stay local")
		return nil
	}
	gh, err := remote.NewGitHub(ctx, remote.Options{
		Token:   a.Config.GitHubToken,
		Repo:    a.Config.GitHubRepo,
		Branch:  a.Config.GitHubBranch,
		BaseURL: a.Config.GitHubAPIURL,
	})
	if err != nil {
		return fmt.Errorf("folio: init github: %w", err)
	}
	a.remote = gh
	a.Logger.Info("remote propagation enabled",
		zap.String("repo", a.Config.GitHubRepo), zap.String("branch", gh.Branch()))
	return nil
}

func randomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(b)), nil
}

// Start initializes the App and serves until the server is shut down.
func (a *App) Start(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}
	a.Logger.Info("server starting", zap.String("addr", a.Config.Addr), zap.String("root", a.Config.Root))
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

func (a *App) setupRoutes() {
	api := a.Echo.Group("/api")

	api.POST("/auth/login", a.handleLogin, middleware.BodyLimit("64K"))
	api.POST("/auth/logout", a.handleLogout)
	api.GET("/auth/check", a.handleCheck)

	jsonLimit := middleware.BodyLimit("2M")
	admin := api.Group("", a.requireAdmin)
	admin.GET("/blog-posts", a.handleListPosts)
	admin.GET("/blog-posts/:slug", a.handleGetPost)
	admin.POST("/blog-posts", a.handleCreatePost, jsonLimit)
	admin.PUT("/blog-posts", a.handleUpdatePost, jsonLimit)
	admin.DELETE("/blog-posts/:slug", a.handleDeletePost)
	admin.GET("/list-blog-images", a.handleListImages)
	admin.GET("/list-gallery-images", a.handleListGalleryImages)
	admin.GET("/download-gallery-zip", a.handleGalleryDownload)
	admin.POST("/upload-blog-image", a.handleUploadImage, middleware.BodyLimit("20M"))
	admin.POST("/upload-gallery", a.handleUploadGallery, middleware.BodyLimit("500M"))
	admin.POST("/preview", a.handlePreview, jsonLimit)
	admin.GET("/sync-log", a.handleSyncLog)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
