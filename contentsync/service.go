// Package contentsync keeps the local checkout of the site and its remote
// repository in step. Every mutation is written to the local filesystem and
// propagated to the remote store; the outcome rules of each operation decide
// which failures are fatal and which become warnings.
package contentsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weirdwool/folio/remote"
)

// Repository layout, relative to the site root. Remote paths always use
// forward slashes.
const (
	ContentDir         = "src/content/blog"
	ImagesDir          = "public/blog/blog-images"
	ImagesURL          = "/blog/blog-images/"
	GalleriesDir       = "public/blog/blog-galeries"
	GalleriesURL       = "/blog/blog-galeries/"
	FamilyGalleriesDir = "public/galeries/autre"
	FamilyGalleriesURL = "/galeries/autre/"
	ManifestFile       = "public/galerie-familiale-images.json"

	DefaultGalleryFolder = "251225-Noel-St-Jean"
)

var (
	// ErrInvalid marks a request rejected before any I/O.
	ErrInvalid = errors.New("invalid request")
	// ErrTooLarge marks an upload above the size limit.
	ErrTooLarge = errors.New("file too large")
	// ErrNotFound is returned when the target exists neither locally nor remotely.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when creating a post whose slug is taken.
	ErrConflict = errors.New("already exists")
	// ErrNoRemote is returned by remote propagation when no store is configured.
	ErrNoRemote = errors.New("remote store not configured")
)

// ValidationError carries the message shown to the editor.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(msg string) error {
	return &ValidationError{Message: msg, Err: ErrInvalid}
}

// Remote is the version-controlled store the site is deployed from.
type Remote interface {
	Get(ctx context.Context, path string) (*remote.File, error)
	Put(ctx context.Context, path string, content []byte, sha, message string) error
	Delete(ctx context.Context, path, sha, message string) error
	Commit(ctx context.Context, message string, entries []remote.Entry) (string, error)
}

// JournalEntry records one remote propagation attempt.
type JournalEntry struct {
	Batch string
	Op    string
	Path  string
	OK    bool
	Error string
}

// Journal persists propagation attempts.
type Journal interface {
	RecordSync(ctx context.Context, e JournalEntry) error
}

// Service orchestrates the local checkout and the remote store.
type Service struct {
	root    string
	remote  Remote
	journal Journal
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRemote enables propagation to r. Without it every remote step fails
// with ErrNoRemote.
func WithRemote(r Remote) Option {
	return func(s *Service) { s.remote = r }
}

// WithJournal records every propagation attempt in j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service rooted at the site checkout root.
func New(root string, opts ...Option) *Service {
	s := &Service{root: root, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RemoteEnabled reports whether a remote store is configured.
func (s *Service) RemoteEnabled() bool {
	return s.remote != nil
}

// local maps a repository path to the local filesystem.
func (s *Service) local(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func newBatch() string {
	return uuid.NewString()
}

// record journals a propagation attempt and logs failures.
func (s *Service) record(ctx context.Context, batch, op, rel string, err error) {
	if errors.Is(err, ErrNoRemote) {
		return
	}
	e := JournalEntry{Batch: batch, Op: op, Path: rel, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
		s.logger.Warn("remote propagation failed",
			zap.String("op", op), zap.String("path", rel), zap.String("batch", batch), zap.Error(err))
	}
	if s.journal == nil {
		return
	}
	// The journal must record even when the request was cancelled.
	if jerr := s.journal.RecordSync(context.WithoutCancel(ctx), e); jerr != nil {
		s.logger.Error("record sync", zap.Error(jerr))
	}
}

// syncFile writes data to rel on the remote store. The version tag is read
// fresh; when the remote already holds identical bytes nothing is written.
func (s *Service) syncFile(ctx context.Context, batch, op, rel string, data []byte, message string) (err error) {
	if s.remote == nil {
		return ErrNoRemote
	}
	defer func() { s.record(ctx, batch, op, rel, err) }()

	var sha string
	cur, err := s.remote.Get(ctx, rel)
	switch {
	case err == nil:
		if cur.Content != nil && string(cur.Content) == string(data) {
			s.logger.Debug("remote unchanged", zap.String("path", rel))
			return nil
		}
		sha = cur.SHA
	case errors.Is(err, remote.ErrNotExist):
	default:
		return err
	}
	return s.remote.Put(ctx, rel, data, sha, message)
}

// createFile writes data to a path that must still be free on the remote
// store. No version tag is sent, so the store rejects an existing file.
func (s *Service) createFile(ctx context.Context, batch, op, rel string, data []byte, message string) (err error) {
	if s.remote == nil {
		return ErrNoRemote
	}
	defer func() { s.record(ctx, batch, op, rel, err) }()
	return s.remote.Put(ctx, rel, data, "", message)
}

// removeFile deletes rel from the remote store. It returns
// remote.ErrNotExist when the path is absent there.
func (s *Service) removeFile(ctx context.Context, batch, op, rel, message string) (err error) {
	if s.remote == nil {
		return ErrNoRemote
	}
	cur, err := s.remote.Get(ctx, rel)
	if err != nil {
		if !errors.Is(err, remote.ErrNotExist) {
			s.record(ctx, batch, op, rel, err)
		}
		return err
	}
	err = s.remote.Delete(ctx, rel, cur.SHA, message)
	s.record(ctx, batch, op, rel, err)
	return err
}

// writeLocal writes data to the local copy of rel, creating directories.
func (s *Service) writeLocal(rel string, data []byte) error {
	p := s.local(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", rel, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func remoteWarning(err error) string {
	if err == nil || errors.Is(err, ErrNoRemote) {
		return ""
	}
	return "Enregistré localement, mais la synchronisation GitHub a échoué: " + err.Error()
}
