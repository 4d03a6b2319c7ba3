package contentsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/weirdwool/folio/content"
	"github.com/weirdwool/folio/remote"
)

const degradedMessage = "Impossible d'enregistrer l'article automatiquement. " +
	"Téléchargez le fichier markdown et ajoutez-le manuellement au dépôt."

// SaveResult is the outcome of a post mutation. A degraded save has Success
// false and carries the serialized document so the editor can commit it by
// hand.
type SaveResult struct {
	Success  bool   `json:"success"`
	Slug     string `json:"slug,omitempty"`
	Message  string `json:"message,omitempty"`
	Warning  string `json:"warning,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

func postPath(slug string) string {
	return path.Join(ContentDir, slug+".md")
}

// ListPosts reads every post of the content directory, newest first.
// Documents that fail to parse are logged and skipped; a missing directory
// yields an empty list.
func (s *Service) ListPosts(ctx context.Context) ([]content.Post, error) {
	entries, err := os.ReadDir(s.local(ContentDir))
	if errors.Is(err, fs.ErrNotExist) {
		return []content.Post{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read content dir: %w", err)
	}

	posts := make([]content.Post, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || path.Ext(e.Name()) != ".md" {
			continue
		}
		rel := path.Join(ContentDir, e.Name())
		data, err := os.ReadFile(s.local(rel))
		if err != nil {
			s.logger.Warn("skip unreadable post", zap.String("path", rel), zap.Error(err))
			continue
		}
		p := content.Post{Slug: strings.TrimSuffix(e.Name(), ".md")}
		if err := content.Unmarshal(data, &p); err != nil {
			s.logger.Warn("skip malformed post", zap.String("path", rel), zap.Error(err))
			continue
		}
		posts = append(posts, p)
	}

	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].PubDate.Equal(posts[j].PubDate) {
			return posts[i].PubDate.After(posts[j].PubDate)
		}
		return posts[i].Slug < posts[j].Slug
	})
	return posts, nil
}

// CreatePost stores a new post under a slug derived from its date and
// title. An existing post with that slug is a conflict.
func (s *Service) CreatePost(ctx context.Context, p content.Post) (SaveResult, error) {
	if msg := p.Validate(); msg != "" {
		return SaveResult{}, invalid(msg)
	}
	p = p.Normalize()
	p.Slug = content.PostSlug(p.Title, p.PubDate)

	rel := postPath(p.Slug)
	if _, err := os.Stat(s.local(rel)); err == nil {
		return SaveResult{}, fmt.Errorf("post %s: %w", p.Slug, ErrConflict)
	}
	switch err := s.remoteExists(ctx, rel); {
	case err == nil:
		return SaveResult{}, fmt.Errorf("post %s: %w", p.Slug, ErrConflict)
	case !errors.Is(err, ErrNotFound):
		s.logger.Warn("check remote before create", zap.String("path", rel), zap.Error(err))
	}

	doc := content.Marshal(p)
	return s.save(ctx, "create", rel, p.Slug, doc, "Create blog post: "+p.Slug, "Article créé avec succès"), nil
}

// UpdatePost rewrites an existing post. The slug is taken as given and
// never regenerated.
func (s *Service) UpdatePost(ctx context.Context, p content.Post) (SaveResult, error) {
	if !content.IsSafeName(p.Slug) {
		return SaveResult{}, invalid("Identifiant d'article invalide")
	}
	if msg := p.Validate(); msg != "" {
		return SaveResult{}, invalid(msg)
	}
	p = p.Normalize()

	rel := postPath(p.Slug)
	doc := content.Marshal(p)

	current, err := os.ReadFile(s.local(rel))
	switch {
	case err == nil:
		if bytes.Equal(current, doc) {
			return SaveResult{Success: true, Slug: p.Slug, Message: "Aucune modification détectée"}, nil
		}
	case errors.Is(err, fs.ErrNotExist):
		if err := s.remoteExists(ctx, rel); err != nil {
			if errors.Is(err, ErrNotFound) {
				return SaveResult{}, fmt.Errorf("post %s: %w", p.Slug, ErrNotFound)
			}
			return SaveResult{}, err
		}
	default:
		s.logger.Warn("read current post", zap.String("path", rel), zap.Error(err))
	}

	return s.save(ctx, "update", rel, p.Slug, doc, "Update blog post: "+p.Slug, "Article mis à jour avec succès"), nil
}

// remoteExists returns ErrNotFound when rel is absent from the remote store
// or no store is configured.
func (s *Service) remoteExists(ctx context.Context, rel string) error {
	if s.remote == nil {
		return ErrNotFound
	}
	_, err := s.remote.Get(ctx, rel)
	if errors.Is(err, remote.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check remote %s: %w", rel, err)
	}
	return nil
}

// save writes doc locally and propagates it. A local failure falls back to
// the remote write alone; when both fail the result is degraded.
func (s *Service) save(ctx context.Context, op, rel, slug string, doc []byte, commitMsg, okMsg string) SaveResult {
	batch := newBatch()
	localErr := s.writeLocal(rel, doc)
	if localErr != nil {
		s.logger.Warn("local write failed", zap.String("path", rel), zap.Error(localErr))
	}
	write := s.syncFile
	if op == "create" {
		write = s.createFile
	}
	remoteErr := write(ctx, batch, op, rel, doc, commitMsg)

	switch {
	case localErr == nil:
		return SaveResult{Success: true, Slug: slug, Message: okMsg, Warning: remoteWarning(remoteErr)}
	case remoteErr == nil:
		return SaveResult{Success: true, Slug: slug, Message: okMsg + " (GitHub)"}
	default:
		return SaveResult{Slug: slug, Message: degradedMessage, Markdown: string(doc)}
	}
}

// DeleteResult is the outcome of a post deletion.
type DeleteResult struct {
	Success bool   `json:"success"`
	Slug    string `json:"slug"`
	Message string `json:"message,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// DeletePost removes a post locally and from the remote store.
func (s *Service) DeletePost(ctx context.Context, slug string) (DeleteResult, error) {
	if !content.IsSafeName(slug) {
		return DeleteResult{}, invalid("Identifiant d'article invalide")
	}
	rel := postPath(slug)

	localErr := os.Remove(s.local(rel))
	localMissing := errors.Is(localErr, fs.ErrNotExist)
	remoteErr := s.removeFile(ctx, newBatch(), "delete", rel, "Delete blog post: "+slug)
	remoteMissing := errors.Is(remoteErr, remote.ErrNotExist) || errors.Is(remoteErr, ErrNoRemote)

	res := DeleteResult{Success: true, Slug: slug, Message: "Article supprimé avec succès"}
	switch {
	case localMissing && remoteMissing:
		return DeleteResult{}, fmt.Errorf("post %s: %w", slug, ErrNotFound)
	case localErr == nil:
		if !remoteMissing {
			res.Warning = remoteWarning(remoteErr)
		}
		return res, nil
	case remoteErr == nil:
		return res, nil
	default:
		s.logger.Error("delete post", zap.String("slug", slug), zap.NamedError("local", localErr), zap.NamedError("remote", remoteErr))
		return DeleteResult{}, fmt.Errorf("delete post %s: %w", slug, errors.Join(localErr, remoteErr))
	}
}
