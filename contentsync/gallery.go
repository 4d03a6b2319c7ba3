package contentsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weirdwool/folio/content"
	"github.com/weirdwool/folio/remote"
)

const localWriteConcurrency = 8

var textExts = map[string]bool{
	".html": true,
	".htm":  true,
	".css":  true,
	".js":   true,
}

// GalleryFile is one file of an uploaded gallery folder.
type GalleryFile struct {
	// Path is the file's path relative to the selected folder, including
	// that folder as its first segment when the browser sent it.
	Path        string
	ContentType string
	Data        []byte
}

// GalleryResult is the outcome of a gallery upload.
type GalleryResult struct {
	Success     bool     `json:"success"`
	GalleryName string   `json:"galleryName"`
	Message     string   `json:"message"`
	Files       []string `json:"files"`
	Commit      string   `json:"commit,omitempty"`
	Warning     string   `json:"warning,omitempty"`
	Failed      []string `json:"failed,omitempty"`
}

// GalleryRelPath maps an uploaded file path to its path inside the gallery:
// the top folder segment is dropped and the result must stay inside the
// gallery.
func GalleryRelPath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", invalid("Chemin de fichier invalide: " + p)
	}
	for _, seg := range strings.Split(clean, "/") {
		if !content.IsSafeName(seg) {
			return "", invalid("Chemin de fichier invalide: " + p)
		}
	}
	return clean, nil
}

// payloadFor classifies a gallery file: markup, styles and scripts that are
// valid UTF-8 travel as text, everything else as binary.
func payloadFor(f GalleryFile) remote.Payload {
	isText := textExts[strings.ToLower(path.Ext(f.Path))] || strings.HasPrefix(f.ContentType, "text/")
	if isText && utf8.Valid(f.Data) {
		return remote.Text(f.Data)
	}
	return remote.Binary(f.Data)
}

type galleryItem struct {
	rel     string // repository path
	name    string // path inside the gallery
	payload remote.Payload
}

// UploadGallery stores a whole gallery folder. Local files are written
// concurrently and rolled back if any write fails; the remote copy is a
// single commit holding every file.
func (s *Service) UploadGallery(ctx context.Context, name string, files []GalleryFile) (GalleryResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return GalleryResult{}, invalid("Le nom de la galerie est obligatoire")
	}
	if !content.IsSafeName(name) {
		return GalleryResult{}, invalid("Nom de galerie invalide")
	}
	if len(files) == 0 {
		return GalleryResult{}, invalid("Aucun fichier fourni")
	}

	items := make([]galleryItem, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if strings.HasPrefix(path.Base(strings.ReplaceAll(f.Path, `\`, "/")), ".") {
			s.logger.Debug("skip hidden gallery file", zap.String("path", f.Path))
			continue
		}
		inner, err := GalleryRelPath(f.Path)
		if err != nil {
			return GalleryResult{}, err
		}
		if seen[inner] {
			return GalleryResult{}, invalid("Fichier en double: " + inner)
		}
		seen[inner] = true
		items = append(items, galleryItem{
			rel:     path.Join(GalleriesDir, name, inner),
			name:    inner,
			payload: payloadFor(f),
		})
	}
	if len(items) == 0 {
		return GalleryResult{}, invalid("Aucun fichier fourni")
	}
	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	res := GalleryResult{GalleryName: name, Files: names}

	written, failed := s.writeGalleryLocal(items)
	batch := newBatch()
	commit, remoteErr := s.commitGallery(ctx, batch, name, items)

	if len(failed) == 0 {
		res.Success = true
		res.Commit = commit
		res.Message = fmt.Sprintf("%d fichiers téléversés dans la galerie %s", len(items), name)
		res.Warning = remoteWarning(remoteErr)
		return res, nil
	}

	s.rollback(written)
	if remoteErr == nil {
		res.Success = true
		res.Commit = commit
		res.Message = fmt.Sprintf("%d fichiers publiés sur GitHub dans la galerie %s", len(items), name)
		res.Warning = "L'écriture locale a échoué, les fichiers locaux ont été restaurés"
		return res, nil
	}

	res.Failed = failed
	res.Message = fmt.Sprintf("Échec du téléversement de %d fichiers", len(failed))
	return res, fmt.Errorf("gallery %s: %d local writes failed: %w", name, len(failed), remoteErr)
}

// localWrite remembers what a path held before this batch overwrote it.
type localWrite struct {
	rel     string
	prev    []byte
	existed bool
}

func (s *Service) writeGalleryLocal(items []galleryItem) ([]localWrite, []string) {
	var (
		mu      sync.Mutex
		written []localWrite
		failed  []string
	)
	var g errgroup.Group
	g.SetLimit(localWriteConcurrency)
	for _, it := range items {
		g.Go(func() error {
			w := localWrite{rel: it.rel}
			prev, err := os.ReadFile(s.local(it.rel))
			if err == nil {
				w.prev, w.existed = prev, true
			}
			err = s.writeLocal(it.rel, it.payload.Bytes())

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("local gallery write failed", zap.String("path", it.rel), zap.Error(err))
				failed = append(failed, it.name)
				return nil
			}
			written = append(written, w)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(failed)
	return written, failed
}

// rollback restores every path written by this batch to its prior state.
func (s *Service) rollback(written []localWrite) {
	for _, w := range written {
		var err error
		if w.existed {
			err = os.WriteFile(s.local(w.rel), w.prev, 0o644)
		} else {
			err = os.Remove(s.local(w.rel))
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("gallery rollback", zap.String("path", w.rel), zap.Error(err))
		}
	}
}

func (s *Service) commitGallery(ctx context.Context, batch, name string, items []galleryItem) (string, error) {
	if s.remote == nil {
		return "", ErrNoRemote
	}
	entries := make([]remote.Entry, len(items))
	for i, it := range items {
		entries[i] = remote.Entry{Path: it.rel, Payload: it.payload}
	}
	sha, err := s.remote.Commit(ctx, "Upload gallery: "+name, entries)
	s.record(ctx, batch, "upload-gallery", path.Join(GalleriesDir, name), err)
	return sha, err
}
