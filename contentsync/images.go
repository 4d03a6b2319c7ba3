package contentsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/weirdwool/folio/content"
	"github.com/weirdwool/folio/remote"
)

// MaxImageSize is the largest accepted blog image, 1.5 MB.
const MaxImageSize = 3 << 19

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// IsImageFile reports whether name has an image extension, ignoring case.
func IsImageFile(name string) bool {
	return imageExts[strings.ToLower(path.Ext(name))]
}

// ImageInfo is one listed image and its public URL path.
type ImageInfo struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// ImageList is the result of an image listing. Listing failures are
// reported in the value, never as an error.
type ImageList struct {
	Success bool        `json:"success"`
	Folder  string      `json:"folder,omitempty"`
	Images  []ImageInfo `json:"images"`
	Error   string      `json:"error,omitempty"`
}

// imageNames lists the image files of the local directory rel.
func (s *Service) imageNames(rel string) ([]string, error) {
	entries, err := os.ReadDir(s.local(rel))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsImageFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func toInfos(names []string, urlPrefix string) []ImageInfo {
	out := make([]ImageInfo, 0, len(names))
	for _, n := range names {
		out = append(out, ImageInfo{Filename: n, Path: urlPrefix + n})
	}
	return out
}

// ListImages lists the blog images directory, newest first.
func (s *Service) ListImages() ImageList {
	names, err := s.imageNames(ImagesDir)
	if errors.Is(err, fs.ErrNotExist) {
		return ImageList{Success: true, Images: []ImageInfo{}}
	}
	if err != nil {
		s.logger.Warn("list blog images", zap.Error(err))
		return ImageList{Images: []ImageInfo{}, Error: "Impossible de lister les images"}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return ImageList{Success: true, Images: toInfos(names, ImagesURL)}
}

// ListGalleryImages lists a family gallery folder. A pre-generated manifest
// for that folder is served as is; otherwise the folder is read.
func (s *Service) ListGalleryImages(folder string) (ImageList, error) {
	if folder == "" {
		folder = DefaultGalleryFolder
	}
	if !content.IsSafeName(folder) {
		return ImageList{}, invalid("Nom de dossier invalide")
	}
	if m, ok := s.readManifest(folder); ok {
		return m, nil
	}
	return s.liveGallery(folder), nil
}

func (s *Service) readManifest(folder string) (ImageList, bool) {
	data, err := os.ReadFile(s.local(ManifestFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read gallery manifest", zap.Error(err))
		}
		return ImageList{}, false
	}
	var m ImageList
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("decode gallery manifest", zap.Error(err))
		return ImageList{}, false
	}
	sameFolder := m.Folder == folder || (m.Folder == "" && folder == DefaultGalleryFolder)
	if !m.Success || len(m.Images) == 0 || !sameFolder {
		return ImageList{}, false
	}
	return m, true
}

func (s *Service) liveGallery(folder string) ImageList {
	names, err := s.imageNames(path.Join(FamilyGalleriesDir, folder))
	if err != nil {
		s.logger.Debug("list gallery folder", zap.String("folder", folder), zap.Error(err))
		return ImageList{
			Folder: folder,
			Images: []ImageInfo{},
			Error:  "Dossier non trouvé: galeries/autre/" + folder,
		}
	}
	sort.Strings(names)
	return ImageList{Success: true, Folder: folder, Images: toInfos(names, FamilyGalleriesURL+folder+"/")}
}

// WriteManifest generates the gallery manifest for folder from its current
// contents. On failure an empty unsuccessful manifest is written and the
// listing error returned.
func (s *Service) WriteManifest(folder string) (ImageList, error) {
	if folder == "" {
		folder = DefaultGalleryFolder
	}
	if !content.IsSafeName(folder) {
		return ImageList{}, invalid("Nom de dossier invalide")
	}

	m := s.liveGallery(folder)
	var listErr error
	if !m.Success {
		listErr = fmt.Errorf("gallery %s: %w", folder, ErrNotFound)
		m = ImageList{Images: []ImageInfo{}}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m, err
	}
	if err := s.writeLocal(ManifestFile, append(data, '\n')); err != nil {
		return m, err
	}
	return m, listErr
}

// GalleryDownload lists the images of an uploaded gallery for client-side
// archiving.
func (s *Service) GalleryDownload(folder string) (ImageList, error) {
	if folder == "" {
		folder = DefaultGalleryFolder
	}
	if !content.IsSafeName(folder) {
		return ImageList{}, invalid("Nom de dossier invalide")
	}
	names, err := s.imageNames(path.Join(GalleriesDir, folder, "images"))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(names) == 0) {
		return ImageList{}, fmt.Errorf("gallery %s: %w", folder, ErrNotFound)
	}
	if err != nil {
		return ImageList{}, fmt.Errorf("list gallery %s: %w", folder, err)
	}
	sort.Strings(names)
	return ImageList{Success: true, Folder: folder, Images: toInfos(names, GalleriesURL+folder+"/images/")}, nil
}

// ImageUpload is an uploaded blog image.
type ImageUpload struct {
	Filename string // as sent by the client
	Date     string // publish date of the post the image belongs to
	Size     int64
	Body     io.Reader
}

// ImageResult is the outcome of an image upload.
type ImageResult struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Message  string `json:"message"`
	Warning  string `json:"warning,omitempty"`
}

func tooLarge(size int64) error {
	return &ValidationError{
		Message: fmt.Sprintf("Fichier trop volumineux (%.1f Mo). Taille maximale: 1.5 Mo", float64(size)/(1<<20)),
		Err:     ErrTooLarge,
	}
}

// UploadImage validates and stores a blog image under a date-derived name.
func (s *Service) UploadImage(ctx context.Context, up ImageUpload) (ImageResult, error) {
	if up.Body == nil || up.Filename == "" {
		return ImageResult{}, invalid("Aucun fichier fourni")
	}
	if strings.TrimSpace(up.Date) == "" {
		return ImageResult{}, invalid("La date est requise pour générer le nom du fichier")
	}
	if up.Size > MaxImageSize {
		return ImageResult{}, tooLarge(up.Size)
	}
	date, err := content.ParseDate(up.Date)
	if err != nil {
		return ImageResult{}, invalid("Date invalide")
	}
	if !IsImageFile(up.Filename) {
		return ImageResult{}, invalid("Format non supporté (jpg, jpeg, png, gif, webp)")
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, MaxImageSize+1))
	if err != nil {
		return ImageResult{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxImageSize {
		return ImageResult{}, tooLarge(int64(len(data)))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ImageResult{}, invalid("Image invalide: " + err.Error())
	}

	filename := s.uniqueImageName(ctx, content.ImageFilename(date, up.Filename))
	rel := path.Join(ImagesDir, filename)

	localErr := s.writeLocal(rel, data)
	if localErr != nil {
		s.logger.Warn("local write failed", zap.String("path", rel), zap.Error(localErr))
	}
	remoteErr := s.createFile(ctx, newBatch(), "upload-image", rel, data, "Upload blog image: "+filename)
	if localErr != nil && remoteErr != nil {
		return ImageResult{}, fmt.Errorf("upload %s: %w", filename, errors.Join(localErr, remoteErr))
	}

	res := ImageResult{
		Success:  true,
		Filename: filename,
		Path:     ImagesURL + filename,
		Width:    img.Bounds().Dx(),
		Height:   img.Bounds().Dy(),
		Message:  "Image téléversée avec succès: " + filename,
	}
	if localErr == nil {
		res.Warning = remoteWarning(remoteErr)
	}
	return res, nil
}

// uniqueImageName appends a counter when filename is already taken locally
// or on the remote store.
func (s *Service) uniqueImageName(ctx context.Context, filename string) string {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	candidate := filename
	for counter := 2; ; counter++ {
		if s.nameFree(ctx, path.Join(ImagesDir, candidate)) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", base, counter, ext)
	}
}

// nameFree reports whether rel is absent locally and remotely. An unreachable
// remote counts as free; the create-only write still refuses to replace a file.
func (s *Service) nameFree(ctx context.Context, rel string) bool {
	if _, err := os.Stat(s.local(rel)); err == nil {
		return false
	}
	if s.remote == nil {
		return true
	}
	_, err := s.remote.Get(ctx, rel)
	if err == nil {
		return false
	}
	if !errors.Is(err, remote.ErrNotExist) {
		s.logger.Warn("check remote image name", zap.String("path", rel), zap.Error(err))
	}
	return true
}
