package folio

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/weirdwool/folio/contentsync"
)

func (a *App) handleListImages(c echo.Context) error {
	return c.JSON(http.StatusOK, a.Sync.ListImages())
}

func (a *App) handleListGalleryImages(c echo.Context) error {
	list, err := a.Sync.ListGalleryImages(c.QueryParam("folder"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (a *App) handleGalleryDownload(c echo.Context) error {
	list, err := a.Sync.GalleryDownload(c.QueryParam("folder"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (a *App) handleUploadImage(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Aucun fichier fourni")
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	res, err := a.Sync.UploadImage(c.Request().Context(), contentsync.ImageUpload{
		Filename: file.Filename,
		Date:     c.FormValue("date"),
		Size:     file.Size,
		Body:     src,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (a *App) handleUploadGallery(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Requête invalide")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Aucun fichier fourni")
	}
	paths := form.Value["paths"]
	if len(paths) > 0 && len(paths) != len(headers) {
		return echo.NewHTTPError(http.StatusBadRequest, "Chemins de fichiers incohérents")
	}

	files := make([]contentsync.GalleryFile, 0, len(headers))
	for i, fh := range headers {
		p := fh.Filename
		if len(paths) > 0 {
			p = paths[i]
		}
		data, err := readPart(fh)
		if err != nil {
			return err
		}
		files = append(files, contentsync.GalleryFile{
			Path:        p,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Data:        data,
		})
	}

	var name string
	if v := form.Value["galleryName"]; len(v) > 0 {
		name = v[0]
	}
	res, err := a.Sync.UploadGallery(c.Request().Context(), name, files)
	if err != nil {
		if len(res.Failed) > 0 {
			a.Logger.Error("gallery upload failed",
				zap.String("gallery", name), zap.Strings("failed", res.Failed), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, res)
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// maxGalleryFileSize caps each file of a gallery upload.
var maxGalleryFileSize int64 = 25 << 20

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	tooLarge := echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Fichier trop volumineux: %s (maximum %d Mo)", fh.Filename, maxGalleryFileSize>>20))
	if fh.Size > maxGalleryFileSize {
		return nil, tooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxGalleryFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > maxGalleryFileSize {
		return nil, tooLarge
	}
	return data, nil
}

func (a *App) handleSyncLog(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := a.Store.ListSyncLog(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}
