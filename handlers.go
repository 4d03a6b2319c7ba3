package folio

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/weirdwool/folio/content"
	"github.com/weirdwool/folio/contentsync"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// postRequest is the JSON body of a create or update. pubDate arrives as a
// bare date or a timestamp.
type postRequest struct {
	Slug       string       `json:"slug"`
	Title      string       `json:"title"`
	PubDate    string       `json:"pubDate"`
	Location   string       `json:"location"`
	MainImage  string       `json:"main_image"`
	GalleryURL string       `json:"gallery_url"`
	VideoURL   string       `json:"video_url"`
	Tags       content.Tags `json:"tags"`
	Body       string       `json:"body"`
}

func (r postRequest) post() (content.Post, error) {
	p := content.Post{
		Slug:       r.Slug,
		Title:      r.Title,
		Location:   r.Location,
		MainImage:  r.MainImage,
		GalleryURL: r.GalleryURL,
		VideoURL:   r.VideoURL,
		Tags:       r.Tags,
		Body:       r.Body,
	}
	if strings.TrimSpace(r.PubDate) != "" {
		d, err := content.ParseDate(r.PubDate)
		if err != nil {
			return content.Post{}, echo.NewHTTPError(http.StatusBadRequest, "Date invalide")
		}
		p.PubDate = d
	}
	return p, nil
}

func bindPost(c echo.Context) (content.Post, error) {
	var req postRequest
	if err := c.Bind(&req); err != nil {
		return content.Post{}, echo.NewHTTPError(http.StatusBadRequest, "Requête invalide")
	}
	return req.post()
}

func (a *App) handleListPosts(c echo.Context) error {
	posts, err := a.Cache.ListPosts(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, posts)
}

func (a *App) handleGetPost(c echo.Context) error {
	post, err := a.Cache.GetPost(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, post)
}

func (a *App) handleCreatePost(c echo.Context) error {
	p, err := bindPost(c)
	if err != nil {
		return err
	}
	res, err := a.Sync.CreatePost(c.Request().Context(), p)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, res)
}

func (a *App) handleUpdatePost(c echo.Context) error {
	p, err := bindPost(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Slug) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Identifiant d'article manquant")
	}
	res, err := a.Sync.UpdatePost(c.Request().Context(), p)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, res)
}

func (a *App) handleDeletePost(c echo.Context) error {
	res, err := a.Sync.DeletePost(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, res)
}

// errorStatus maps an error to its HTTP status and the message shown to the
// editor.
func errorStatus(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprint(he.Message)
	}
	var ve *contentsync.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Message
	}
	switch {
	case errors.Is(err, contentsync.ErrNotFound):
		return http.StatusNotFound, "Introuvable"
	case errors.Is(err, contentsync.ErrConflict):
		return http.StatusConflict, "Un article existe déjà pour ce titre et cette date"
	}
	return http.StatusInternalServerError, "Erreur interne du serveur"
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := errorStatus(err)
	if code >= 500 {
		a.Logger.Error("server error",
			zap.Error(err),
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
		)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, errorResponse{Error: msg})
}
