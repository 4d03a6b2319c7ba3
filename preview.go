package folio

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/weirdwool/folio/markdown"
)

type previewRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (a *App) handlePreview(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Requête invalide")
	}
	return Render(c, http.StatusOK, markdown.Preview(req.Title, req.Body))
}
