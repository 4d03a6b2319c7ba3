package folio

import (
	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
)

// Render writes cmp as an HTML response with the given status.
func Render(c echo.Context, code int, cmp templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return cmp.Render(c.Request().Context(), c.Response().Writer)
}
