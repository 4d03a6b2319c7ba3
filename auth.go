package folio

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type loginRequest struct {
	Password string `json:"password" form:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (a *App) handleLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return c.JSON(http.StatusTooManyRequests, loginResponse{Error: "Trop de tentatives. Réessayez dans une minute."})
	}
	if a.Config.AdminPassword == "" {
		return c.JSON(http.StatusInternalServerError, loginResponse{Error: "Mot de passe administrateur non configuré"})
	}

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, loginResponse{Error: "Requête invalide"})
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(a.Config.AdminPassword)) != 1 {
		a.loginLimiter.Record(ip)
		a.Logger.Warn("failed login", zap.String("ip", ip))
		return c.JSON(http.StatusUnauthorized, loginResponse{Error: "Mot de passe incorrect"})
	}
	a.loginLimiter.Reset(ip)

	token, err := a.issueSession(c.Request().Context(), ip, c.Request().UserAgent())
	if err != nil {
		return err
	}
	if err := setAdminSession(c, token); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{Success: true, Token: token})
}

func (a *App) handleLogout(c echo.Context) error {
	if raw := requestToken(c); raw != "" {
		if claims, err := a.parseToken(raw); err == nil {
			if err := a.Store.RevokeSession(c.Request().Context(), claims.SessionID); err != nil {
				return err
			}
		}
	}
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (a *App) handleCheck(c echo.Context) error {
	_, err := a.authenticate(c)
	return c.JSON(http.StatusOK, map[string]bool{"authenticated": err == nil})
}
