package folio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

const (
	sessionName = "admin_session"
	tokenKey    = "token"
)

var errUnauthenticated = errors.New("unauthenticated")

// sessionClaims is the JWT payload bound to a stored session.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// issueSession stores a new admin session and signs a token bound to it.
func (a *App) issueSession(ctx context.Context, ip, ua string) (string, error) {
	now := time.Now()
	sess := AdminSession{
		ID:        uuid.NewString(),
		IP:        strings.TrimSpace(ip),
		UserAgent: strings.TrimSpace(ua),
		CreatedAt: now,
		ExpiresAt: now.Add(a.Config.SessionTTL),
	}
	if err := a.Store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	claims := sessionClaims{
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		_ = a.Store.RevokeSession(ctx, sess.ID)
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

// parseToken validates the signature and expiry of a session token.
func (a *App) parseToken(raw string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: invalid token", errUnauthenticated)
	}
	return claims, nil
}

// authenticate resolves the request's session from the bearer token or the
// session cookie. Token problems wrap errUnauthenticated; anything else is a
// store failure.
func (a *App) authenticate(c echo.Context) (*sessionClaims, error) {
	raw := requestToken(c)
	if raw == "" {
		return nil, fmt.Errorf("%w: no token", errUnauthenticated)
	}
	claims, err := a.parseToken(raw)
	if err != nil {
		return nil, err
	}
	active, err := a.Store.SessionActive(c.Request().Context(), claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: session expired or revoked", errUnauthenticated)
	}
	return claims, nil
}

func requestToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return normalizeToken(h)
	}
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return ""
	}
	token, _ := sess.Values[tokenKey].(string)
	return token
}

// normalizeToken trims spaces and strips an optional Bearer prefix.
func normalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

func setAdminSession(c echo.Context, token string) error {
	// A cookie signed with an older secret fails to decode; a fresh session
	// replaces it.
	sess, err := session.Get(sessionName, c)
	if sess == nil {
		return err
	}
	sess.Values[tokenKey] = token
	return sess.Save(c.Request(), c.Response())
}

func clearAdminSession(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if sess == nil {
		return err
	}
	delete(sess.Values, tokenKey)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// requireAdmin rejects requests without an active admin session.
func (a *App) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, err := a.authenticate(c)
		if errors.Is(err, errUnauthenticated) {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Non authentifié"})
		}
		if err != nil {
			return err
		}
		return next(c)
	}
}
