package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/http/response"
	"github.com/yungbote/arfor-backend/internal/platform/ctxutil"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

var ErrNoToken = errors.New("missing or invalid token")

// AuthMiddleware verifies HS256 bearer tokens issued by the identity
// provider. The subject claim is the user id.
type AuthMiddleware struct {
	log      *logger.Logger
	secret   []byte
	audience string
}

func NewAuthMiddleware(log *logger.Logger, secret, audience string) *AuthMiddleware {
	return &AuthMiddleware{
		log:      log.With("middleware", "AuthMiddleware"),
		secret:   []byte(secret),
		audience: audience,
	}
}

// Verify parses tokenString and returns the user id it names.
func (am *AuthMiddleware) Verify(tokenString string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, ErrNoToken
	}
	if len(am.secret) == 0 {
		return uuid.Nil, errors.New("auth not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if am.audience != "" {
		opts = append(opts, jwt.WithAudience(am.audience))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, opts...)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, errors.New("invalid user id in token")
	}
	return userID, nil
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := am.Verify(bearerToken(c))
		if err != nil {
			am.log.Debug("Rejected token", "path", c.FullPath(), "error", err)
			c.Abort()
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("Invalid or expired token"))
			return
		}
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// UserID returns the authenticated caller. Only valid behind RequireAuth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return rd.UserID, true
}
