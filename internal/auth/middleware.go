package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerIDKey contextKey = "gatewayCallerID"

// CallerID returns the authenticated subject stored by Middleware.
func CallerID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(callerIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

func withCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// Middleware accepts HS256/384/512 bearer tokens signed with secret. When
// audience is set the token must list it. The subject becomes the caller id.
func Middleware(secret, audience string) gin.HandlerFunc {
	key := []byte(strings.TrimSpace(secret))
	audience = strings.TrimSpace(audience)

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		if len(key) == 0 {
			reject(c, "gateway has no signing secret")
			return
		}

		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			reject(c, err.Error())
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			reject(c, "invalid audience")
			return
		case err != nil || !token.Valid:
			reject(c, "invalid token")
			return
		}

		if claims.Subject == "" {
			reject(c, "missing subject")
			return
		}

		c.Request = c.Request.WithContext(withCallerID(c.Request.Context(), claims.Subject))
		c.Set(string(callerIDKey), claims.Subject)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func reject(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
