package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
)

// ServiceClaims carries the identity of a calling backend service. The
// session control plane (start/end/delete) is invoked by the site API,
// never by browsers, so the only claim beyond the registered set is the
// service name.
type ServiceClaims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

// ServiceTokenValidator validates HS256 service-to-service tokens signed
// with a shared secret. A nil validator disables the check entirely,
// which is the local development mode.
type ServiceTokenValidator struct {
	secret []byte
}

// NewServiceTokenValidator returns a validator for the given shared
// secret, or nil when the secret is empty (auth disabled).
func NewServiceTokenValidator(secret string) *ServiceTokenValidator {
	if secret == "" {
		return nil
	}
	return &ServiceTokenValidator{secret: []byte(secret)}
}

// ValidateToken parses and verifies a service token, returning its claims.
func (v *ServiceTokenValidator) ValidateToken(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Service == "" {
		return nil, errors.New("token missing service claim")
	}
	return claims, nil
}

// IssueToken signs a short-lived token identifying the named service.
func (v *ServiceTokenValidator) IssueToken(service string, ttl time.Duration) (string, error) {
	claims := ServiceClaims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "rollplay",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ExtractTokenFromHeader extracts a bearer token from an Authorization header.
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", errors.New("invalid authorization header")
	}
	return authHeader[7:], nil
}

// RequireServiceToken guards a route group with service-token auth.
// When the validator is nil the middleware passes every request through,
// matching the disabled mode used in local development.
func RequireServiceToken(validator *ServiceTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}

		tokenString, err := ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := validator.ValidateToken(tokenString)
		if err != nil {
			logging.Warn(c.Request.Context(), "Rejected service token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("service", claims.Service)
		c.Next()
	}
}
