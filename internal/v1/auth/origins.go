// Package auth provides request authentication for the game service:
// an origin allow-list consulted during the WebSocket upgrade, and an
// HS256 service-token validator guarding the session control plane.
package auth

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/logging"
)

// GetAllowedOriginsFromEnv reads a comma-separated origin list from the
// named environment variable, falling back to the provided defaults when
// the variable is unset.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		// Provide sensible defaults for local development if the env var isn't set.
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	origins := strings.Split(originsStr, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}

// IsOriginAllowed reports whether the given Origin header value matches one
// of the allowed origins by scheme and host. An empty origin is allowed so
// non-browser clients (health probes, tests) can connect.
func IsOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}
