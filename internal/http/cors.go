package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	authHTTP "github.com/allisson/safestring/internal/auth/http"
)

// createCORSMiddleware returns a CORS middleware for the entry API, or nil when CORS is
// disabled or no usable origin is configured.
//
// Browsers may send the unlock token only from the listed origins, so a wildcard is never
// accepted. Preflights allow exactly the methods and headers the entry routes use.
func createCORSMiddleware(enabled bool, allowOriginsStr string, logger *slog.Logger) gin.HandlerFunc {
	if !enabled {
		return nil
	}

	origins, rejected := parseOrigins(allowOriginsStr)
	for _, origin := range rejected {
		logger.Warn("ignoring CORS origin", slog.String("origin", origin))
	}
	if len(origins) == 0 {
		logger.Warn("CORS enabled but no usable origins configured")
		return nil
	}

	logger.Info("CORS enabled", slog.Any("origins", origins))

	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Content-Type", authHTTP.UnlockTokenHeader},
		ExposeHeaders: []string{"X-Request-Id"},
		MaxAge:        12 * time.Hour,
	})
}

// parseOrigins splits a comma-separated origin list. Entries that are not a bare
// http(s)://host[:port] origin, including "*", are returned in rejected. A trailing slash
// is dropped and duplicates are kept once.
func parseOrigins(originsStr string) (origins, rejected []string) {
	for part := range strings.SplitSeq(originsStr, ",") {
		origin := strings.TrimSuffix(strings.TrimSpace(part), "/")
		if origin == "" {
			continue
		}
		if !isOrigin(origin) {
			rejected = append(rejected, origin)
			continue
		}
		if !slices.Contains(origins, origin) {
			origins = append(origins, origin)
		}
	}
	return origins, rejected
}

func isOrigin(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") &&
		u.Host != "" && u.User == nil && u.Path == "" && u.RawQuery == "" && u.Fragment == ""
}
