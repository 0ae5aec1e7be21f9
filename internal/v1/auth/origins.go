// Package auth implements the admission trust boundary of the relay: the
// origin allow-list. Identity claims (clientId, username, admin) arrive as
// query parameters and are treated as display data, never authenticated here.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytetogether/relay/internal/v1/logging"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// Origins holds the configured allow-list. Matching is exact string match
// against the Origin header value.
type Origins struct {
	allowed set.Set[string]
}

// ParseAllowedOrigins builds the allow-list from a comma-separated
// configuration value. Empty entries are skipped; when the value is empty the
// defaults are used instead.
func ParseAllowedOrigins(originsStr string, defaults []string) *Origins {
	if originsStr == "" {
		logging.Warn(context.Background(), "ALLOWED_ORIGINS not set. Using default development origins",
			zap.Strings("defaults", defaults))
		return &Origins{allowed: set.New(defaults...)}
	}

	allowed := set.New[string]()
	for _, o := range strings.Split(originsStr, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			allowed.Insert(o)
		}
	}
	return &Origins{allowed: allowed}
}

// List returns the allow-list entries in sorted order, for CORS configuration.
func (o *Origins) List() []string {
	return o.allowed.SortedList()
}

// Validate checks the request's Origin header against the allow-list.
// A missing Origin header is permitted: non-browser clients do not send one.
func (o *Origins) Validate(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.GetLogger().Debug("No origin header - allowing non-browser client")
		return nil
	}

	if o.allowed.Has(origin) {
		logging.GetLogger().Debug("Origin validated", zap.String("origin", origin))
		return nil
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin),
		zap.Strings("allowedOrigins", o.allowed.SortedList()))
	return fmt.Errorf("origin not allowed: %s", origin)
}
