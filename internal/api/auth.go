package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"studysync/internal/config"
)

const (
	PermRead  = "read:queue"
	PermWrite = "write:queue"
	PermAdmin = "admin:queue"
)

var (
	errMissingKey       = errors.New("missing api key")
	errInvalidKey       = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients []config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:     cfg,
		clients: cfg.Auth.APIKeys,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

// Wrap guards next. Paths listed in public skip both checks.
func (a *HTTPAuth) Wrap(next http.Handler, public ...string) http.Handler {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := open[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) headerName() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		h = "x-api-key"
	}
	return h
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if apiKey == "" {
		return errMissingKey
	}

	client, ok := a.lookup(apiKey)
	if !ok {
		return errInvalidKey
	}
	return checkPermissions(client, r)
}

func (a *HTTPAuth) lookup(apiKey string) (config.APIClientKey, bool) {
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			return c, true
		}
	}
	return config.APIClientKey{}, false
}

// checkPermissions treats a key without any permissions as unrestricted.
func checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		p = strings.TrimSpace(p)
		if p == required || p == PermAdmin {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	if !strings.HasPrefix(r.URL.Path, "/api/v1/queue") {
		return ""
	}
	switch r.Method {
	case http.MethodGet:
		return PermRead
	case http.MethodDelete:
		return PermAdmin
	default:
		return PermWrite
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}
