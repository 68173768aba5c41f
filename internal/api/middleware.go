package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/triage-ai/cli-analytics/internal/auth"
	"go.uber.org/zap"
)

const (
	maxBodyBytes     = 8 << 20
	maxGzipBodyBytes = 2 << 20
)

// --- Auth ---

// tenantAuth validates "Authorization: Bearer cla_..." and attaches the tenant
// to the request context.
func (d *Dependencies) tenantAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid Authorization header"})
			return
		}
		tenant, err := d.Auth.Authenticate(r.Context(), key)
		switch {
		case errors.Is(err, auth.ErrAuthUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Authentication temporarily unavailable"})
			return
		case err != nil:
			d.Logger.Debug("auth failed", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key"})
			return
		}
		next(w, r.WithContext(auth.WithTenant(r.Context(), tenant)))
	}
}

// adminAuth guards tenant administration with a static bearer token. Without
// a configured token the admin routes answer 404.
func (d *Dependencies) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.AdminToken == "" {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Not found"})
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(header[len(prefix):])), []byte(d.AdminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid admin token"})
			return
		}
		next(w, r)
	}
}

// tenantID returns the authenticated tenant. Only valid behind tenantAuth.
func tenantID(r *http.Request) string {
	if t := auth.TenantFrom(r.Context()); t != nil {
		return t.TenantID
	}
	return ""
}

// --- Body handling ---

// gunzipBody transparently decompresses "Content-Encoding: gzip" request
// bodies and caps the decompressed size.
func gunzipBody(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(strings.TrimSpace(r.Header.Get("Content-Encoding")), "gzip") {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			next(w, r)
			return
		}
		zr, err := gzip.NewReader(http.MaxBytesReader(w, r.Body, maxGzipBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid gzip body"})
			return
		}
		defer func() { _ = zr.Close() }()
		r.Body = http.MaxBytesReader(w, io.NopCloser(zr), maxBodyBytes)
		r.Header.Del("Content-Encoding")
		next(w, r)
	}
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer. Unknown fields
// are rejected.
func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Content-Encoding")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
