package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

const (
	// MaxRequestBodySize is the default request body cap. Groth16 proofs are a
	// few hundred bytes; 64KB leaves room for headroom plus JSON overhead.
	MaxRequestBodySize = 64 << 10 // 64 KB
)

// BodySizeLimit caps the request body. The handler's JSON decoder surfaces
// the MaxBytesReader error; this middleware only installs the cap so every
// route gets it uniformly.
func BodySizeLimit(maxBytes int64, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				logger.Warn("Request body too large",
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int64("content_length", r.ContentLength),
					zap.Int64("max_bytes", maxBytes),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(`{"success":false,"error":"Request body too large"}`))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
