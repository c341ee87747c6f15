package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// requestID stamps every request with a uuid, mirroring the refresh-token
// uuid.New() idiom used elsewhere in the pack, repurposed here for request
// correlation instead of token generation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type brotliResponseWriter struct {
	http.ResponseWriter
	writer *brotli.Writer
}

func (w *brotliResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}

// brotliCompress wraps the response body in brotli compression when the
// client advertises support, for the JSON manifests which can be large.
// It carries no partial-content semantics; range requests remain
// out of scope.
func brotliCompress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "br")
		w.Header().Add("Vary", "Accept-Encoding")
		bw := brotli.NewWriterLevel(w, brotli.DefaultCompression)
		defer bw.Close()
		next.ServeHTTP(&brotliResponseWriter{ResponseWriter: w, writer: bw}, r)
	})
}
