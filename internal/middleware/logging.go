package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseMeta はhttp.ResponseWriterをラップし、ステータスコードと
// レスポンスサイズを記録する。
type responseMeta struct {
	http.ResponseWriter
	status int
	bytes  int
	wrote  bool
}

func (m *responseMeta) WriteHeader(code int) {
	if !m.wrote {
		m.status = code
		m.wrote = true
	}
	m.ResponseWriter.WriteHeader(code)
}

func (m *responseMeta) Write(b []byte) (int, error) {
	if !m.wrote {
		m.status = http.StatusOK
		m.wrote = true
	}
	n, err := m.ResponseWriter.Write(b)
	m.bytes += n
	return n, err
}

// NewLoggingMiddleware はリクエストごとのアクセスログを出力するミドルウェアを返す。
// ログレベルはステータスコードに応じて変わる（5xxはerror、4xxはwarn）。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			meta := &responseMeta{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(meta, r)

			level := slog.LevelInfo
			switch {
			case meta.status >= 500:
				level = slog.LevelError
			case meta.status >= 400:
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", clientKey(r)),
				slog.Int("status", meta.status),
				slog.Int("bytes", meta.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
			)
		})
	}
}
