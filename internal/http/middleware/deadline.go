package middleware

import (
	"context"
	"net/http"
	"slices"
	"time"
)

// PipelineDeadline bounds the context of requests for the given paths to
// budget and replaces the server write timeout for them. The connection may
// be written until budget+window; once the handler starts writing, the
// deadline moves to now+window.
func PipelineDeadline(budget, window time.Duration, paths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if budget <= 0 || !slices.Contains(paths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), budget)
			defer cancel()

			rc := http.NewResponseController(w)
			// Writers that cannot take a deadline (recorders in tests) keep
			// whatever the server set.
			if err := rc.SetWriteDeadline(time.Now().Add(budget + window)); err != nil {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			next.ServeHTTP(&deadlineWriter{ResponseWriter: w, rc: rc, window: window}, r.WithContext(ctx))
		})
	}
}

type deadlineWriter struct {
	http.ResponseWriter
	rc     *http.ResponseController
	window time.Duration
	armed  bool
}

func (w *deadlineWriter) arm() {
	if !w.armed {
		w.armed = true
		_ = w.rc.SetWriteDeadline(time.Now().Add(w.window))
	}
}

func (w *deadlineWriter) WriteHeader(code int) {
	w.arm()
	w.ResponseWriter.WriteHeader(code)
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	w.arm()
	return w.ResponseWriter.Write(p)
}

func (w *deadlineWriter) Flush() {
	w.arm()
	_ = w.rc.Flush()
}

func (w *deadlineWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
