package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes returns the application router:
//
//	GET  /ws       WebSocket relay
//	POST /upload   image upload (multipart field "image")
//	GET  /healthz  liveness and counts
//	GET  /*        static files under the public root, uploads included;
//	               directories are never listed
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/ws", s.WebSocketHandler)
	r.Post("/upload", s.uploads.ServeHTTP)
	r.Get("/healthz", s.HealthHandler)

	static := http.FileServer(noListingFS{fs: http.Dir(s.publicDir)})
	r.Get("/*", static.ServeHTTP)
	r.Head("/*", static.ServeHTTP)

	return r
}

// requestLogger logs each request at debug level once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
