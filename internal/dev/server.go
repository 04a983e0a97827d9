package dev

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/metrics"
)

// Options configures the development server.
type Options struct {
	// Addr is the listen address (host:port).
	Addr string

	// Root is the directory of built assets to serve.
	Root string

	// NoReload disables the reload endpoint and script injection.
	NoReload bool

	// CSSTasks are the tasks whose success only needs a stylesheet refresh.
	// Default: ["sass"].
	CSSTasks []string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server serves the build output and pushes reloads to connected browsers.
type Server struct {
	opts   Options
	reload *ReloadServer
	router chi.Router

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a new development server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CSSTasks == nil {
		opts.CSSTasks = []string{"sass"}
	}
	if root, err := filepath.Abs(opts.Root); err == nil {
		opts.Root = root
	}

	s := &Server{opts: opts}
	if !opts.NoReload {
		s.reload = NewReloadServer(opts.Logger)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(s.logRequests)

	if s.reload != nil {
		r.Get(ReloadPath, s.reload.ServeHTTP)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", s.opts.Metrics.Handler())
	r.Get("/*", s.serveStatic)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Reload returns the reload server, nil when reload is disabled.
func (s *Server) Reload() *ReloadServer {
	return s.reload
}

// Addr returns the address the server is listening on, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens on Options.Addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errors.New(errors.CodeWatch).
			WithDetail("dev server cannot listen on " + s.opts.Addr).
			WithSuggestion("Change dev.port in assetrun.json or stop the process using the port").
			Wrap(err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.opts.Logger.Info("dev server running", "url", "http://"+ln.Addr().String(), "root", s.opts.Root)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		if s.reload != nil {
			s.reload.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// AfterRun notifies browsers of a finished task run: an error overlay on
// failure, a stylesheet refresh for CSS tasks, a full reload otherwise.
func (s *Server) AfterRun(task string, _ time.Duration, err error) {
	if s.reload == nil {
		return
	}

	if err != nil {
		n := s.reload.NotifyError(err.Error())
		s.opts.Metrics.Reload("error")
		s.opts.Logger.Debug("error overlay sent", "task", task, "browsers", n)
		return
	}

	s.reload.ClearError()
	kind := "full"
	var n int
	if slices.Contains(s.opts.CSSTasks, task) {
		kind = "css"
		n = s.reload.NotifyCSS("")
	} else {
		n = s.reload.NotifyReload()
	}
	s.opts.Metrics.Reload(kind)
	s.opts.Logger.Info("browsers reloaded", "task", task, "kind", kind, "browsers", n)
}

// serveStatic serves files under Root. HTML pages get the reload script
// injected.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	full := filepath.Join(s.opts.Root, filepath.FromSlash(name))

	if info, err := os.Stat(full); err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
	}

	if s.reload != nil && strings.HasSuffix(full, ".html") {
		if data, err := os.ReadFile(full); err == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(InjectScript(data))
			return
		}
	}

	http.FileServer(http.Dir(s.opts.Root)).ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.opts.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

// InjectScript inserts ClientScript before </body>, else before </html>,
// else at the end of the page.
func InjectScript(page []byte) []byte {
	script := []byte(ClientScript)
	for _, marker := range [][]byte{[]byte("</body>"), []byte("</html>")} {
		if idx := bytes.LastIndex(page, marker); idx != -1 {
			out := make([]byte, 0, len(page)+len(script))
			out = append(out, page[:idx]...)
			out = append(out, script...)
			return append(out, page[idx:]...)
		}
	}
	return append(append([]byte(nil), page...), script...)
}
