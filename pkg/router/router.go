package router

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go-tower-pipeline/internal/logging"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

// Observer receives one sample per served request. route is the registered
// pattern, not the raw path.
type Observer interface {
	ObserveHTTP(method, route string, code int, d time.Duration)
}

type Router struct {
	mux       *http.ServeMux
	routes    map[string]HandlerFunc // key = METHOD:PATH
	paths     map[string]bool        // track registered paths
	wildcards []string               // wildcard paths in registration order

	log      logging.Logger
	observer Observer
}

// New creates a router. log and observer may be nil.
func New(log logging.Logger, observer Observer) *Router {
	if log == nil {
		log = logging.Noop()
	}
	r := &Router{
		mux:      http.NewServeMux(),
		routes:   make(map[string]HandlerFunc),
		paths:    make(map[string]bool),
		log:      log,
		observer: observer,
	}

	// Catch-all handler for every path
	r.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		route := r.dispatch(lrw, req)

		duration := time.Since(start)
		if r.observer != nil {
			r.observer.ObserveHTTP(req.Method, route, lrw.statusCode, duration)
		}
		r.log.Info(req.Context(), "http request",
			logging.String("method", req.Method),
			logging.String("path", req.URL.Path),
			logging.String("route", route),
			logging.Int("status", lrw.statusCode),
			logging.Millis("duration_ms", duration.Milliseconds()),
		)
	})

	return r
}

// dispatch serves req and returns the route pattern that handled it.
func (r *Router) dispatch(w http.ResponseWriter, req *http.Request) string {
	key := req.Method + ":" + req.URL.Path
	if h, ok := r.routes[key]; ok {
		h(w, req)
		return req.URL.Path
	}

	// Wildcard routes are tried in the order they were registered, so more
	// specific patterns must be registered first.
	pathMatched := r.paths[req.URL.Path]
	for _, routePath := range r.wildcards {
		if !matchWildcardRoute(req.URL.Path, routePath) {
			continue
		}
		if h, ok := r.routes[req.Method+":"+routePath]; ok {
			h(w, req)
			return routePath
		}
		pathMatched = true
	}

	if pathMatched {
		// Path exists but method not allowed
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return "method_not_allowed"
	}
	http.Error(w, "Not Found", http.StatusNotFound)
	return "not_found"
}

// matchWildcardRoute checks if a request path matches a wildcard route pattern
func matchWildcardRoute(requestPath, routePattern string) bool {
	// Split both paths into segments
	requestSegments := strings.Split(strings.Trim(requestPath, "/"), "/")
	routeSegments := strings.Split(strings.Trim(routePattern, "/"), "/")

	// Handle single wildcard at the end (matches any number of remaining segments)
	if len(routeSegments) > 0 && routeSegments[len(routeSegments)-1] == "*" {
		// Must have at least one segment for the wildcard
		if len(requestSegments) < len(routeSegments) {
			return false
		}

		// Check all segments except the last wildcard
		for i := 0; i < len(routeSegments)-1; i++ {
			if routeSegments[i] != "*" && requestSegments[i] != routeSegments[i] {
				return false
			}
		}
		return requestSegments[len(routeSegments)-1] != ""
	}

	if len(requestSegments) != len(routeSegments) {
		return false
	}

	// Check each segment
	for i, routeSegment := range routeSegments {
		if routeSegment == "*" {
			// Wildcard matches any non-empty segment
			if requestSegments[i] == "" {
				return false
			}
			continue
		}
		if requestSegments[i] != routeSegment {
			return false
		}
	}

	return true
}

// --- Register paths ---
func (r *Router) register(method, path string, handler HandlerFunc) {
	key := method + ":" + path
	r.routes[key] = handler
	if strings.Contains(path, "*") && !r.paths[path] {
		r.wildcards = append(r.wildcards, path)
	}
	r.paths[path] = true
}

func (r *Router) GET(path string, handler HandlerFunc)   { r.register(http.MethodGet, path, handler) }
func (r *Router) POST(path string, handler HandlerFunc)  { r.register(http.MethodPost, path, handler) }
func (r *Router) PUT(path string, handler HandlerFunc)   { r.register(http.MethodPut, path, handler) }
func (r *Router) PATCH(path string, handler HandlerFunc) { r.register(http.MethodPatch, path, handler) }
func (r *Router) DELETE(path string, handler HandlerFunc) {
	r.register(http.MethodDelete, path, handler)
}

// Handle registers an http.Handler for GET requests.
func (r *Router) Handle(path string, h http.Handler) {
	r.GET(path, h.ServeHTTP)
}

// Getter methods for testing
func (r *Router) Routes() map[string]HandlerFunc {
	return r.routes
}

func (r *Router) Paths() map[string]bool {
	return r.paths
}

// ServeHTTP makes the router usable with httptest and custom servers.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// --- Start server ---

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (r *Router) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.log.Info(ctx, "server started", logging.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	r.log.Info(ctx, "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// --- Logging response writer to capture status codes ---
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
