package observe

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Multiplexer is the subset of *http.ServeMux that Mux decorates.
type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux adds server telemetry to each route it registers. Spans are named
// "METHOD route-pattern" so that user input in paths, such as destinations
// and file names, never becomes part of a span name.
type Mux struct {
	routes Multiplexer
}

func NewMux(routes Multiplexer) *Mux {
	return &Mux{routes: routes}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	traced := otelhttp.NewHandler(handler, TrimMethod(pattern),
		otelhttp.WithSpanNameFormatter(func(route string, r *http.Request) string {
			return r.Method + " " + route
		}),
	)
	mux.routes.Handle(pattern, traced)
}

func (mux *Mux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	mux.Handle(pattern, http.HandlerFunc(handler))
}

// Untraced registers a route without telemetry, for health checks that would
// otherwise dominate the trace volume.
func (mux *Mux) Untraced(pattern string, handler http.Handler) {
	mux.routes.Handle(pattern, handler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.routes.ServeHTTP(w, r)
}

var patternMethods = map[string]bool{
	http.MethodConnect: true,
	http.MethodDelete:  true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPatch:   true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodTrace:   true,
}

// TrimMethod returns the path part of a ServeMux pattern, dropping a leading
// method if there is one.
func TrimMethod(pattern string) string {
	if method, route, ok := strings.Cut(pattern, " "); ok && patternMethods[method] {
		return route
	}
	return pattern
}
