package router

import (
	"net/http"
	"sort"
	"strings"
)

// Router dispatches on exact path and method without relying on ServeMux so
// custom 404 and 405 responses are possible.
type Router struct {
	routes           map[string]map[string]http.Handler
	notFound         http.Handler
	methodNotAllowed func(allow string) http.Handler
}

// New constructs a fresh Router.
func New() *Router {
	return &Router{
		routes: make(map[string]map[string]http.Handler),
	}
}

// Handle registers handler for method on an exact path. An empty method
// matches any method not registered explicitly.
func (r *Router) Handle(method, path string, handler http.Handler) {
	if path == "" || handler == nil {
		return
	}
	methods, ok := r.routes[path]
	if !ok {
		methods = make(map[string]http.Handler)
		r.routes[path] = methods
	}
	methods[strings.ToUpper(method)] = handler
}

// HandleFunc registers an exact path match via a function.
func (r *Router) HandleFunc(method, path string, fn http.HandlerFunc) {
	if fn == nil {
		return
	}
	r.Handle(method, path, fn)
}

// NotFound sets the fallback handler.
func (r *Router) NotFound(handler http.Handler) {
	r.notFound = handler
}

// MethodNotAllowed sets the builder used when the path exists but the method
// does not. It receives the value of the Allow header.
func (r *Router) MethodNotAllowed(fn func(allow string) http.Handler) {
	r.methodNotAllowed = fn
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if methods, ok := r.routes[req.URL.Path]; ok {
		if h := lookup(methods, req.Method); h != nil {
			h.ServeHTTP(w, req)
			return
		}

		allow := allowed(methods)
		if r.methodNotAllowed != nil {
			r.methodNotAllowed(allow).ServeHTTP(w, req)
			return
		}
		w.Header().Set("Allow", allow)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if r.notFound != nil {
		r.notFound.ServeHTTP(w, req)
		return
	}

	http.NotFound(w, req)
}

func lookup(methods map[string]http.Handler, method string) http.Handler {
	if h, ok := methods[method]; ok {
		return h
	}
	if method == http.MethodHead {
		if h, ok := methods[http.MethodGet]; ok {
			return h
		}
	}
	return methods[""]
}

func allowed(methods map[string]http.Handler) string {
	list := make([]string, 0, len(methods)+1)
	for m := range methods {
		if m != "" {
			list = append(list, m)
		}
	}
	if _, ok := methods[http.MethodGet]; ok {
		if _, ok := methods[http.MethodHead]; !ok {
			list = append(list, http.MethodHead)
		}
	}
	sort.Strings(list)
	return strings.Join(list, ", ")
}
