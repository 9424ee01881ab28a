package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/docket/internal/handlers"
)

// MethodRouter maps HTTP methods to the handlers of one path
type MethodRouter map[string]http.HandlerFunc

// allow lists the router's methods for the Allow header
func (m MethodRouter) allow() string {
	methods := make([]string, 0, len(m)+1)
	for method := range m {
		methods = append(methods, method)
	}
	methods = append(methods, http.MethodOptions)
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}

// ServeHTTP dispatches on method. Unknown methods get 405 with an Allow header.
func (m MethodRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler, ok := m[r.Method]
	if !ok {
		w.Header().Set("Allow", m.allow())
		handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	handler(w, r)
}
