package fvelope

import (
	"net/http"

	"github.com/muir/nject"
)

// Middleware is the common Go wrapping pattern.  Route middleware,
// cross-cutting middleware and the dev bundler all have this shape.
type Middleware func(http.Handler) http.Handler

// PassThrough is the Middleware that does nothing.  An endpoint
// registered with it behaves exactly like one registered with none.
func PassThrough(next http.Handler) http.Handler { return next }

// Chain combines middleware so that the first one is outermost.
func Chain(m ...Middleware) Middleware {
	switch len(m) {
	case 0:
		return PassThrough
	case 1:
		if m[0] == nil {
			return PassThrough
		}
		return m[0]
	default:
		return func(h http.Handler) http.Handler {
			for i := len(m) - 1; i >= 0; i-- {
				if m[i] != nil {
					h = m[i](h)
				}
			}
			return h
		}
	}
}

// InjectMiddleware converts route middleware so that it can sit in an
// nject handler chain.  The middleware may replace the
// http.ResponseWriter or the *http.Request; whatever it passes on is
// what the rest of the chain sees.  A middleware that writes a response
// without calling its next handler stops the chain.
func InjectMiddleware(m ...Middleware) nject.Provider {
	combined := Chain(m...)
	return nject.Required(nject.Provide("route-middleware",
		func(inner func(w http.ResponseWriter, r *http.Request), w http.ResponseWriter, r *http.Request) {
			combined(http.HandlerFunc(inner)).ServeHTTP(w, r)
		}))
}
