package fvelope

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/muir/nject"
)

// CookiesKey is the reserved Input key that holds the request cookies.
const CookiesKey = "cookies"

// Input is the flattened view of a request that business logic receives.
type Input map[string]interface{}

// NormalizeRequest injects an Input built by Normalize.
var NormalizeRequest = nject.Provide("normalize-request", Normalize)

// Normalize merges everything a request carries into one Input.  The merge
// order is path variables, then the JSON body, then the query string, then
// response locals; later sources overwrite earlier ones.  The cookie map is
// written last under CookiesKey.  Missing sources count as empty.
func Normalize(r *http.Request) Input {
	in := make(Input)
	for k, v := range mux.Vars(r) {
		in[k] = v
	}
	for k, v := range BodyFromContext(r.Context()) {
		in[k] = v
	}
	for k, vals := range r.URL.Query() {
		switch len(vals) {
		case 0:
		case 1:
			in[k] = vals[0]
		default:
			in[k] = append([]string(nil), vals...)
		}
	}
	LocalsFromContext(r.Context()).each(func(k string, v interface{}) {
		in[k] = v
	})
	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	in[CookiesKey] = cookies
	return in
}

// String returns the value for key when it is a string.
func (in Input) String(key string) string {
	s, _ := in[key].(string)
	return s
}

// Cookies returns the cookie map stored under CookiesKey.
func (in Input) Cookies() map[string]string {
	c, _ := in[CookiesKey].(map[string]string)
	return c
}

// Locals are per-request values that route middleware hands to business
// logic.  They override every other input source.
type Locals struct {
	lock   sync.Mutex
	values map[string]interface{}
}

type localsKey struct{}

// WithLocals returns a context carrying a fresh, empty Locals.
func WithLocals(ctx context.Context) context.Context {
	return context.WithValue(ctx, localsKey{}, &Locals{values: make(map[string]interface{})})
}

// LocalsFromContext returns the Locals in ctx, or nil.
func LocalsFromContext(ctx context.Context) *Locals {
	l, _ := ctx.Value(localsKey{}).(*Locals)
	return l
}

// Set stores a local value.
func (l *Locals) Set(key string, value interface{}) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.values[key] = value
}

// Get fetches a local value.
func (l *Locals) Get(key string) (interface{}, bool) {
	if l == nil {
		return nil, false
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	v, ok := l.values[key]
	return v, ok
}

func (l *Locals) each(f func(string, interface{})) {
	if l == nil {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	for k, v := range l.values {
		f(k, v)
	}
}

// SetLocal records a response-local value for r.  If r does not carry
// Locals yet, a request with a new context is returned and must be passed
// on in place of r.
func SetLocal(r *http.Request, key string, value interface{}) *http.Request {
	if l := LocalsFromContext(r.Context()); l != nil {
		l.Set(key, value)
		return r
	}
	r = r.WithContext(WithLocals(r.Context()))
	LocalsFromContext(r.Context()).Set(key, value)
	return r
}

// InjectLocals is cross-cutting middleware that gives every request an
// empty Locals.
func InjectLocals(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithLocals(r.Context())))
	})
}
