package fserve

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"cloudeng.io/logging/ctxlog"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/pkg/errors"
)

// recoverPanics turns a panic anywhere below it into the uniform error
// response.  http.ErrAbortHandler is passed on so that net/http can drop
// the connection.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler { //nolint:errorlint
				panic(rvr)
			}
			err := errors.WithStack(fvelope.PanicError{Value: rvr, Stack: string(debug.Stack())})
			fvelope.ReportUnhandled(r.Context(), err)
			if r.Header.Get("Connection") != "Upgrade" {
				fvelope.WriteRejection(w, r, fvelope.LoggerFromContext(r.Context()), err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// logRequests logs one line per request with the context logger.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ctxlog.Logger(r.Context()).Info("request",
				"method", r.Method,
				"uri", r.URL.RequestURI(),
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"requestId", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// serveStatic serves files from dir.  Requests that do not name a
// regular file, and requests that are not GET or HEAD, go to next.
func serveStatic(dir string) fvelope.Middleware {
	fsys := os.DirFS(dir)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
			if name == "" || !fs.ValidPath(name) {
				next.ServeHTTP(w, r)
				return
			}
			info, err := fs.Stat(fsys, name)
			if err != nil || !info.Mode().IsRegular() {
				next.ServeHTTP(w, r)
				return
			}
			http.ServeFileFS(w, r, fsys, name)
		})
	}
}
