// Package fbundle runs the client bundler in development and puts its
// output in front of the router.
//
// A Compiler either starts the bundler's dev server as a child process
// (cloudeng.io/webapp/devserver) or attaches to one that is already
// running.  Requests under the public path are proxied to it; what the
// dev server does not have falls through to the rest of the server.  The
// hot update event stream is proxied without buffering.
package fbundle

import (
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"cloudeng.io/webapp/devserver"
	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/pkg/errors"
)

// DefaultHotPath is where the hot update event stream is served.
const DefaultHotPath = "/__webpack_hmr"

// DefaultStartTimeout bounds the wait for a dev server to announce its URL.
const DefaultStartTimeout = 2 * time.Minute

// ErrNoBundler is returned by Webpack when the configuration names
// neither a command nor a running server.
var ErrNoBundler = errors.New("bundler config needs a command or a server URL")

// Output describes where the bundler writes and how the output is
// addressed.
type Output struct {
	// Path is where production builds are written.  Relative paths are
	// resolved against the server's own location.
	Path string `yaml:"path"`
	// PublicPath is the URL prefix of bundle assets.  Defaults to "/".
	PublicPath string `yaml:"publicPath"`
	Filename   string `yaml:"filename"`
}

// Config is the bundler configuration.
type Config struct {
	// Dir is the working directory of Command.
	Dir     string   `yaml:"dir"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// ServerURL points at a dev server that is already running.  When set,
	// no process is started.
	ServerURL string `yaml:"serverURL"`
	Output    Output `yaml:"output"`
	HotPath   string `yaml:"hotPath"`
	// URLPattern selects the line of the dev server's output that carries
	// its URL.  The URL is the last word of that line.  Defaults to
	// webpack's "Local:".
	URLPattern   string        `yaml:"urlPattern"`
	StartTimeout time.Duration `yaml:"startTimeout"`
	// Stdout receives the dev server's output.  Defaults to os.Stdout.
	Stdout io.Writer `yaml:"-"`
}

// Compiler is a running (or attached) bundler dev server.
type Compiler struct {
	url        *url.URL
	publicPath string
	hotPath    string
	dev        *devserver.DevServer
	cancel     context.CancelFunc
	assets     *httputil.ReverseProxy
	hot        *httputil.ReverseProxy
	closeOnce  sync.Once
}

type fallThroughKey struct{}

type fallThrough struct {
	next http.Handler
	r    *http.Request
}

var errFallThrough = errors.New("not served by the bundler")

// Webpack starts or attaches to the bundler described by cfg.  The dev
// server process lives until Close is called or ctx is cancelled.
func Webpack(ctx context.Context, cfg Config) (*Compiler, error) {
	c := &Compiler{
		publicPath: normalizePrefix(cfg.Output.PublicPath),
		hotPath:    cfg.HotPath,
	}
	if c.hotPath == "" {
		c.hotPath = DefaultHotPath
	}
	switch {
	case cfg.ServerURL != "":
		u, err := url.Parse(cfg.ServerURL)
		if err != nil {
			return nil, errors.Wrapf(err, "bundler server URL %q", cfg.ServerURL)
		}
		c.url = u
	case cfg.Command != "":
		u, err := c.startDevServer(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.url = u
	default:
		return nil, ErrNoBundler
	}
	c.assets = httputil.NewSingleHostReverseProxy(c.url)
	c.assets.ModifyResponse = func(res *http.Response) error {
		if res.StatusCode == http.StatusNotFound {
			return errFallThrough
		}
		return nil
	}
	c.assets.ErrorHandler = c.proxyError
	c.hot = httputil.NewSingleHostReverseProxy(c.url)
	c.hot.FlushInterval = -1
	c.hot.ErrorHandler = c.proxyError
	return c, nil
}

func (c *Compiler) startDevServer(ctx context.Context, cfg Config) (*url.URL, error) {
	var re *regexp.Regexp
	if cfg.URLPattern != "" {
		var err error
		re, err = regexp.Compile(cfg.URLPattern)
		if err != nil {
			return nil, errors.Wrap(err, "bundler URL pattern")
		}
	}
	out := cfg.Stdout
	if out == nil {
		out = os.Stdout
	}
	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.dev = devserver.NewServer(runCtx, cfg.Dir, cfg.Command, cfg.Args...)
	waitCtx, waitCancel := context.WithTimeout(runCtx, timeout)
	defer waitCancel()
	u, err := c.dev.StartAndWaitForURL(waitCtx, out, devserver.NewWebpackURLExtractor(re))
	if err != nil {
		c.Close()
		return nil, errors.Wrapf(err, "start bundler %s in %q", cfg.Command, cfg.Dir)
	}
	return u, nil
}

// URL is where the dev server listens.
func (c *Compiler) URL() *url.URL {
	return c.url
}

// Middleware serves GET and HEAD requests under the public path from the
// dev server.  Anything the dev server answers with 404 is passed on to
// next, as is every other request.
func (c *Compiler) Middleware() fvelope.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (r.Method != http.MethodGet && r.Method != http.MethodHead) ||
				!strings.HasPrefix(r.URL.Path, c.publicPath) {
				next.ServeHTTP(w, r)
				return
			}
			ft := fallThrough{next: next, r: r}
			c.assets.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), fallThroughKey{}, ft)))
		})
	}
}

// HotMiddleware proxies the hot update event stream.  Responses are
// flushed as they arrive.
func (c *Compiler) HotMiddleware() fvelope.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != c.hotPath {
				next.ServeHTTP(w, r)
				return
			}
			c.hot.ServeHTTP(w, r)
		})
	}
}

func (c *Compiler) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errFallThrough) {
		if ft, ok := r.Context().Value(fallThroughKey{}).(fallThrough); ok {
			ft.next.ServeHTTP(w, ft.r)
			return
		}
		http.NotFound(w, r)
		return
	}
	if r.Context().Err() != nil {
		return
	}
	fvelope.ReportUnhandled(r.Context(), errors.Wrapf(err, "bundler proxy %s", r.URL.Path))
	w.WriteHeader(http.StatusBadGateway)
}

// Close stops the dev server process, if one was started.
func (c *Compiler) Close() {
	c.closeOnce.Do(func() {
		if c.dev != nil {
			c.dev.Close()
		}
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// ResolveOutputPath returns p when it is absolute and p joined to root
// otherwise.  An empty root means the directory of the running
// executable.
func ResolveOutputPath(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if root == "" {
		root = ServerRoot()
	}
	return filepath.Join(root, p)
}

// ServerRoot is the directory that holds the running executable, or the
// working directory when that cannot be determined.
func ServerRoot() string {
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func normalizePrefix(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
