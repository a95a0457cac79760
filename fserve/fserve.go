// Package fserve assembles and runs the web server.
//
// Start puts the pieces together in a fixed order: cross-cutting
// middleware, the bundler's dev middleware (outside production), static
// files, the registered endpoints and finally a catch-all route that
// renders the client application.  Then it listens and serves until its
// context is cancelled.
//
// Lifecycle callbacks run through an App with the Start, Stop and
// Shutdown hooks.  Errors that cannot become a response go to the
// Supervisor.
package fserve

import (
	"context"
	"net"
	"net/http"
	"sync"

	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/webapp"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/jsfix-ci/fenris/fbundle"
	"github.com/jsfix-ci/fenris/fpoint"
	"github.com/jsfix-ci/fenris/frender"
	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/pkg/errors"
)

var (
	// ErrMissingBundlerConfig means a development server was started
	// without a bundler configuration.
	ErrMissingBundlerConfig = errors.New("bundler configuration is required outside production")
	// ErrAlreadyStarted means Start or Handler was called a second time.
	ErrAlreadyStarted = errors.New("server already started")
)

// Server is a server waiting to be started.
type Server struct {
	cfg        Config
	svc        *fpoint.Service
	app        *App
	supervisor *Supervisor
	lock       sync.Mutex
	attached   []fvelope.Middleware
	started    bool
	addr       net.Addr
	ready      chan struct{}
}

// New prepares a server for the endpoints of svc.  svc must be a
// pre-registered service; it is started by the server.  A nil svc means
// no endpoints.
func New(cfg Config, svc *fpoint.Service) *Server {
	if svc == nil {
		svc = fpoint.PreregisterService("fenris")
	}
	app, _ := NewApp(context.Background(), svc.Name)
	return &Server{
		cfg:        cfg,
		svc:        svc,
		app:        app,
		supervisor: NewSupervisor(cfg.logger(), 0, cfg.Notify),
		ready:      make(chan struct{}),
	}
}

// Attach adds cross-cutting middleware.  It runs after the built-in
// middleware, in the order attached.  Attaching after start panics.
func (s *Server) Attach(mw ...fvelope.Middleware) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		panic("cannot attach middleware after the server started")
	}
	s.attached = append(s.attached, mw...)
}

// App returns the lifecycle hooks runner.
func (s *Server) App() *App { return s.app }

// Supervisor returns the server's supervisor.
func (s *Server) Supervisor() *Supervisor { return s.supervisor }

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the address the server listens on.  It is nil before Ready is
// closed.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.addr
}

func (s *Server) begin() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	return nil
}

// Handler assembles the complete request handler without listening.
// It counts as starting the server.  The supervisor runs right away.
// Stop hooks, such as closing the bundler and stopping the supervisor,
// run when the App is closed.
func (s *Server) Handler(ctx context.Context) (http.Handler, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	go s.supervise(ctx)()
	h, err := s.build(ctx)
	if err != nil {
		return nil, s.abort(err)
	}
	return h, nil
}

// Start assembles the handler, listens and serves until ctx is
// cancelled.  Nothing is retried: a bind failure is logged and returned.
func (s *Server) Start(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	log := s.cfg.logger()
	ctx = ctxlog.Context(ctx, log)

	run := s.supervise(ctx)
	s.app.On(Start, func() {
		go run()
	})

	handler, err := s.build(ctx)
	if err != nil {
		log.Error("server assembly failed", "error", err.Error())
		return s.abort(errors.Wrap(err, "assemble server"))
	}

	ln := s.cfg.Listener
	if ln == nil {
		addr, err := s.cfg.Address()
		if err != nil {
			return s.abort(err)
		}
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err.Error())
			return s.abort(errors.Wrapf(err, "listen on %s", addr))
		}
	}
	if err := s.app.Do(Start); err != nil {
		_ = ln.Close()
		return errors.Wrap(err, "start hooks")
	}

	s.lock.Lock()
	s.addr = ln.Addr()
	s.lock.Unlock()
	close(s.ready)
	log.Info("server listening", "addr", ln.Addr().String(), "production", s.cfg.Production)

	srv := webapp.NewHTTPServerOnly(ctx, ln.Addr().String(), handler)
	err = webapp.ServeWithShutdown(ctx, ln, srv, s.cfg.grace())
	if cerr := s.app.Close(); cerr != nil {
		log.Error("stop hooks failed", "error", cerr.Error())
		if err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Server) abort(err error) error {
	if cerr := s.app.Close(); cerr != nil {
		s.cfg.logger().Error("stop hooks failed", "error", cerr.Error())
	}
	return err
}

func (s *Server) build(ctx context.Context) (http.Handler, error) {
	cfg := s.cfg
	if !cfg.Production && cfg.Bundler == nil {
		return nil, ErrMissingBundlerConfig
	}
	if s.svc.Started() {
		return nil, errors.Errorf("service %s is already bound to a router", s.svc.Name)
	}

	s.lock.Lock()
	attached := append([]fvelope.Middleware(nil), s.attached...)
	s.lock.Unlock()

	chain := []fvelope.Middleware{
		s.requestContext,
		recoverPanics,
		middleware.RequestID,
	}
	if cfg.TrustProxy {
		chain = append(chain, middleware.RealIP)
	}
	chain = append(chain,
		logRequests,
		middleware.Compress(cfg.compressionLevel()),
		fvelope.ParseJSONBody(cfg.BodyLimit),
		fvelope.InjectLocals,
	)
	protect, err := s.csrf()
	if err != nil {
		return nil, err
	}
	chain = append(chain, protect)
	chain = append(chain, attached...)

	bundle := cfg.OutputFile
	var staticDir string
	if cfg.OutputDir != "" {
		staticDir = fbundle.ResolveOutputPath("", cfg.OutputDir)
	}
	if !cfg.Production {
		bc := *cfg.Bundler
		if bc.Output.Path != "" {
			bc.Output.Path = fbundle.ResolveOutputPath("", bc.Output.Path)
		}
		compiler, err := fbundle.Webpack(ctx, bc)
		if err != nil {
			return nil, errors.Wrap(err, "bundler")
		}
		s.app.On(Stop, compiler.Close)
		chain = append(chain, compiler.HotMiddleware(), compiler.Middleware())
		if bundle == "" {
			bundle = bc.Output.Filename
		}
		// The bundler's own output directory stands in for OutputDir.
		if staticDir == "" {
			staticDir = bc.Output.Path
		}
	}

	if staticDir != "" {
		chain = append(chain, serveStatic(staticDir))
	}

	router := mux.NewRouter()
	s.svc.Start(router)
	render := cfg.Render
	if render == nil {
		render = frender.Document
	}
	router.PathPrefix("/").Methods(http.MethodGet, http.MethodHead).Handler(render(frender.Options{
		Component: cfg.Component,
		Bundle:    bundle,
		Extra:     cfg.RenderExtra,
	}))

	return fvelope.Chain(chain...)(router), nil
}

// supervise registers the Stop callback that ends the supervisor and
// returns the function that runs it.  Stop drains what is queued.
func (s *Server) supervise(ctx context.Context) func() {
	supCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.app.On(Stop, func() {
		s.supervisor.Wait()
		cancel()
	})
	return func() {
		s.supervisor.Run(supCtx)
	}
}

// requestContext gives every request the server's logger and
// supervisor, whichever way the handler is served.
func (s *Server) requestContext(next http.Handler) http.Handler {
	log := s.cfg.logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := fvelope.WithReporter(ctxlog.Context(r.Context(), log), s.supervisor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
