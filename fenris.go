package fenris

import (
	"context"
	"net/http"
	"sync"

	"github.com/jsfix-ci/fenris/fpoint"
	"github.com/jsfix-ci/fenris/fserve"
	"github.com/jsfix-ci/fenris/fvelope"
)

type (
	Input          = fvelope.Input
	Middleware     = fvelope.Middleware
	DownloadResult = fvelope.DownloadResult
	RedirectResult = fvelope.RedirectResult
	Config         = fserve.Config
	BusinessLogic  = fpoint.BusinessLogic
)

// Reject makes value the body of the 500 response.
func Reject(value interface{}) error {
	return fvelope.Reject(value)
}

// Server collects endpoints and middleware until it is started.
type Server struct {
	GetEndpoint      fpoint.Registrar
	PostEndpoint     fpoint.Registrar
	HTMLEndpoint     fpoint.Registrar
	DownloadEndpoint fpoint.Registrar
	RedirectEndpoint fpoint.Registrar

	svc      *fpoint.Service
	lock     sync.Mutex
	attached []fvelope.Middleware
	server   *fserve.Server
}

// New creates a Server.  funcs are nject providers that precede every
// endpoint's handler chain, as for fpoint.PreregisterService.
func New(name string, funcs ...interface{}) *Server {
	svc := fpoint.PreregisterService(name, funcs...)
	return &Server{
		GetEndpoint:      svc.Register(http.MethodGet, fvelope.JSON),
		PostEndpoint:     svc.Register(http.MethodPost, fvelope.JSON),
		HTMLEndpoint:     svc.Register(http.MethodGet, fvelope.HTML),
		DownloadEndpoint: svc.Register(http.MethodGet, fvelope.Download),
		RedirectEndpoint: svc.Register(http.MethodGet, fvelope.Redirect),
		svc:              svc,
	}
}

// AttachMiddleware adds middleware that sees every request after the
// built-in middleware.  It panics once the server has started.
func (s *Server) AttachMiddleware(mw ...fvelope.Middleware) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.server != nil {
		panic("cannot attach middleware after the server started")
	}
	s.attached = append(s.attached, mw...)
}

// Endpoints lists what has been registered.
func (s *Server) Endpoints() []*fpoint.Endpoint {
	return s.svc.Endpoints()
}

// Start listens and serves until ctx is cancelled.  See fserve.Server.Start.
func (s *Server) Start(ctx context.Context, cfg Config) error {
	srv, err := s.prepare(cfg)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// Handler assembles the server without listening, for use with another
// http.Server or in tests.  Stop hooks run when Close is called.
func (s *Server) Handler(ctx context.Context, cfg Config) (http.Handler, error) {
	srv, err := s.prepare(cfg)
	if err != nil {
		return nil, err
	}
	return srv.Handler(ctx)
}

// Close runs the stop hooks of a server assembled with Handler.
func (s *Server) Close() error {
	s.lock.Lock()
	srv := s.server
	s.lock.Unlock()
	if srv == nil {
		return nil
	}
	return srv.App().Close()
}

func (s *Server) prepare(cfg Config) (*fserve.Server, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.server != nil {
		return nil, fserve.ErrAlreadyStarted
	}
	s.server = fserve.New(cfg, s.svc)
	s.server.Attach(s.attached...)
	return s.server, nil
}
