package fpoint

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/muir/nject"
)

// BusinessLogic is the code behind an endpoint.  It receives the
// request context and the normalized input and returns a result for the
// endpoint's strategy, or an error.
type BusinessLogic func(ctx context.Context, in fvelope.Input) (interface{}, error)

// Registrar registers an endpoint for a fixed method and strategy.
type Registrar func(path string, logic BusinessLogic, mw ...fvelope.Middleware) *Endpoint

// Service is a group of endpoints that share a collection of nject
// providers.
type Service struct {
	Name       string
	Collection *nject.Collection
	endpoints  []*Endpoint
	router     *mux.Router
	frozen     bool
	lock       sync.Mutex
}

// Endpoint is one registered endpoint.  It does not change once
// registered.
type Endpoint struct {
	Method     string
	Path       string
	Strategy   fvelope.Strategy
	Middleware []fvelope.Middleware
	handler    http.HandlerFunc
	initialize func()
	route      *mux.Route
}

// PreregisterService creates a service whose endpoints are bound to a
// router only when Start is called.
//
// The passed in funcs follow the same rules as for the funcs in a
// nject.Collection.  They precede the route middleware of every endpoint
// registered with this service.
//
// The name of the service is just used for error messages.
func PreregisterService(name string, funcs ...interface{}) *Service {
	return &Service{
		Name:       name,
		Collection: nject.Sequence(name, funcs...),
	}
}

// RegisterServiceWithMux creates a service that binds each endpoint to
// router as soon as it is registered.
func RegisterServiceWithMux(name string, router *mux.Router, funcs ...interface{}) *Service {
	s := PreregisterService(name, funcs...)
	s.router = router
	return s
}

// Register returns a Registrar for method and strategy.  Endpoint
// handler chains are bound during registration; a chain that does not
// bind panics.
func (s *Service) Register(method string, strategy fvelope.Strategy) Registrar {
	return func(path string, logic BusinessLogic, mw ...fvelope.Middleware) *Endpoint {
		if logic == nil {
			panic(fmt.Sprintf("%s %s %s: nil business logic", s.Name, method, path))
		}
		e := &Endpoint{
			Method:     method,
			Path:       path,
			Strategy:   strategy,
			Middleware: mw,
		}
		err := nject.Sequence(e.Name(),
			s.Collection,
			chain(strategy, logic, mw),
		).Bind(&e.handler, &e.initialize)
		if err != nil {
			panic(fmt.Sprintf("Cannot bind %s %s: %s", s.Name, e.Name(), nject.DetailedError(err)))
		}

		s.lock.Lock()
		defer s.lock.Unlock()
		if s.frozen {
			panic(fmt.Sprintf("%s: cannot register %s after the service started", s.Name, e.Name()))
		}
		s.endpoints = append(s.endpoints, e)
		if s.router != nil {
			e.start(s.router)
		}
		return e
	}
}

// Start binds every pre-registered endpoint to router, in registration
// order, and freezes the service.  Start may only be called once.
func (s *Service) Start(router *mux.Router) *Service {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.frozen {
		panic("duplicate call to Start()")
	}
	if s.router == nil {
		for _, e := range s.endpoints {
			e.start(router)
		}
		s.router = router
	}
	s.frozen = true
	return s
}

// Freeze stops any further registrations.  Start calls it.
func (s *Service) Freeze() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.frozen = true
}

// Started reports whether the service is frozen.
func (s *Service) Started() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.frozen
}

// Endpoints returns the registered endpoints in registration order.
func (s *Service) Endpoints() []*Endpoint {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*Endpoint(nil), s.endpoints...)
}

func (e *Endpoint) start(router *mux.Router) {
	e.initialize()
	methods := []string{e.Method}
	if e.Method == http.MethodGet {
		methods = append(methods, http.MethodHead)
	}
	e.route = router.HandleFunc(MuxPath(e.Path), e.handler).Methods(methods...).Name(e.Name())
}

// Name is the method and path, as registered.
func (e *Endpoint) Name() string {
	return e.Method + " " + e.Path
}

// Route returns the gorilla mux route once the endpoint is bound, and
// nil before.
func (e *Endpoint) Route() *mux.Route {
	return e.route
}

// ServeHTTP runs the endpoint's handler chain directly.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.handler(w, r)
}

// CreateHandler builds an endpoint handler without a service or router.
// Path variables are only available when something upstream calls
// mux.SetURLVars or routes with gorilla mux.
func CreateHandler(strategy fvelope.Strategy, logic BusinessLogic, mw ...fvelope.Middleware) http.HandlerFunc {
	if logic == nil {
		panic("at least business logic must be provided")
	}
	var httpHandler http.HandlerFunc
	var initFunc func()
	err := chain(strategy, logic, mw).Bind(&httpHandler, &initFunc)
	if err != nil {
		panic(fmt.Sprintf("Cannot create HandlerFunc binding %s", nject.DetailedError(err)))
	}
	initFunc()
	return httpHandler
}

func chain(strategy fvelope.Strategy, logic BusinessLogic, mw []fvelope.Middleware) *nject.Collection {
	return nject.Sequence("endpoint",
		fvelope.InjectMiddleware(mw...),
		fvelope.InjectLogger,
		fvelope.NormalizeRequest,
		fvelope.MakeResponder(strategy),
		fvelope.Invoke(logic),
	)
}
