package fserve

import (
	"context"
	"sync"

	cerrors "cloudeng.io/errors"
	"github.com/muir/nject"
)

// App runs lifecycle callbacks for the pieces a server is made of: the
// bundler, the supervisor, and anything a caller adds.  Callbacks are
// nject chains and may ask for the *App and the app's context.Context.
// A callback that returns an error fails its hook.
type App struct {
	Name    string
	ctx     context.Context
	lock    sync.Mutex // held when adding hooks
	runLock sync.Mutex // held when running hooks
	hooks   map[hookID][]nject.Provider
}

// NewApp creates an App and runs providers once with nject.Run.  This
// is where components register their hooks.  The app's context is
// cancelled by the Shutdown hook.
func NewApp(ctx context.Context, name string, providers ...interface{}) (*App, error) {
	ctx, cancel := context.WithCancel(ctx)
	app := &App{
		Name:  name,
		ctx:   ctx,
		hooks: make(map[hookID][]nject.Provider),
	}
	app.On(Shutdown, func() { cancel() })
	if len(providers) == 0 {
		return app, nil
	}
	err := nject.Run(name, app.injectors(), nject.Sequence("app-providers", providers...))
	return app, err
}

func (app *App) injectors() *nject.Collection {
	return nject.Sequence("app",
		func() *App { return app },
		func() context.Context { return app.ctx },
	)
}

// Context is cancelled once Shutdown has run.
func (app *App) Context() context.Context {
	return app.ctx
}

// On registers a callback for h.  Callbacks may register further
// callbacks, for example a Start callback registering its Stop.
func (app *App) On(h *Hook, providers ...interface{}) {
	app.lock.Lock()
	defer app.lock.Unlock()
	app.hooks[h.id] = append(app.hooks[h.id], nject.Sequence("on-"+h.Name, providers...))
}

// Do runs the callbacks for h and, when any failed, the hooks that h
// names for errors.  All errors are returned together.
func (app *App) Do(h *Hook) error {
	app.runLock.Lock()
	defer app.runLock.Unlock()
	return app.do(h)
}

// Close runs Stop and then, unless a Stop failure already did so,
// Shutdown.
func (app *App) Close() error {
	app.runLock.Lock()
	defer app.runLock.Unlock()
	if err := app.do(Stop); err != nil {
		return err
	}
	return app.do(Shutdown)
}

func (app *App) do(h *Hook) error {
	order, continuePast, onError := h.settings()
	app.lock.Lock()
	chains := append([]nject.Provider(nil), app.hooks[h.id]...)
	app.lock.Unlock()

	errs := &cerrors.M{}
	failed := false
	run := func(chain nject.Provider) bool {
		if err := nject.Run("hook-"+h.Name, app.injectors(), chain); err != nil {
			errs.Append(err)
			failed = true
			return continuePast
		}
		return true
	}
	if order == ForwardOrder {
		for _, chain := range chains {
			if !run(chain) {
				break
			}
		}
	} else {
		for i := len(chains) - 1; i >= 0; i-- {
			if !run(chains[i]) {
				break
			}
		}
	}
	if failed {
		for _, oe := range onError {
			errs.Append(app.do(oe))
		}
	}
	return errs.Err()
}
