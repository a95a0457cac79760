package fserve

import (
	"sync"
	"sync/atomic"
)

var hookCounter int32

// Order is the order in which a hook's callbacks run.
type Order string

const (
	ForwardOrder Order = "forward"
	ReverseOrder Order = "reverse"
)

type hookID int32

// Hook names a list of callbacks that an App runs together.
type Hook struct {
	id            hookID
	lock          sync.Mutex
	Name          string
	Order         Order
	InvokeOnError []*Hook
	ContinuePast  bool
}

// NewHook creates a new category of callbacks.
func NewHook(name string, order Order) *Hook {
	return &Hook{
		id:    hookID(atomic.AddInt32(&hookCounter, 1)),
		Name:  name,
		Order: order,
	}
}

// OnError adds a hook to run after this one when any of this hook's
// callbacks failed.
func (h *Hook) OnError(e *Hook) *Hook {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.InvokeOnError = append(h.InvokeOnError, e)
	return h
}

// ContinuePastError sets whether the remaining callbacks run after one
// has failed.
func (h *Hook) ContinuePastError(b bool) *Hook {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.ContinuePast = b
	return h
}

func (h *Hook) settings() (Order, bool, []*Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.Order, h.ContinuePast, append([]*Hook(nil), h.InvokeOnError...)
}

func (h *Hook) String() string {
	return "hook " + h.Name
}

// The server's lifecycle.  Start callbacks run when the server starts
// serving; a failure runs Stop.  Stop callbacks run when the server has
// stopped serving, newest first, all of them even past failures, and are
// followed by Shutdown when any failed.
var (
	Shutdown = NewHook("shutdown", ReverseOrder)
	Stop     = NewHook("stop", ReverseOrder).OnError(Shutdown).ContinuePastError(true)
	Start    = NewHook("start", ForwardOrder).OnError(Stop)
)
