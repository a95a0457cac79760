package fvelope

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

// PanicError is what a recovered panic in business logic becomes.  On the
// wire it is the panic message, so clients get the same 500 envelope as for
// any other rejection.
type PanicError struct {
	Value interface{}
	Stack string
}

func (err PanicError) Error() string {
	return "panic: " + fmt.Sprint(err.Value)
}

// MarshalJSON encodes only the message.  The stack stays in the logs.
func (err PanicError) MarshalJSON() ([]byte, error) {
	return json.Marshal(err.Error())
}

// RecoverInto must be deferred.  It turns a panic into a PanicError
// stored in *ep and logs the stack.
func RecoverInto(ep *error, log BasicLogger) {
	r := recover()
	if r == nil {
		return
	}
	pe := PanicError{
		Value: r,
		Stack: string(debug.Stack()),
	}
	*ep = errors.WithStack(pe)
	log.Error("business logic panic", map[string]interface{}{
		"panic": fmt.Sprint(r),
		"stack": pe.Stack,
	})
}

// RecoverStack returns the stack captured by RecoverInto, or "" when err
// did not come from a panic.
func RecoverStack(err error) string {
	var pe PanicError
	if errors.As(err, &pe) {
		return pe.Stack
	}
	return ""
}
