package fvelope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/muir/nject"
	"github.com/pkg/errors"
)

// ErrorIDHeader carries the id that the error response and the matching
// log line share.
const ErrorIDHeader = "X-Error-Id"

// Result is what business logic hands back for a strategy to send.
type Result interface{}

// InjectLogger provides a BasicLogger taken from the request context.
var InjectLogger = nject.Provide("logger", func(r *http.Request) BasicLogger {
	return LoggerFromContext(r.Context())
})

// MakeResponder generates an nject wrapper that runs the rest of the
// handler chain and sends what it returns.  A nil error means the
// Result is sent with the strategy.  Any error, including one that comes
// up while shaping the result, becomes a 500 with a JSON body; see
// WriteRejection.
func MakeResponder(strategy Strategy) nject.Provider {
	return nject.Provide("respond-"+strategy.String(),
		func(
			inner func() (Result, error),
			w http.ResponseWriter,
			r *http.Request,
			log BasicLogger,
		) {
			model, err := inner()
			if err != nil {
				WriteRejection(w, r, log, err)
				return
			}
			err = strategy.Emit(w, r, model)
			switch {
			case err == nil:
			case IsUnwritten(err):
				WriteRejection(w, r, log, err)
			default:
				ReportUnhandled(r.Context(), errors.Wrapf(err, "%s %s", r.Method, r.URL))
			}
		})
}

// Invoke generates the final function of a handler chain: it calls
// logic with the request context and the normalized Input.  A panic
// in logic comes back as a PanicError.
func Invoke(logic func(context.Context, Input) (interface{}, error)) nject.Provider {
	return nject.Provide("business-logic",
		func(r *http.Request, in Input, log BasicLogger) (model Result, err error) {
			defer RecoverInto(&err, log)
			return logic(r.Context(), in)
		})
}

// WriteRejection sends the uniform error response: status 500, an
// X-Error-Id header, and a JSON body made from RejectionValue(err).
func WriteRejection(w http.ResponseWriter, r *http.Request, log BasicLogger, err error) {
	id := uuid.NewString()
	enc, mErr := marshalJSON(RejectionValue(err))
	if mErr != nil {
		enc, _ = marshalJSON(err.Error())
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set(ErrorIDHeader, id)
	w.WriteHeader(http.StatusInternalServerError)
	_, wErr := w.Write(enc)
	fields := map[string]interface{}{
		"error":    fmt.Sprintf("%+v", err),
		"errorId":  id,
		"method":   r.Method,
		"uri":      r.URL.String(),
		"writeErr": wErr,
	}
	if mErr != nil {
		fields["marshalErr"] = mErr.Error()
	}
	log.Error("Request rejected", fields)
}

// marshalJSON is json.Marshal without the escaping of <, > and &.
func marshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
