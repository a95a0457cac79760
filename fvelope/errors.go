package fvelope

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Reject wraps an arbitrary value as an error.  When business logic
// returns it, the value itself (not an error message) becomes the JSON
// body of the 500 response.
func Reject(value interface{}) error {
	return errors.WithStack(rejection{value: value})
}

type rejection struct {
	value interface{}
}

func (r rejection) Error() string {
	if err, ok := r.value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("rejected: %v", r.value)
}

// RejectionValue returns what an error looks like on the wire.
// Values given to Reject are returned unchanged.  Errors that know how to
// marshal themselves are returned as-is.  Everything else becomes
// its message.
func RejectionValue(err error) interface{} {
	if err == nil {
		return nil
	}
	var r rejection
	if errors.As(err, &r) {
		return r.value
	}
	var m json.Marshaler
	if errors.As(err, &m) {
		return m
	}
	return err.Error()
}

// Reporter receives errors that happen outside of anything that can
// still produce a response for a client.
type Reporter interface {
	Report(err error)
}

type reporterKey struct{}

// WithReporter returns a context that carries r.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

// ReportUnhandled hands err to the Reporter in ctx.  Without one, the
// error is logged through the context logger.
func ReportUnhandled(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if r, ok := ctx.Value(reporterKey{}).(Reporter); ok && r != nil {
		r.Report(err)
		return
	}
	LoggerFromContext(ctx).Error("unhandled error", map[string]interface{}{
		"error": fmt.Sprintf("%+v", err),
	})
}
