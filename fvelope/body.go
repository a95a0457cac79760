package fvelope

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"cloudeng.io/webapp/jsonapi"
	"github.com/pkg/errors"
)

// DefaultBodyLimit is the largest JSON body ParseJSONBody accepts when no
// limit is given.
const DefaultBodyLimit = 1 << 20

type bodyKey struct{}

// BodyFromContext returns the decoded JSON object that ParseJSONBody
// stored, or nil when the request had none.
func BodyFromContext(ctx context.Context) map[string]interface{} {
	b, _ := ctx.Value(bodyKey{}).(map[string]interface{})
	return b
}

// WithBody stores a decoded body in ctx.
func WithBody(ctx context.Context, body map[string]interface{}) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}

// ParseJSONBody is cross-cutting middleware that decodes JSON request
// bodies up front.  Only application/json bodies are read.  Objects are
// made available to Normalize; other JSON values are accepted but
// contribute nothing to the Input.  The raw bytes are put back so that
// later handlers can read the body again.  limit <= 0 means
// DefaultBodyLimit.
func ParseJSONBody(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody || !isJSON(r.Header.Get("Content-Type")) {
				next.ServeHTTP(w, r)
				return
			}
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			_ = r.Body.Close()
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeBodyError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeBodyError(w, http.StatusBadRequest, "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))
			if len(bytes.TrimSpace(raw)) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			var decoded interface{}
			if err := json.Unmarshal(raw, &decoded); err != nil {
				writeBodyError(w, http.StatusBadRequest, "malformed JSON body")
				LoggerFromContext(r.Context()).Debug("rejected request body", map[string]interface{}{
					"error":  err.Error(),
					"method": r.Method,
					"uri":    r.URL.String(),
				})
				return
			}
			if obj, ok := decoded.(map[string]interface{}); ok {
				r = r.WithContext(WithBody(r.Context(), obj))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (len(mt) > 5 && mt[len(mt)-5:] == "+json")
}

func writeBodyError(w http.ResponseWriter, status int, msg string) {
	jsonapi.WriteErrorMsg(w, msg, status)
}
