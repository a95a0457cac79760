package fvelope_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/muir/nject"
	"github.com/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logicFunc = func(context.Context, fvelope.Input) (interface{}, error)

func bind(t *testing.T, strategy fvelope.Strategy, logic logicFunc, mw ...fvelope.Middleware) http.HandlerFunc {
	var h http.HandlerFunc
	err := nject.Sequence(t.Name(),
		fvelope.InjectMiddleware(mw...),
		fvelope.InjectLogger,
		fvelope.NormalizeRequest,
		fvelope.MakeResponder(strategy),
		fvelope.Invoke(logic),
	).Bind(&h, nil)
	if err != nil {
		t.Fatal(nject.DetailedError(err))
	}
	return h
}

type coded struct {
	Code int `json:"code"`
}

func (c coded) Error() string { return fmt.Sprintf("code %d", c.Code) }
func (c coded) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{"failure": c.Code})
}

func TestRejectionShapes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "plain", err: errors.New("boom"), want: `"boom"`},
		{name: "wrapped", err: errors.Wrap(errors.New("boom"), "outer"), want: `"outer: boom"`},
		{name: "value", err: fvelope.Reject(map[string]string{"reason": "nope"}), want: `{"reason":"nope"}`},
		{name: "marshaler", err: errors.WithStack(coded{Code: 7}), want: `{"failure":7}`},
		{name: "markup", err: errors.New("<id> & <name> required"), want: `"<id> & <name> required"`},
	}
	for _, strategy := range []fvelope.Strategy{fvelope.JSON, fvelope.HTML, fvelope.Download, fvelope.Redirect} {
		for _, tc := range cases {
			strategy, tc := strategy, tc
			t.Run(strategy.String()+"/"+tc.name, func(t *testing.T) {
				h := bind(t, strategy, func(context.Context, fvelope.Input) (interface{}, error) {
					return nil, tc.err
				})
				w := httptest.NewRecorder()
				h(w, httptest.NewRequest("GET", "/", nil))
				assert.Equal(t, http.StatusInternalServerError, w.Code)
				assert.JSONEq(t, tc.want, w.Body.String())
				assert.NotContains(t, w.Body.String(), `\u003c`)
				assert.NotEmpty(t, w.Header().Get(fvelope.ErrorIDHeader))
			})
		}
	}
}

func TestPanicBecomesRejection(t *testing.T) {
	h := bind(t, fvelope.JSON, func(context.Context, fvelope.Input) (interface{}, error) {
		panic("oops")
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `"panic: oops"`, w.Body.String())
}

func TestStrategyMismatchIsRejected(t *testing.T) {
	h := bind(t, fvelope.HTML, func(context.Context, fvelope.Input) (interface{}, error) {
		return 37, nil
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "HTML endpoint needs a string result")
}

func TestRouteMiddlewareLocals(t *testing.T) {
	setUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, fvelope.SetLocal(r, "user", "u1"))
		})
	}
	h := bind(t, fvelope.JSON, func(_ context.Context, in fvelope.Input) (interface{}, error) {
		return map[string]interface{}{"user": in["user"]}, nil
	}, setUser)
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/?user=spoofed", nil))
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"user":"u1"}`, w.Body.String())
}

func TestRouteMiddlewareShortCircuit(t *testing.T) {
	var called bool
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	h := bind(t, fvelope.JSON, func(context.Context, fvelope.Input) (interface{}, error) {
		called = true
		return "x", nil
	}, deny)
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
}

func TestPassThroughIsNoMiddleware(t *testing.T) {
	logic := func(_ context.Context, in fvelope.Input) (interface{}, error) {
		if in.String("fail") != "" {
			return nil, fvelope.Reject(in.String("fail"))
		}
		return in, nil
	}
	for _, target := range []string{"/?a=1", "/?fail=yes"} {
		plain := httptest.NewRecorder()
		bind(t, fvelope.JSON, logic)(plain, httptest.NewRequest("GET", target, nil))
		passed := httptest.NewRecorder()
		bind(t, fvelope.JSON, logic, fvelope.PassThrough)(passed, httptest.NewRequest("GET", target, nil))
		assert.Equal(t, plain.Code, passed.Code, target)
		assert.Equal(t, plain.Body.String(), passed.Body.String(), target)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) fvelope.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := fvelope.Chain(mark("a"), nil, mark("b"), mark("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestRecoverStack(t *testing.T) {
	var err error
	func() {
		defer fvelope.RecoverInto(&err, fvelope.NoLogger())
		panic(errors.New("deep"))
	}()
	require.Error(t, err)
	assert.Equal(t, "panic: deep", err.Error())
	assert.Contains(t, fvelope.RecoverStack(err), "TestRecoverStack")
	assert.Empty(t, fvelope.RecoverStack(errors.New("x")))
}

type recordingReporter struct {
	errs []error
}

func (r *recordingReporter) Report(err error) { r.errs = append(r.errs, err) }

func TestReportUnhandled(t *testing.T) {
	rep := &recordingReporter{}
	ctx := fvelope.WithReporter(context.Background(), rep)
	fvelope.ReportUnhandled(ctx, nil)
	fvelope.ReportUnhandled(ctx, errors.New("lost"))
	require.Len(t, rep.errs, 1)
	assert.Equal(t, "lost", rep.errs[0].Error())

	// without a reporter it only logs
	fvelope.ReportUnhandled(context.Background(), errors.New("lost"))
}
