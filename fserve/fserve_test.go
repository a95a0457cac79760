package fserve_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jsfix-ci/fenris/fbundle"
	"github.com/jsfix-ci/fenris/fpoint"
	"github.com/jsfix-ci/fenris/frender"
	"github.com/jsfix-ci/fenris/fserve"
	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var client = &http.Client{
	Transport: &http.Transport{DisableKeepAlives: true},
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func get(t *testing.T, url string) (*http.Response, string) {
	return send(t, "GET", url, "", nil)
}

func send(t *testing.T, method, url, body string, header map[string]string) (*http.Response, string) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(b)
}

func widgets() *fpoint.Service {
	svc := fpoint.PreregisterService("widgets")
	svc.Register("GET", fvelope.JSON)("/widgets/:id", func(_ context.Context, in fvelope.Input) (interface{}, error) {
		if in["id"] == "0" {
			return nil, fvelope.Reject(map[string]string{"error": "no such widget"})
		}
		return map[string]interface{}{"id": in["id"]}, nil
	})
	svc.Register("POST", fvelope.JSON)("/widgets", func(_ context.Context, in fvelope.Input) (interface{}, error) {
		return map[string]interface{}{"created": in["name"]}, nil
	})
	return svc
}

func serve(t *testing.T, srv *fserve.Server) *httptest.Server {
	h, err := srv.Handler(context.Background())
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.App().Close()
	})
	return ts
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte("console.log('built')"), 0o600))
	log, buf := testLogger()

	srv := fserve.New(fserve.Config{
		Production:  true,
		OutputDir:   dir,
		OutputFile:  "main.js",
		Component:   frender.Static("<p>shop</p>"),
		RenderExtra: map[string]interface{}{frender.ExtraTitle: "Shop"},
		Logger:      log,
	}, widgets())
	ts := serve(t, srv)

	res, body := get(t, ts.URL+"/widgets/7")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"id":"7"}`, body)

	res, body = get(t, ts.URL+"/widgets/0")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.JSONEq(t, `{"error":"no such widget"}`, body)

	res, body = send(t, "POST", ts.URL+"/widgets", `{"name":"gear"}`, map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"created":"gear"}`, body)

	res, body = send(t, "POST", ts.URL+"/widgets", `{"name":`, map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.JSONEq(t, `{"message":"malformed JSON body"}`, body)

	res, body = get(t, ts.URL+"/main.js")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "console.log('built')", body)

	for _, path := range []string{"/", "/account/orders", "/main.js/nope"} {
		res, body = get(t, ts.URL+path)
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
		assert.Contains(t, res.Header.Get("Content-Type"), "text/html", path)
		assert.Contains(t, body, `<div id="root"><p>shop</p></div>`, path)
		assert.Contains(t, body, `<script src="/main.js"></script>`, path)
		assert.Contains(t, body, `<title>Shop</title>`, path)
	}

	res, _ = send(t, "DELETE", ts.URL+"/account", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode, "catch-all only renders GET and HEAD")

	assert.Contains(t, buf.String(), `"uri":"/widgets/7"`)
	assert.Contains(t, buf.String(), `"requestId":`)
}

func TestPipelineCrossOrigin(t *testing.T) {
	log, _ := testLogger()
	srv := fserve.New(fserve.Config{
		Production:     true,
		Logger:         log,
		TrustedOrigins: []string{"https://admin.example.com"},
	}, widgets())
	ts := serve(t, srv)

	res, _ := send(t, "POST", ts.URL+"/widgets", `{"name":"gear"}`, map[string]string{
		"Content-Type":   "application/json",
		"Sec-Fetch-Site": "cross-site",
	})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = send(t, "POST", ts.URL+"/widgets", `{"name":"gear"}`, map[string]string{
		"Content-Type": "application/json",
		"Origin":       "https://admin.example.com",
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestPipelineDisableCSRF(t *testing.T) {
	log, _ := testLogger()
	srv := fserve.New(fserve.Config{Production: true, Logger: log, DisableCSRF: true}, widgets())
	ts := serve(t, srv)
	res, _ := send(t, "POST", ts.URL+"/widgets", `{"name":"gear"}`, map[string]string{
		"Content-Type":   "application/json",
		"Sec-Fetch-Site": "cross-site",
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestAttachedMiddleware(t *testing.T) {
	log, buf := testLogger()
	n := newNotifications()
	srv := fserve.New(fserve.Config{Production: true, Logger: log, Notify: n.notify}, widgets())
	var lock sync.Mutex
	var order []string
	record := func(s string) {
		lock.Lock()
		defer lock.Unlock()
		order = append(order, s)
	}
	srv.Attach(
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				record("first")
				next.ServeHTTP(w, fvelope.SetLocal(r, "tenant", "acme"))
			})
		},
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				record("second")
				if r.URL.Path == "/explode" {
					panic("middleware blew up")
				}
				next.ServeHTTP(w, r)
			})
		},
	)
	ts := serve(t, srv)

	_, _ = get(t, ts.URL+"/widgets/1")
	lock.Lock()
	assert.Equal(t, []string{"first", "second"}, order)
	lock.Unlock()

	res, body := get(t, ts.URL+"/explode")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.JSONEq(t, `"panic: middleware blew up"`, body)
	assert.NotEmpty(t, res.Header.Get(fvelope.ErrorIDHeader))
	errs := n.wait(t, 1)
	assert.Equal(t, "panic: middleware blew up", errs[0].Error())
	assert.Contains(t, buf.String(), `"msg":"unhandled error"`)

	assert.Panics(t, func() { srv.Attach(fvelope.PassThrough) })
}

func TestMissingBundlerConfig(t *testing.T) {
	log, _ := testLogger()
	svc := widgets()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	srv := fserve.New(fserve.Config{Logger: log, Listener: ln}, svc)
	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fserve.ErrMissingBundlerConfig))
	assert.False(t, svc.Started(), "nothing was bound")
	assert.Nil(t, srv.Addr())
}

func TestStartedOnce(t *testing.T) {
	log, _ := testLogger()
	srv := fserve.New(fserve.Config{Production: true, Logger: log}, nil)
	_ = serve(t, srv)
	_, err := srv.Handler(context.Background())
	assert.Equal(t, fserve.ErrAlreadyStarted, err)
	assert.Equal(t, fserve.ErrAlreadyStarted, srv.Start(context.Background()))
}

func TestServiceAlreadyStarted(t *testing.T) {
	log, _ := testLogger()
	svc := widgets()
	fserve.New(fserve.Config{Production: true, Logger: log}, svc).Handler(context.Background()) //nolint:errcheck
	_, err := fserve.New(fserve.Config{Production: true, Logger: log}, svc).Handler(context.Background())
	assert.Error(t, err)
}

func TestStartServes(t *testing.T) {
	log, _ := testLogger()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := fserve.New(fserve.Config{
		Production:    true,
		Logger:        log,
		Listener:      ln,
		Component:     frender.Static("hello"),
		ShutdownGrace: time.Second,
	}, widgets())
	stopped := false
	srv.App().On(fserve.Stop, func() { stopped = true })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("start returned early: %v", err)
	}
	url := "http://" + srv.Addr().String()
	res, body := get(t, url+"/widgets/3")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"id":"3"}`, body)
	_, body = get(t, url+"/")
	assert.Contains(t, body, `<div id="root">hello</div>`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, stopped)
}

func TestStartPortInUse(t *testing.T) {
	log, buf := testLogger()
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	srv := fserve.New(fserve.Config{Production: true, Logger: log, Host: "127.0.0.1", Port: port}, nil)
	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"msg":"listen failed"`)
}

func TestDevelopmentBundler(t *testing.T) {
	dev := http.NewServeMux()
	dev.HandleFunc("/static/main.js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = io.WriteString(w, "console.log('dev')")
	})
	upstream := httptest.NewServer(dev)
	defer upstream.Close()

	log, _ := testLogger()
	srv := fserve.New(fserve.Config{
		Logger:    log,
		Component: frender.Static("dev"),
		Bundler: &fbundle.Config{
			ServerURL: upstream.URL,
			Output:    fbundle.Output{PublicPath: "/static/", Filename: "static/main.js"},
		},
	}, widgets())
	ts := serve(t, srv)

	res, body := get(t, ts.URL+"/static/main.js")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "console.log('dev')", body)

	res, body = get(t, ts.URL+"/static/other.js")
	assert.Equal(t, http.StatusOK, res.StatusCode, "misses fall through to the catch-all")
	assert.Contains(t, body, `<script src="/static/main.js"></script>`)

	res, body = get(t, ts.URL+"/widgets/9")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"id":"9"}`, body)
}

func TestPipelineCSRFTokens(t *testing.T) {
	log, _ := testLogger()
	svc := widgets()
	svc.Register("GET", fvelope.JSON)("/token", func(_ context.Context, in fvelope.Input) (interface{}, error) {
		return in[fserve.CSRFTokenLocal], nil
	})
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	// Outside production the token cookie is not marked Secure, so it
	// travels over plain HTTP.
	srv := fserve.New(fserve.Config{
		Logger:  log,
		CSRFKey: strings.Repeat("k", 32),
		Bundler: &fbundle.Config{ServerURL: upstream.URL, Output: fbundle.Output{PublicPath: "/static/"}},
	}, svc)
	ts := serve(t, srv)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &http.Client{Jar: jar}

	// nolint:noctx
	res, err := c.Get(ts.URL + "/token")
	require.NoError(t, err)
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	token := res.Header.Get(fserve.CSRFTokenHeader)
	require.NotEmpty(t, token)
	assert.JSONEq(t, strconv.Quote(token), string(b), "token is also a request local")

	post := func(token string) int {
		req, err := http.NewRequest("POST", ts.URL+"/widgets", strings.NewReader(`{"name":"gear"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set(fserve.CSRFTokenHeader, token)
		}
		res, err := c.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		return res.StatusCode
	}
	assert.Equal(t, http.StatusForbidden, post(""))
	assert.Equal(t, http.StatusOK, post(token))
}

func TestCSRFKeyLength(t *testing.T) {
	log, _ := testLogger()
	_, err := fserve.New(fserve.Config{Production: true, Logger: log, CSRFKey: "short"}, nil).Handler(context.Background())
	assert.Error(t, err)
}

func TestDevelopmentServesBundlerOutput(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor.js"), []byte("console.log('on disk')"), 0o600))

	log, _ := testLogger()
	srv := fserve.New(fserve.Config{
		Logger:    log,
		Component: frender.Static("dev"),
		Bundler: &fbundle.Config{
			ServerURL: upstream.URL,
			Output:    fbundle.Output{Path: dir, PublicPath: "/", Filename: "main.js"},
		},
	}, nil)
	ts := serve(t, srv)

	res, body := get(t, ts.URL+"/vendor.js")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "console.log('on disk')", body, "dev server misses are served from the output path")

	res, body = get(t, ts.URL+"/cart")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `<div id="root">dev</div>`)
}

func TestHandlerRunsSupervisor(t *testing.T) {
	log, buf := testLogger()
	n := newNotifications()
	svc := fpoint.PreregisterService("files")
	svc.Register("GET", fvelope.Download)("/report", func(context.Context, fvelope.Input) (interface{}, error) {
		return fvelope.DownloadResult{URL: filepath.Join(t.TempDir(), "missing.csv")}, nil
	})
	srv := fserve.New(fserve.Config{Production: true, Logger: log, Notify: n.notify}, svc)
	ts := serve(t, srv)

	res, _ := get(t, ts.URL+"/report")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	errs := n.wait(t, 1)
	assert.Contains(t, errs[0].Error(), "missing.csv")
	assert.Contains(t, buf.String(), `"msg":"unhandled error"`)
}
