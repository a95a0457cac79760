// Package frender renders the HTML document that the catch-all route
// sends for any GET that no endpoint or static file claimed.
package frender

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"strings"
	"sync"

	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/pkg/errors"
)

// Keys understood in Options.Extra by Document.
const (
	ExtraBaseCSS     = "baseCss"
	ExtraTitle       = "title"
	ExtraCachePerURL = "cachePerUrl"
)

// Component produces the markup that goes inside the document's root
// element.
type Component interface {
	Render(ctx context.Context, r *http.Request) (template.HTML, error)
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func(ctx context.Context, r *http.Request) (template.HTML, error)

func (f ComponentFunc) Render(ctx context.Context, r *http.Request) (template.HTML, error) {
	return f(ctx, r)
}

// Static is a Component that always renders the same markup.
type Static template.HTML

func (s Static) Render(context.Context, *http.Request) (template.HTML, error) {
	return template.HTML(s), nil
}

// Options is what the sequencer hands to a Renderer.
type Options struct {
	Component Component
	// Bundle is the client bundle file name, served from the site root.
	Bundle string
	Extra  map[string]interface{}
}

// Renderer builds the catch-all handler.
type Renderer func(Options) http.Handler

var document = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
{{- with .Title}}
<title>{{.}}</title>
{{- end}}
{{- with .BaseCSS}}
<style>{{.}}</style>
{{- end}}
</head>
<body>
<div id="root">{{.Markup}}</div>
{{- with .Bundle}}
<script src="{{.}}"></script>
{{- end}}
</body>
</html>
`))

type page struct {
	Title   string
	BaseCSS template.CSS
	Markup  template.HTML
	Bundle  string
}

// Document is the default Renderer: a full HTML5 document with the
// component's markup inside <div id="root"> and a script tag for the
// bundle.  With cachePerUrl set in Extra, each URL is rendered once.
func Document(opts Options) http.Handler {
	d := &documentHandler{
		opts:  opts,
		title: stringExtra(opts.Extra, ExtraTitle),
		css:   template.CSS(stringExtra(opts.Extra, ExtraBaseCSS)),
	}
	if b, _ := opts.Extra[ExtraCachePerURL].(bool); b {
		d.cache = make(map[string][]byte)
	}
	if opts.Bundle != "" {
		d.bundle = "/" + strings.TrimPrefix(opts.Bundle, "/")
	}
	return d
}

type documentHandler struct {
	opts   Options
	title  string
	css    template.CSS
	bundle string
	lock   sync.Mutex
	cache  map[string][]byte
}

func (d *documentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()
	if d.cache != nil {
		d.lock.Lock()
		b, ok := d.cache[key]
		d.lock.Unlock()
		if ok {
			writeDocument(w, b)
			return
		}
	}
	b, err := d.render(r)
	if err != nil {
		fvelope.LoggerFromContext(r.Context()).Error("render failed", map[string]interface{}{
			"error": err.Error(),
			"uri":   r.URL.String(),
		})
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	if d.cache != nil {
		d.lock.Lock()
		d.cache[key] = b
		d.lock.Unlock()
	}
	writeDocument(w, b)
}

func (d *documentHandler) render(r *http.Request) ([]byte, error) {
	p := page{
		Title:   d.title,
		BaseCSS: d.css,
		Bundle:  d.bundle,
	}
	if d.opts.Component != nil {
		markup, err := d.opts.Component.Render(r.Context(), r)
		if err != nil {
			return nil, errors.Wrap(err, "component")
		}
		p.Markup = markup
	}
	var buf bytes.Buffer
	if err := document.Execute(&buf, p); err != nil {
		return nil, errors.Wrap(err, "document template")
	}
	return buf.Bytes(), nil
}

func writeDocument(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func stringExtra(extra map[string]interface{}, key string) string {
	s, _ := extra[key].(string)
	return s
}
