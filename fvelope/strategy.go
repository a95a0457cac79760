package fvelope

import (
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Strategy picks how a successful business result is turned into a
// response.
type Strategy int

const (
	// JSON sends any JSON-encodable result with status 200.
	JSON Strategy = iota
	// HTML sends a string-like result as text/html with status 200.
	HTML
	// Download sends the file named by a DownloadResult as an attachment.
	Download
	// Redirect sends a 302 to the URL of a RedirectResult.
	Redirect
)

func (s Strategy) String() string {
	switch s {
	case JSON:
		return "JSON"
	case HTML:
		return "HTML"
	case Download:
		return "DOWNLOAD"
	case Redirect:
		return "REDIRECT"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// DownloadResult is what business logic behind a Download endpoint
// returns.  URL is a local file path.  The attachment is named after
// FileName, or URL when FileName is empty.  Done, if set, is called once
// the transfer finished or failed.  Failures are also reported as
// unhandled errors.
type DownloadResult struct {
	URL      string
	FileName string
	Done     func(error)
}

// RedirectResult is what business logic behind a Redirect endpoint
// returns.
type RedirectResult struct {
	URL string
}

// unshapeable marks failures that happened before anything was written,
// so the caller can still send the error response.
type unshapeable struct {
	err error
}

func (u unshapeable) Error() string { return u.err.Error() }
func (u unshapeable) Cause() error  { return u.err }
func (u unshapeable) Unwrap() error { return u.err }

func notWritten(err error) error {
	return unshapeable{err: err}
}

// IsUnwritten reports whether err came from Emit before any part of the
// response was written.
func IsUnwritten(err error) bool {
	var u unshapeable
	return errors.As(err, &u)
}

// Emit writes result according to the strategy.  When the result does not
// fit the strategy, nothing is written and the returned error satisfies
// IsUnwritten.  Other errors happened after the response was started.
func (s Strategy) Emit(w http.ResponseWriter, r *http.Request, result interface{}) error {
	switch s {
	case JSON:
		return sendJSON(w, result)
	case HTML:
		return sendHTML(w, result)
	case Download:
		return sendDownload(w, r, result)
	case Redirect:
		return sendRedirect(w, r, result)
	default:
		return notWritten(errors.Errorf("unknown response strategy %s", s))
	}
}

func sendJSON(w http.ResponseWriter, result interface{}) error {
	enc, err := marshalJSON(result)
	if err != nil {
		return notWritten(errors.Wrapf(err, "cannot marshal %T", result))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(enc)
	return errors.Wrap(err, "write JSON response")
}

func sendHTML(w http.ResponseWriter, result interface{}) error {
	var body string
	switch t := result.(type) {
	case string:
		body = t
	case template.HTML:
		body = string(t)
	case []byte:
		body = string(t)
	case fmt.Stringer:
		body = t.String()
	default:
		return notWritten(errors.Errorf("HTML endpoint needs a string result, not %T", result))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte(body))
	return errors.Wrap(err, "write HTML response")
}

func sendDownload(w http.ResponseWriter, r *http.Request, result interface{}) error {
	var d DownloadResult
	switch t := result.(type) {
	case DownloadResult:
		d = t
	case *DownloadResult:
		if t == nil {
			return notWritten(errors.New("download endpoint returned a nil *DownloadResult"))
		}
		d = *t
	default:
		return notWritten(errors.Errorf("download endpoint needs a DownloadResult, not %T", result))
	}
	done := func(err error) {
		if err != nil {
			ReportUnhandled(r.Context(), err)
		}
		if d.Done != nil {
			d.Done(err)
		}
	}
	if d.URL == "" {
		err := errors.New("download result has no URL")
		done(err)
		return notWritten(err)
	}
	name := d.FileName
	if name == "" {
		name = d.URL
	}
	f, err := os.Open(d.URL)
	if err != nil {
		err = errors.Wrapf(err, "open download %s", d.URL)
		done(err)
		if os.IsNotExist(errors.Cause(err)) {
			http.NotFound(w, r)
			return nil
		}
		return notWritten(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		err = errors.Errorf("download %s is a directory", d.URL)
		done(err)
		http.NotFound(w, r)
		return nil
	}
	if err != nil {
		err = errors.Wrapf(err, "stat download %s", d.URL)
		done(err)
		return notWritten(err)
	}
	base := filepath.Base(name)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": base}))
	http.ServeContent(w, r, base, info.ModTime(), f)
	if err := r.Context().Err(); err != nil {
		done(errors.Wrapf(err, "download %s aborted", d.URL))
		return nil
	}
	done(nil)
	return nil
}

func sendRedirect(w http.ResponseWriter, r *http.Request, result interface{}) error {
	var to string
	switch t := result.(type) {
	case RedirectResult:
		to = t.URL
	case *RedirectResult:
		if t != nil {
			to = t.URL
		}
	default:
		return notWritten(errors.Errorf("redirect endpoint needs a RedirectResult, not %T", result))
	}
	if to == "" {
		return notWritten(errors.New("redirect result has no URL"))
	}
	http.Redirect(w, r, to, http.StatusFound)
	return nil
}
