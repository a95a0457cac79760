package fserve

import (
	"net/http"
	"net/url"

	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/webapp/jsonapi"
	"github.com/gorilla/csrf"
	"github.com/jsfix-ci/fenris/fvelope"
	"github.com/pkg/errors"
)

// CSRFTokenHeader carries the token on every response when token based
// CSRF protection is on.  Unsafe requests send it back in the same
// header.
const CSRFTokenHeader = "X-CSRF-Token"

// CSRFTokenLocal is the request local that holds the token, so business
// logic and the renderer can embed it.
const CSRFTokenLocal = "csrfToken"

func (s *Server) csrf() (fvelope.Middleware, error) {
	switch {
	case s.cfg.DisableCSRF:
		return fvelope.PassThrough, nil
	case s.cfg.CSRF != nil:
		return s.cfg.CSRF, nil
	case s.cfg.CSRFKey != "":
		return tokenCSRF(s.cfg)
	}
	cop := http.NewCrossOriginProtection()
	for _, origin := range s.cfg.TrustedOrigins {
		if err := cop.AddTrustedOrigin(origin); err != nil {
			return nil, errors.Wrapf(err, "trusted origin %q", origin)
		}
	}
	return cop.Handler, nil
}

func tokenCSRF(cfg Config) (fvelope.Middleware, error) {
	if len(cfg.CSRFKey) != 32 {
		return nil, errors.New("csrfKey must be 32 bytes long")
	}
	hosts := make([]string, 0, len(cfg.TrustedOrigins))
	for _, origin := range cfg.TrustedOrigins {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, errors.Wrapf(err, "trusted origin %q", origin)
		}
		if u.Host != "" {
			hosts = append(hosts, u.Host)
		} else {
			hosts = append(hosts, origin)
		}
	}
	protect := csrf.Protect([]byte(cfg.CSRFKey),
		csrf.Secure(cfg.Production),
		csrf.Path("/"),
		csrf.CookieName("csrf_token"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.RequestHeader(CSRFTokenHeader),
		csrf.TrustedOrigins(hosts),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxlog.Logger(r.Context()).Warn("CSRF validation failed",
				"method", r.Method,
				"uri", r.URL.RequestURI(),
				"reason", csrf.FailureReason(r).Error(),
			)
			jsonapi.WriteErrorMsg(w, "CSRF token invalid or missing", http.StatusForbidden)
		})),
	)
	return func(next http.Handler) http.Handler {
		h := protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := csrf.Token(r)
			w.Header().Set(CSRFTokenHeader, token)
			next.ServeHTTP(w, fvelope.SetLocal(r, CSRFTokenLocal, token))
		}))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
				r = csrf.PlaintextHTTPRequest(r)
			}
			h.ServeHTTP(w, r)
		})
	}, nil
}
