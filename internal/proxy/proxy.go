// Package proxy forwards every HTTP request to a fixed upstream, the way the
// tunnel front of the gateway is deployed.
package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/vuuvv/errors"
	"go.uber.org/zap"
)

// New returns a handler that relays method, path, query, headers and body to
// target and streams the upstream response back unchanged.
func New(target string, lg *zap.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrapf(err, "proxy: invalid target %q", target)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("proxy: target %q needs scheme and host", target)
	}

	lg = lg.With(zap.String("component", "proxy"), zap.String("target", u.String()))
	rp := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(u)
			r.Out.Host = u.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			lg.Error("upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return rp, nil
}
