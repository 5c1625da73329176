package validation

import (
	"context"
	"net/url"
	"strconv"

	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/storage"
)

// RedirectURIValidator decides whether a redirect URI may be used by a client
type RedirectURIValidator interface {
	IsRedirectURIValid(ctx context.Context, redirectURI string, client *storage.Client) bool
}

// StrictRedirectURIValidator accepts only exact matches of registered URIs.
//
// With AllowLoopbackDynamicPort set, a native app that registered a loopback
// URI without a port may use any port on it (RFC 8252 section 7.3):
// "http://127.0.0.1/callback" admits "http://127.0.0.1:51734/callback", and
// a bare "http://127.0.0.1" admits any path.
type StrictRedirectURIValidator struct {
	AllowLoopbackDynamicPort bool
}

// IsRedirectURIValid implements RedirectURIValidator
func (v *StrictRedirectURIValidator) IsRedirectURIValid(_ context.Context, redirectURI string, client *storage.Client) bool {
	if client.AllowsRedirectURI(redirectURI) {
		return true
	}
	if !v.AllowLoopbackDynamicPort {
		return false
	}

	requested, err := url.Parse(redirectURI)
	if err != nil || !isLoopbackWithPort(requested) {
		return false
	}

	for _, registered := range client.RedirectURIs {
		r, err := url.Parse(registered)
		if err != nil || r.Scheme != "http" || r.Port() != "" || !util.IsLoopbackIP(r.Hostname()) {
			continue
		}
		if r.Hostname() != requested.Hostname() {
			continue
		}
		if r.Path == "" || r.Path == "/" {
			if r.RawQuery == "" {
				return true
			}
			continue
		}
		if r.Path == requested.Path && r.RawQuery == requested.RawQuery {
			return true
		}
	}
	return false
}

func isLoopbackWithPort(u *url.URL) bool {
	if u.Scheme != "http" || u.Fragment != "" || u.User != nil {
		return false
	}
	if !util.IsLoopbackIP(u.Hostname()) {
		return false
	}
	port, err := strconv.Atoi(u.Port())
	return err == nil && port >= 0 && port <= 65535
}

// isWellFormedRedirectURI reports whether uri is absolute and has no fragment (RFC 6749 section 3.1.2)
func isWellFormedRedirectURI(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Fragment == "" && (u.Host != "" || u.Opaque != "" || u.Path != "")
}
