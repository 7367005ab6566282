// Package urlsplit splits agent and proxy URLs into the scheme/auth/netloc
// pieces the connection-cache key and Host/Authorization headers are built
// from, and resolves redirect Location headers against the current URL.
//
// It is a thin wrapper over net/url shaped to the split the agent actually
// needs, rather than a general-purpose URL type.
package urlsplit

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kitsuhttp/rawhttp/pkg/errors"
)

// Split is the decomposition of a URL into the fields the Agent needs:
// scheme, raw "user:pass" auth (if present in the URL), netloc (host[:port]),
// path+query, and fragment. Netloc carries the URL's authority verbatim —
// a default port is never synthesized into it, so it is usable as the Host
// header value as-is; Port is separately normalised to the scheme default
// for dialing when the URL omits it.
type Split struct {
	Scheme   string
	Auth     string // "user:pass", empty if absent
	Netloc   string // host[:port] exactly as written in the URL
	Host     string // host only
	Port     int
	Path     string // path + "?" + query, defaults to "/"
	Fragment string
}

// DefaultPort returns the default port for scheme, or 0 if scheme is unknown.
func DefaultPort(scheme string) int {
	switch scheme {
	case "http":
		return 80
	case "https":
		return 443
	default:
		return 0
	}
}

// Parse splits rawurl. A missing scheme defaults to "http". Only "http" and
// "https" are accepted schemes; anything else is a protocol error.
func Parse(rawurl string) (Split, error) {
	if i := strings.Index(rawurl, "://"); i <= 0 || strings.ContainsAny(rawurl[:i], "/?#") {
		// A bare "host[:port]/path": net/url would take a "host:" prefix as
		// the scheme (or reject a numeric one), so force host/path
		// interpretation with an explicit prefix.
		rawurl = "http://" + rawurl
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return Split{}, errors.NewValidationError(fmt.Sprintf("invalid URL %q: %v", rawurl, err))
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Split{}, errors.NewProtocolError(fmt.Sprintf("unsupported scheme %q", scheme), nil)
	}

	host := u.Hostname()
	if host == "" {
		return Split{}, errors.NewValidationError(fmt.Sprintf("URL %q has no host", rawurl))
	}

	port := DefaultPort(scheme)
	if p := u.Port(); p != "" {
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil || n < 1 || n > 65535 {
			return Split{}, errors.NewValidationError(fmt.Sprintf("invalid port %q in URL %q", p, rawurl))
		}
		port = n
	}

	var auth string
	if u.User != nil {
		if pass, ok := u.User.Password(); ok {
			auth = u.User.Username() + ":" + pass
		} else {
			auth = u.User.Username()
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return Split{
		Scheme:   scheme,
		Auth:     auth,
		Netloc:   u.Host,
		Host:     host,
		Port:     port,
		Path:     path,
		Fragment: u.Fragment,
	}, nil
}

// String reassembles s back into an absolute URL, without the Auth segment,
// so credentials are not echoed into Referer or into the URLs of later
// redirect hops.
func (s Split) String() string {
	out := s.Scheme + "://" + s.Netloc + s.Path
	if s.Fragment != "" {
		out += "#" + s.Fragment
	}
	return out
}

// Resolve interprets location as either absolute or relative to base and
// returns the resulting Split, following net/url's relative-resolution
// rules (used to turn a redirect's Location header into the next request URL).
func Resolve(base Split, location string) (Split, error) {
	baseURL, err := url.Parse(base.String())
	if err != nil {
		return Split{}, errors.NewValidationError(fmt.Sprintf("invalid base URL %q: %v", base.String(), err))
	}
	ref, err := url.Parse(location)
	if err != nil {
		return Split{}, errors.NewDataError("redirect", fmt.Sprintf("invalid Location %q", location), err)
	}
	return Parse(baseURL.ResolveReference(ref).String())
}
