package livechannel

import (
	"fmt"
	"net/url"
	"strings"
)

// EndpointURL derives a channel URL from the dashboard page URL: https pages
// map to wss, http pages to ws, and the host is kept while the path is
// replaced by the fixed channel path.
func EndpointURL(pageURL, path string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported page scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("page url %q has no host", pageURL)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil

	return u.String(), nil
}
