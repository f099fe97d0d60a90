package responder

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ValidateBaseURL checks a responder base URL before any request is sent to
// it. Plain http and loopback, private or link-local targets are only
// accepted with allowLocal, which is what self-hosted OpenAI compatible
// servers need.
func ValidateBaseURL(rawURL string, allowLocal bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid base URL")
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !allowLocal {
			return errors.New("http base URL requires allow-local")
		}
	default:
		return errors.Errorf("unsupported base URL scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.New("base URL host is required")
	}
	if !allowLocal && (host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")) {
		return errors.Errorf("local host %q requires allow-local", host)
	}

	// IP literals are checked without a DNS lookup.
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" && !allowLocal {
		return errors.Errorf("zoned address %q requires allow-local", host)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Errorf("base URL address %q is not usable", host)
	}
	if !allowLocal && (addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return errors.Errorf("local address %q requires allow-local", host)
	}
	return nil
}
