package relay

import (
	"net"
	"net/url"
	"strings"
)

// DefaultMaxHints caps the number of relays a single fetch fans out to.
const DefaultMaxHints = 8

// NormalizeURL canonicalizes a relay address: lowercase scheme and host,
// "wss://" assumed when no scheme is given, no trailing slash, no query or
// fragment. ok is false for anything that is not a websocket URL.
func NormalizeURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") {
		s = "wss://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", false
	}

	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil

	return u.String(), true
}

// IsLocal reports whether a normalized relay URL points at a loopback,
// private or link-local address.
func IsLocal(relayURL string) bool {
	u, err := url.Parse(relayURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// SelectHints picks the relays to query.
//
// hints are normalized, non-websocket and local addresses are dropped,
// duplicates removed, and the result capped at limit (DefaultMaxHints when
// limit <= 0). When no hint survives, fallback is used instead; fallback
// entries are trusted configuration, so local addresses are kept.
func SelectHints(hints []string, limit int, fallback []string) []string {
	if limit <= 0 {
		limit = DefaultMaxHints
	}

	picked := pick(hints, limit, false)
	if len(picked) == 0 {
		picked = pick(fallback, limit, true)
	}
	return picked
}

func pick(candidates []string, limit int, allowLocal bool) []string {
	out := make([]string, 0, min(len(candidates), limit))
	seen := make(map[string]struct{}, len(candidates))

	for _, raw := range candidates {
		if len(out) >= limit {
			break
		}
		u, ok := NormalizeURL(raw)
		if !ok {
			continue
		}
		if !allowLocal && IsLocal(u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
