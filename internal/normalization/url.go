// Package normalization turns user-submitted URLs into canonical identities so the
// same page submitted in different spellings maps to one CanonicalLink.
package normalization

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

var ErrInvalidURL = errors.New("invalid url")

// trackingPrefixes are stripped when a query key starts with them.
var trackingPrefixes = []string{"utm_"}

var trackingParams = map[string]struct{}{
	"utm":     {},
	"fbclid":  {},
	"gclid":   {},
	"gclsrc":  {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref_src": {},
	"spm":     {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalizer canonicalizes URLs. The zero value strips the built-in tracking params.
type Normalizer struct {
	extra map[string]struct{}
}

// New returns a Normalizer that also strips the given query keys (case-insensitive).
func New(extraTrackingParams ...string) *Normalizer {
	n := &Normalizer{extra: map[string]struct{}{}}
	for _, p := range extraTrackingParams {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			n.extra[p] = struct{}{}
		}
	}
	return n
}

var std = New()

// NormalizeURL canonicalizes raw with the built-in tracking param list.
func NormalizeURL(raw string) (string, error) {
	return std.Normalize(raw)
}

// Normalize lowercases scheme and host, drops userinfo, default ports and fragments,
// cleans the path without decoding reserved escapes such as %2F, strips tracking
// params and sorts the query. The result is a fixed point:
// Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" || u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	u.Scheme = scheme
	u.User = nil
	u.Host = normalizeHost(u, scheme)
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	u.RawQuery = n.cleanQuery(u.Query())
	escaped := normalizePath(normalizeEscapes(u.EscapedPath()))
	if u.Path, err = url.PathUnescape(escaped); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.RawPath = escaped
	return u.String(), nil
}

// URLHash is the hex sha256 of an already canonical URL.
func URLHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Host returns the lowercased hostname of raw, or "" when it does not parse.
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func normalizeHost(u *url.URL, scheme string) string {
	hostname := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	port := u.Port()
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" || defaultPorts[scheme] == port {
		return hostname
	}
	return hostname + ":" + port
}

func (n *Normalizer) isTracking(key string) bool {
	k := strings.ToLower(key)
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	if _, ok := trackingParams[k]; ok {
		return true
	}
	_, ok := n.extra[k]
	return ok
}

func (n *Normalizer) cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if !n.isTracking(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vals := append([]string(nil), values[key]...)
		sort.Strings(vals)
		for _, val := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

// normalizeEscapes decodes percent-escapes of unreserved characters and uppercases
// the hex digits of the rest, so "%7e" and "~" spell the same path.
func normalizeEscapes(p string) string {
	if !strings.Contains(p, "%") {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		if p[i] != '%' || i+2 >= len(p) || !isHex(p[i+1]) || !isHex(p[i+2]) {
			b.WriteByte(p[i])
			continue
		}
		c := unhex(p[i+1])<<4 | unhex(p[i+2])
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(p[i+1 : i+3]))
		}
		i += 2
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	}
	return c - 'A' + 10
}

func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "/"
	}
	return strings.TrimRight(cleaned, "/")
}
