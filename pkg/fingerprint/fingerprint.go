// Package fingerprint derives deterministic artifact keys from render
// request parameters.
//
// A key has the form "<origin-hash>/<request-hash>", both halves a
// 64-bit xxhash rendered as 16 lowercase hex digits. The origin half
// partitions artifacts by the origin of the navigated URL; the request
// half covers every parameter that influences rendering. Freshness
// policy (ttl) is deliberately excluded: identity and freshness are
// orthogonal.
package fingerprint

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Field is one named request parameter feeding the request hash.
// Fields are hashed in the order given, so callers must use a fixed,
// canonical order to keep keys stable across restarts.
type Field struct {
	Name  string
	Value string
}

// String builds a string-valued field.
func String(name, value string) Field {
	return Field{Name: name, Value: value}
}

// Int builds an integer-valued field with a fixed decimal rendering.
func Int(name string, value int) Field {
	return Field{Name: name, Value: strconv.Itoa(value)}
}

// Bool builds a boolean field rendered as "true"/"false".
func Bool(name string, value bool) Field {
	return Field{Name: name, Value: strconv.FormatBool(value)}
}

// Sum64Hex hashes the canonical encoding of fields and renders the
// result as 16 lowercase hex digits. Each field contributes its name
// and value, each terminated by a NUL byte, so neighbouring fields
// cannot alias each other.
func Sum64Hex(fields ...Field) string {
	d := xxhash.New()
	for _, f := range fields {
		_, _ = d.WriteString(f.Name)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(f.Value)
		_, _ = d.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Origin returns the ASCII serialization of the URL's origin:
// "scheme://host[:port]", with the port omitted when it is the default
// for the scheme.
func Origin(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" || port == defaultPort(u.Scheme) {
		return u.Scheme + "://" + host
	}
	return u.Scheme + "://" + host + ":" + port
}

// Key derives the full artifact key for rawURL and the given request
// fields. rawURL must be absolute.
func Key(rawURL string, fields []Field) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	return Sum64Hex(String("origin", Origin(u))) + "/" + Sum64Hex(fields...), nil
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}
