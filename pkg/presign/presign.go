// Package presign produces and verifies time-limited signed references
// to locally stored artifacts.
//
// The scheme reuses AWS SigV4 query parameter names for client
// familiarity but is not SigV4: the signature is a SHA-1 hex digest
// over the canonical JSON (RFC 8785) of the URL metadata, bound to the
// exact request path. It is a lightweight shared-secret gate, not a
// cryptographic authentication of S3 semantics.
package presign

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gowebpki/jcs"
)

// Algorithm is the advertised X-Amz-Algorithm value.
const Algorithm = "AWS4-HMAC-SHA256"

// DefaultExpiry is the validity window of issued URLs.
const DefaultExpiry = 3600 * time.Second

// Verification failures, coarsest to finest.
var (
	ErrMalformedQuery = errors.New("presign: malformed query")
	ErrNotYetValid    = errors.New("presign: date is in the future")
	ErrExpired        = errors.New("presign: expired")
	ErrBadSignature   = errors.New("presign: signature mismatch")
)

// URL is the signed metadata of a presigned reference. The JSON field
// order is irrelevant: signing canonicalizes with JCS first.
type URL struct {
	Path       string `json:"path"`
	Algorithm  string `json:"x_amz_algorithm"`
	Credential string `json:"x_amz_credential"`
	Date       int64  `json:"x_amz_date"`
	Expires    int64  `json:"x_amz_expires"`
}

// Sign issues a presigned URL for path using the bucket access token
// as credential, valid for DefaultExpiry starting now.
func Sign(path, accessToken string) *URL {
	return signAt(path, accessToken, time.Now())
}

func signAt(path, accessToken string, now time.Time) *URL {
	return &URL{
		Path:       path,
		Algorithm:  Algorithm,
		Credential: accessToken,
		Date:       now.Unix(),
		Expires:    int64(DefaultExpiry / time.Second),
	}
}

// Signature computes the hex digest over the canonical JSON of u.
func (u *URL) Signature() string {
	raw, err := json.Marshal(u)
	if err != nil {
		// URL contains only scalars; Marshal cannot fail.
		panic(err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		panic(err)
	}
	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:])
}

// Query serializes the five signed query parameters.
func (u *URL) Query() url.Values {
	return url.Values{
		"X-Amz-Algorithm":  {u.Algorithm},
		"X-Amz-Credential": {u.Credential},
		"X-Amz-Date":       {strconv.FormatInt(u.Date, 10)},
		"X-Amz-Expires":    {strconv.FormatInt(u.Expires, 10)},
		"X-Amz-Signature":  {u.Signature()},
	}
}

// QueryString renders Query in canonical (sorted-key) encoding.
func (u *URL) QueryString() string {
	return u.Query().Encode()
}

// String renders the full relative URL: path plus signed query.
func (u *URL) String() string {
	return u.Path + "?" + u.QueryString()
}

// Verify checks the signed query parameters against path at the
// current time and returns the embedded credential on success.
func Verify(path string, query url.Values) (string, error) {
	return verifyAt(path, query, time.Now())
}

func verifyAt(path string, query url.Values, now time.Time) (string, error) {
	algorithm := query.Get("X-Amz-Algorithm")
	credential := query.Get("X-Amz-Credential")
	signature := query.Get("X-Amz-Signature")
	if algorithm == "" || signature == "" || !query.Has("X-Amz-Credential") {
		return "", ErrMalformedQuery
	}
	date, err := strconv.ParseInt(query.Get("X-Amz-Date"), 10, 64)
	if err != nil {
		return "", ErrMalformedQuery
	}
	expires, err := strconv.ParseInt(query.Get("X-Amz-Expires"), 10, 64)
	if err != nil {
		return "", ErrMalformedQuery
	}

	ts := now.Unix()
	if ts < date {
		return "", ErrNotYetValid
	}
	if date+expires < ts {
		return "", ErrExpired
	}

	u := &URL{
		Path:       path,
		Algorithm:  algorithm,
		Credential: credential,
		Date:       date,
		Expires:    expires,
	}
	if u.Signature() != signature {
		return "", ErrBadSignature
	}
	return credential, nil
}
