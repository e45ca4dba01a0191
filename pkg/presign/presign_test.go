package presign

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	issued := time.Unix(1700000000, 0)
	u := signAt("/static/abc/def.png", "token-1", issued)

	cred, err := verifyAt(u.Path, u.Query(), issued.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "token-1", cred)
}

func TestVerify_EmptyCredential(t *testing.T) {
	issued := time.Unix(1700000000, 0)
	u := signAt("/static/a.png", "", issued)

	cred, err := verifyAt(u.Path, u.Query(), issued)
	require.NoError(t, err)
	assert.Equal(t, "", cred)
}

func TestVerify_Expired(t *testing.T) {
	issued := time.Unix(1700000000, 0)
	u := signAt("/static/a.png", "tok", issued)

	// Last valid instant is issued+expires.
	_, err := verifyAt(u.Path, u.Query(), issued.Add(DefaultExpiry))
	assert.NoError(t, err)

	_, err = verifyAt(u.Path, u.Query(), issued.Add(DefaultExpiry+time.Second))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerify_NotYetValid(t *testing.T) {
	issued := time.Unix(1700000000, 0)
	u := signAt("/static/a.png", "tok", issued)

	_, err := verifyAt(u.Path, u.Query(), issued.Add(-time.Second))
	assert.ErrorIs(t, err, ErrNotYetValid)
}

func TestVerify_PathBound(t *testing.T) {
	issued := time.Unix(1700000000, 0)
	u := signAt("/static/a.png", "tok", issued)

	_, err := verifyAt("/static/b.png", u.Query(), issued)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_TamperedSignature(t *testing.T) {
	issued := time.Unix(1700000000, 0)
	u := signAt("/static/a.png", "tok", issued)

	q := u.Query()
	q.Set("X-Amz-Signature", "deadbeef")
	_, err := verifyAt(u.Path, q, issued)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_MalformedQuery(t *testing.T) {
	_, err := verifyAt("/static/a.png", url.Values{}, time.Now())
	assert.ErrorIs(t, err, ErrMalformedQuery)

	issued := time.Unix(1700000000, 0)
	u := signAt("/static/a.png", "tok", issued)
	q := u.Query()
	q.Set("X-Amz-Date", "not-a-number")
	_, err = verifyAt(u.Path, q, issued)
	assert.ErrorIs(t, err, ErrMalformedQuery)
}

func TestQueryString_Parameters(t *testing.T) {
	u := signAt("/static/x/y.pdf", "tok", time.Unix(1700000000, 0))

	parsed, err := url.ParseQuery(u.QueryString())
	require.NoError(t, err)

	assert.Equal(t, Algorithm, parsed.Get("X-Amz-Algorithm"))
	assert.Equal(t, "tok", parsed.Get("X-Amz-Credential"))
	assert.Equal(t, "1700000000", parsed.Get("X-Amz-Date"))
	assert.Equal(t, "3600", parsed.Get("X-Amz-Expires"))
	assert.Len(t, parsed.Get("X-Amz-Signature"), 40)
}

func TestString_IsPathPlusQuery(t *testing.T) {
	u := signAt("/static/x.png", "tok", time.Unix(1700000000, 0))

	full := u.String()
	parsed, err := url.Parse(full)
	require.NoError(t, err)
	assert.Equal(t, "/static/x.png", parsed.Path)

	cred, err := verifyAt(parsed.Path, parsed.Query(), time.Unix(1700000100, 0))
	require.NoError(t, err)
	assert.Equal(t, "tok", cred)
}
