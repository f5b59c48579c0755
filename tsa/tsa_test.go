package tsa

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"testing"

	"github.com/digitorus/pades/internal/testpki"
	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	authority := testpki.NewTSA(t, pki.Root)

	digest := sha256.Sum256([]byte("signature value"))
	client := NewHTTPClient(authority.URL())
	token, err := client.TimestampToken(context.Background(), digest[:])
	require.NoError(t, err)
	assert.Equal(t, 1, authority.Requests())

	_, err = pkcs7.Parse(token)
	require.NoError(t, err)
	ts, err := timestamp.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, digest[:], ts.HashedMessage)
	assert.Equal(t, crypto.SHA256, ts.HashAlgorithm)

	t.Run("sha512", func(t *testing.T) {
		digest := sha512.Sum512([]byte("signature value"))
		c := &HTTPClient{URL: authority.URL(), HashAlgorithm: crypto.SHA512}
		token, err := c.TimestampToken(context.Background(), digest[:])
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("wrong imprint size", func(t *testing.T) {
		_, err := client.TimestampToken(context.Background(), []byte{1, 2, 3})
		assert.Error(t, err)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		_, err := NewHTTPClient(srv.URL).TimestampToken(context.Background(), digest[:])
		assert.Error(t, err)
	})
}

func TestHTTPClientBasicAuth(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	authority := testpki.NewTSA(t, pki.Root)
	target, err := url.Parse(authority.URL())
	require.NoError(t, err)
	proxy := httputil.NewSingleHostReverseProxy(target)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		proxy.ServeHTTP(w, r)
	}))
	defer srv.Close()

	digest := sha256.Sum256([]byte("x"))
	_, err = NewHTTPClient(srv.URL).TimestampToken(context.Background(), digest[:])
	assert.Error(t, err)

	c := NewHTTPClient(srv.URL)
	c.Username, c.Password = "alice", "secret"
	_, err = c.TimestampToken(context.Background(), digest[:])
	assert.NoError(t, err)
}

func TestDefaults(t *testing.T) {
	c := &HTTPClient{}
	assert.Equal(t, crypto.SHA256, c.Hash())
	assert.Equal(t, DefaultTokenSizeEstimate, c.TokenSizeEstimate())
	c.TokenSize = 100
	assert.Equal(t, 100, c.TokenSizeEstimate())

	var _ Client = c
	var _ Client = (*testpki.TSA)(nil)
}
