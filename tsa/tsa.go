// Package tsa requests RFC 3161 time-stamp tokens.
package tsa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/digitorus/pades/internal/httpfetch"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/timestamp"
	"github.com/sirupsen/logrus"
)

// DefaultTokenSizeEstimate is reserved for a token when the client has no
// better estimate.
const DefaultTokenSizeEstimate = 9000

// Client produces time-stamp tokens over a message imprint computed with
// Hash().
type Client interface {
	Hash() crypto.Hash
	TokenSizeEstimate() int
	TimestampToken(ctx context.Context, imprint []byte) ([]byte, error)
}

var (
	ErrImprintMismatch = errors.New("time-stamp token does not cover the requested imprint")
	ErrNonceMismatch   = errors.New("time-stamp token nonce does not match the request")
)

// HTTPClient talks to a time stamping authority over HTTP.
type HTTPClient struct {
	URL      string
	Username string
	Password string
	// HashAlgorithm defaults to SHA-256.
	HashAlgorithm crypto.Hash
	// TokenSize overrides DefaultTokenSizeEstimate.
	TokenSize int
	// Policy requests a specific TSA policy when set.
	Policy  []int
	Fetcher *httpfetch.Fetcher
}

// NewHTTPClient returns a client for url using SHA-256 imprints.
func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{URL: url, HashAlgorithm: crypto.SHA256}
}

func (c *HTTPClient) Hash() crypto.Hash {
	if c.HashAlgorithm == 0 {
		return crypto.SHA256
	}
	return c.HashAlgorithm
}

func (c *HTTPClient) TokenSizeEstimate() int {
	if c.TokenSize > 0 {
		return c.TokenSize
	}
	return DefaultTokenSizeEstimate
}

// TimestampToken requests a token for imprint and returns the encoded
// token (a CMS SignedData).
func (c *HTTPClient) TimestampToken(ctx context.Context, imprint []byte) ([]byte, error) {
	if len(imprint) != c.Hash().Size() {
		return nil, fmt.Errorf("imprint has %d bytes, %s needs %d", len(imprint), c.Hash(), c.Hash().Size())
	}
	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	req := timestamp.Request{
		HashAlgorithm: c.Hash(),
		HashedMessage: imprint,
		Certificates:  true,
		Nonce:         nonce,
	}
	if len(c.Policy) > 0 {
		req.TSAPolicyOID = c.Policy
	}
	body, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	fetcher := c.Fetcher
	if fetcher == nil {
		fetcher = &httpfetch.Fetcher{}
	}
	if c.Username != "" && c.Password != "" {
		fetcher = fetcher.WithBasicAuth(c.Username, c.Password)
	}
	logging.WithComponent("tsa").WithFields(logrus.Fields{"url": c.URL, "hash": c.Hash().String()}).Debug("requesting time-stamp token")
	resp, err := fetcher.Do(ctx, "tsa", http.MethodPost, c.URL, "application/timestamp-query", body)
	if err != nil {
		return nil, fmt.Errorf("time-stamp request to %s: %w", c.URL, err)
	}

	ts, err := timestamp.ParseResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	if !bytes.Equal(ts.HashedMessage, imprint) {
		return nil, ErrImprintMismatch
	}
	if ts.Nonce != nil && ts.Nonce.Cmp(nonce) != 0 {
		return nil, ErrNonceMismatch
	}
	return ts.RawToken, nil
}
