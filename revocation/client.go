package revocation

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/digitorus/pades/internal/httpfetch"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"
)

var (
	ErrIssuerRequired = errors.New("issuer certificate is required to build an OCSP request")
	ErrNoOCSPURL      = errors.New("certificate has no OCSP responder URL")
	ErrNoCRLURL       = errors.New("certificate has no CRL distribution point")
)

// OCSPClient returns a DER encoded OCSP response about cert. url overrides
// the responder location found in cert.
type OCSPClient interface {
	GetEncoded(ctx context.Context, cert, issuer *x509.Certificate, url string) ([]byte, error)
}

// CRLClient returns DER encoded CRLs that may cover cert. url overrides the
// distribution points found in cert.
type CRLClient interface {
	GetEncoded(ctx context.Context, cert *x509.Certificate, url string) ([][]byte, error)
}

// Cache stores fetched revocation data by URL.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte)
}

// MemoryCache implements a simple thread-safe in-memory cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string][]byte),
	}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.items[key]
	return data, ok
}

func (c *MemoryCache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = data
}

// OnlineOCSPClient requests OCSP responses over HTTP. Small requests use GET
// with the base64 request in the path, larger ones POST.
type OnlineOCSPClient struct {
	Fetcher *httpfetch.Fetcher
	Cache   Cache
	// Hash used for the CertID; SHA-1 when zero.
	Hash crypto.Hash
	// ForcePOST always posts the request.
	ForcePOST bool
}

// NewOnlineOCSPClient returns a client with an in-memory cache.
func NewOnlineOCSPClient() *OnlineOCSPClient {
	return &OnlineOCSPClient{
		Fetcher: httpfetch.New(0, 0),
		Cache:   NewMemoryCache(),
	}
}

func (c *OnlineOCSPClient) GetEncoded(ctx context.Context, cert, issuer *x509.Certificate, responder string) ([]byte, error) {
	if cert == nil || issuer == nil {
		return nil, ErrIssuerRequired
	}
	if responder == "" {
		if len(cert.OCSPServer) == 0 {
			return nil, ErrNoOCSPURL
		}
		responder = cert.OCSPServer[0]
	}

	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: c.Hash})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	key := responder + "#" + cert.SerialNumber.String()
	if c.Cache != nil {
		if data, ok := c.Cache.Get(key); ok {
			metrics.CacheHit("ocsp")
			return data, nil
		}
	}

	encoded := base64.StdEncoding.EncodeToString(req)
	var body []byte
	if c.ForcePOST || len(encoded) > 255 {
		body, err = c.Fetcher.Post(ctx, "ocsp", responder, "application/ocsp-request", req)
	} else {
		body, err = c.Fetcher.Get(ctx, "ocsp", strings.TrimRight(responder, "/")+"/"+url.PathEscape(encoded))
	}
	if err != nil {
		return nil, err
	}

	if _, err := ocsp.ParseResponseForCert(body, cert, nil); err != nil {
		return nil, fmt.Errorf("invalid OCSP response from %s: %w", responder, err)
	}

	logging.WithComponent("ocsp").WithFields(logrus.Fields{
		"url":    responder,
		"serial": cert.SerialNumber.String(),
	}).Debug("received OCSP response")

	if c.Cache != nil {
		c.Cache.Put(key, body)
	}
	return body, nil
}

// OnlineCRLClient downloads CRLs from the distribution points of a certificate.
type OnlineCRLClient struct {
	Fetcher *httpfetch.Fetcher
	Cache   Cache
}

// NewOnlineCRLClient returns a client with an in-memory cache.
func NewOnlineCRLClient() *OnlineCRLClient {
	return &OnlineCRLClient{
		Fetcher: httpfetch.New(0, 0),
		Cache:   NewMemoryCache(),
	}
}

func (c *OnlineCRLClient) GetEncoded(ctx context.Context, cert *x509.Certificate, location string) ([][]byte, error) {
	var urls []string
	if location != "" {
		urls = []string{location}
	} else if cert != nil {
		for _, dp := range cert.CRLDistributionPoints {
			if strings.HasPrefix(dp, "http://") || strings.HasPrefix(dp, "https://") {
				urls = append(urls, dp)
			}
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoCRLURL
	}

	var out [][]byte
	var errs []error
	for _, u := range urls {
		if c.Cache != nil {
			if data, ok := c.Cache.Get(u); ok {
				metrics.CacheHit("crl")
				out = append(out, data)
				continue
			}
		}
		body, err := c.Fetcher.Get(ctx, "crl", u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		body = decodePEM(body, "X509 CRL")
		if c.Cache != nil {
			c.Cache.Put(u, body)
		}
		out = append(out, body)
	}
	if len(out) == 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func decodePEM(data []byte, blockType string) []byte {
	if block, _ := pem.Decode(data); block != nil && block.Type == blockType {
		return block.Bytes
	}
	return data
}
