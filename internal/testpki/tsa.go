package testpki

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/digitorus/timestamp"
)

// TSA is an RFC 3161 time stamping authority usable both in process and
// over HTTP.
type TSA struct {
	*Authority
	Issuer *Authority
	Server *httptest.Server

	mu       sync.Mutex
	requests int
}

// NewTSA issues a time stamping certificate under issuer and starts its HTTP
// endpoint. The server is closed when the test ends; with a nil t the caller
// closes Server.
func NewTSA(t *testing.T, issuer *Authority) *TSA {
	s := &TSA{
		Authority: issuer.Issue(t, CertOptions{
			CommonName:  "PAdES Test TSA",
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		}),
		Issuer: issuer,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		req, err := timestamp.ParseRequest(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp, err := s.respond(req.HashAlgorithm, req.HashedMessage, req)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/timestamp-reply")
		_, _ = w.Write(resp)
	}))
	if t != nil {
		t.Cleanup(s.Server.Close)
	}
	return s
}

// URL of the HTTP endpoint.
func (s *TSA) URL() string {
	return s.Server.URL
}

// Requests returns how many tokens were issued.
func (s *TSA) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *TSA) Hash() crypto.Hash {
	return crypto.SHA256
}

func (s *TSA) TokenSizeEstimate() int {
	return 4096
}

// TimestampToken returns a token over the given SHA-256 imprint.
func (s *TSA) TimestampToken(_ context.Context, imprint []byte) ([]byte, error) {
	resp, err := s.respond(crypto.SHA256, imprint, nil)
	if err != nil {
		return nil, err
	}
	ts, err := timestamp.ParseResponse(resp)
	if err != nil {
		return nil, err
	}
	return ts.RawToken, nil
}

func (s *TSA) respond(hash crypto.Hash, imprint []byte, req *timestamp.Request) ([]byte, error) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	ts := &timestamp.Timestamp{
		HashAlgorithm:     hash,
		HashedMessage:     imprint,
		Time:              time.Now().UTC(),
		Policy:            asn1.ObjectIdentifier{1, 2, 3, 4, 1},
		AddTSACertificate: true,
		Certificates:      []*x509.Certificate{s.Issuer.Cert},
	}
	if req != nil {
		ts.Nonce = req.Nonce
	}
	return ts.CreateResponseWithOpts(s.Cert, s.Key, crypto.SHA256)
}
