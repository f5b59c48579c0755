// Package csc provides a Cloud Signature Consortium (CSC) API client
// that implements crypto.Signer for remote signing.
//
// The client talks to the credentials/info, credentials/authorize and
// signatures/signHash endpoints of CSC v1.0.4 and v2 services.
//
// Usage:
//
//	signer, _ := csc.NewSigner(ctx, csc.Config{
//	    BaseURL:      "https://signing-service.example.com/csc/v1",
//	    CredentialID: "my-signing-key",
//	    AuthToken:    "Bearer ey...",
//	})
//
//	signature, _ := pades.NewPrivateKeySignature(signer, crypto.SHA256)
//	err := pades.NewPdfPadesSigner(in, out).
//	    SignWithBaselineBProfile(ctx, props, signer.Certificates(), signature)
//
// See https://cloudsignatureconsortium.org/ for the CSC API.
package csc

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/internal/httpfetch"
	"github.com/digitorus/pades/internal/logging"
)

// Config configures the CSC signer.
type Config struct {
	// BaseURL is the CSC API base URL (e.g., "https://example.com/csc/v1")
	BaseURL string

	// CredentialID is the ID of the signing credential
	CredentialID string

	// AuthToken is the authorization token (e.g., "Bearer token...")
	AuthToken string

	// PIN is the optional PIN for credential authorization
	PIN string

	// OTP is the optional one-time password
	OTP string

	// Fetcher defaults to a fetcher with httpfetch.DefaultTimeout.
	Fetcher *httpfetch.Fetcher
}

// Signer implements crypto.Signer using the CSC API.
type Signer struct {
	config    Config
	fetcher   *httpfetch.Fetcher
	publicKey crypto.PublicKey
	chain     []*x509.Certificate
	signAlgo  string
}

// NewSigner creates a new CSC signer.
// It fetches credential info to determine the certificates and the
// signature algorithm.
func NewSigner(ctx context.Context, cfg Config) (*Signer, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("csc: BaseURL is required")
	}
	if cfg.CredentialID == "" {
		return nil, errors.New("csc: CredentialID is required")
	}

	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = httpfetch.New(httpfetch.DefaultTimeout, 0)
	}
	if cfg.AuthToken != "" {
		fetcher = withAuthorization(fetcher, cfg.AuthToken)
	}

	s := &Signer{
		config:  cfg,
		fetcher: fetcher,
	}
	if err := s.fetchCredentialInfo(ctx); err != nil {
		return nil, fmt.Errorf("csc: failed to fetch credential info: %w", err)
	}
	return s, nil
}

func withAuthorization(f *httpfetch.Fetcher, token string) *httpfetch.Fetcher {
	c := *f
	c.Header = f.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	c.Header.Set("Authorization", token)
	return &c
}

type credentialInfoRequest struct {
	CredentialID string `json:"credentialID"`
	Certificates string `json:"certificates"`
}

type credentialInfoResponse struct {
	Key struct {
		Status string   `json:"status"`
		Algo   []string `json:"algo"`
		Len    int      `json:"len"`
	} `json:"key"`
	Cert struct {
		Status       string   `json:"status"`
		Certificates []string `json:"certificates"`
	} `json:"cert"`
	AuthMode string `json:"authMode"`
}

func (s *Signer) fetchCredentialInfo(ctx context.Context) error {
	respBody, err := s.doRequest(ctx, "credentials/info", credentialInfoRequest{
		CredentialID: s.config.CredentialID,
		Certificates: "chain",
	})
	if err != nil {
		return err
	}

	var info credentialInfoResponse
	if err := json.Unmarshal(respBody, &info); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if info.Key.Status != "" && !strings.EqualFold(info.Key.Status, "enabled") {
		return fmt.Errorf("key is %s", info.Key.Status)
	}

	for _, b64 := range info.Cert.Certificates {
		der, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return fmt.Errorf("failed to decode certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}
		s.chain = append(s.chain, cert)
	}
	if len(s.chain) > 0 {
		s.publicKey = s.chain[0].PublicKey
	}
	if len(info.Key.Algo) > 0 {
		s.signAlgo = info.Key.Algo[0]
	}

	logging.WithComponent("csc").WithFields(logrus.Fields{
		"credential":   s.config.CredentialID,
		"certificates": len(s.chain),
		"algorithm":    s.signAlgo,
	}).Debug("credential info fetched")
	return nil
}

// Public returns the public key of the signing certificate.
func (s *Signer) Public() crypto.PublicKey {
	return s.publicKey
}

// Certificates returns the signing certificate followed by the chain the
// service returned.
func (s *Signer) Certificates() []*x509.Certificate {
	return s.chain
}

type signHashRequest struct {
	CredentialID string   `json:"credentialID"`
	SAD          string   `json:"SAD,omitempty"`
	Hashes       []string `json:"hash"`
	HashAlgo     string   `json:"hashAlgo"`
	SignAlgo     string   `json:"signAlgo"`
}

type signHashResponse struct {
	Signatures []string `json:"signatures"`
}

// Sign signs the digest using the CSC API.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.SignContext(context.Background(), digest, opts)
}

// SignContext is Sign bounded by ctx.
func (s *Signer) SignContext(ctx context.Context, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	oid := cms.HashOID(opts.HashFunc())
	if oid == nil {
		return nil, fmt.Errorf("csc: unsupported hash algorithm: %v", opts.HashFunc())
	}

	sad, err := s.authorizeCredential(ctx)
	if err != nil {
		return nil, fmt.Errorf("csc: failed to authorize credential: %w", err)
	}

	respBody, err := s.doRequest(ctx, "signatures/signHash", signHashRequest{
		CredentialID: s.config.CredentialID,
		SAD:          sad,
		Hashes:       []string{base64.StdEncoding.EncodeToString(digest)},
		HashAlgo:     oid.String(),
		SignAlgo:     s.signAlgo,
	})
	if err != nil {
		return nil, fmt.Errorf("csc: sign request failed: %w", err)
	}

	var resp signHashResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("csc: failed to parse sign response: %w", err)
	}
	if len(resp.Signatures) == 0 {
		return nil, errors.New("csc: no signatures returned")
	}

	sig, err := base64.StdEncoding.DecodeString(resp.Signatures[0])
	if err != nil {
		return nil, fmt.Errorf("csc: failed to decode signature: %w", err)
	}
	return sig, nil
}

type authorizeCredentialRequest struct {
	CredentialID  string `json:"credentialID"`
	NumSignatures int    `json:"numSignatures"`
	PIN           string `json:"PIN,omitempty"`
	OTP           string `json:"OTP,omitempty"`
}

type authorizeCredentialResponse struct {
	SAD string `json:"SAD"`
}

// authorizeCredential gets the Signature Activation Data (SAD). Services
// that sign without explicit authorization answer with an error, which
// results in an empty SAD.
func (s *Signer) authorizeCredential(ctx context.Context) (string, error) {
	respBody, err := s.doRequest(ctx, "credentials/authorize", authorizeCredentialRequest{
		CredentialID:  s.config.CredentialID,
		NumSignatures: 1,
		PIN:           s.config.PIN,
		OTP:           s.config.OTP,
	})
	if err != nil {
		var status *httpfetch.StatusError
		if errors.As(err, &status) {
			logging.WithComponent("csc").WithError(err).Debug("signing without SAD")
			return "", nil
		}
		return "", err
	}

	var resp authorizeCredentialResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.SAD, nil
}

func (s *Signer) doRequest(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSuffix(s.config.BaseURL, "/") + "/" + endpoint
	return s.fetcher.Post(ctx, "csc", url, "application/json", jsonBody)
}
