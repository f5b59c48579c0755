package csc

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/pades"
	"github.com/digitorus/pades/internal/testpki"
	"github.com/digitorus/pades/validation"
)

// mockCSCServer provides a flexible mock server for CSC API endpoints.
// Endpoints without a handler sign with key.
type mockCSCServer struct {
	key   crypto.Signer
	chain [][]byte

	infoHandler      http.HandlerFunc
	authorizeHandler http.HandlerFunc
	signHandler      http.HandlerFunc

	sad string
}

func newMockServer(t *testing.T, m *mockCSCServer) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/credentials/info"):
			if m.infoHandler != nil {
				m.infoHandler(w, r)
				return
			}
			var certs []string
			for _, der := range m.chain {
				certs = append(certs, base64.StdEncoding.EncodeToString(der))
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"key":      map[string]interface{}{"status": "enabled", "algo": []string{"1.2.840.10045.4.3.2"}, "len": 256},
				"cert":     map[string]interface{}{"status": "valid", "certificates": certs},
				"authMode": "explicit",
			})
		case strings.HasSuffix(r.URL.Path, "/credentials/authorize"):
			if m.authorizeHandler != nil {
				m.authorizeHandler(w, r)
				return
			}
			_, _ = w.Write([]byte(`{"SAD": "mock-sad-token"}`))
		case strings.HasSuffix(r.URL.Path, "/signatures/signHash"):
			if m.signHandler != nil {
				m.signHandler(w, r)
				return
			}
			var req signHashRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Hashes) != 1 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			m.sad = req.SAD
			digest, _ := base64.StdEncoding.DecodeString(req.Hashes[0])
			sig, err := m.key.Sign(rand.Reader, digest, crypto.SHA256)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(signHashResponse{Signatures: []string{base64.StdEncoding.EncodeToString(sig)}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newMock(t *testing.T) (*testpki.TestPKI, *mockCSCServer) {
	t.Helper()
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	t.Cleanup(pki.Close)
	key, cert := pki.IssueLeaf("CSC Signer")

	m := &mockCSCServer{key: key, chain: [][]byte{cert.Raw}}
	for _, c := range pki.Chain() {
		m.chain = append(m.chain, c.Raw)
	}
	return pki, m
}

func TestNewSignerRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base URL", Config{CredentialID: "test"}},
		{"missing credential", Config{BaseURL: "https://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(context.Background(), tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestSign(t *testing.T) {
	pki, m := newMock(t)
	server := newMockServer(t, m)

	signer, err := NewSigner(context.Background(), Config{
		BaseURL:      server.URL,
		CredentialID: "test-creds",
		AuthToken:    "Bearer token",
	})
	require.NoError(t, err)
	require.Len(t, signer.Certificates(), 1+len(pki.Chain()))

	digest := sha256.Sum256([]byte("message"))
	sig, err := signer.Sign(nil, digest[:], crypto.SHA256)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(signer.Public().(*ecdsa.PublicKey), digest[:], sig))
	assert.Equal(t, "mock-sad-token", m.sad)
}

func TestSignWithoutAuthorization(t *testing.T) {
	_, m := newMock(t)
	m.authorizeHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_request"}`))
	}
	server := newMockServer(t, m)

	signer, err := NewSigner(context.Background(), Config{BaseURL: server.URL, CredentialID: "test-creds"})
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("message"))
	_, err = signer.Sign(nil, digest[:], crypto.SHA256)
	require.NoError(t, err)
	assert.Empty(t, m.sad)
}

func TestSignErrors(t *testing.T) {
	tests := []struct {
		name        string
		signHandler http.HandlerFunc
		hash        crypto.Hash
	}{
		{"unsupported hash", nil, crypto.MD5},
		{"API error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_request"}`))
		}, crypto.SHA256},
		{"invalid JSON", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`invalid-json`))
		}, crypto.SHA256},
		{"no signatures", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"signatures": []}`))
		}, crypto.SHA256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, m := newMock(t)
			m.signHandler = tt.signHandler
			server := newMockServer(t, m)

			signer, err := NewSigner(context.Background(), Config{BaseURL: server.URL, CredentialID: "test-creds"})
			require.NoError(t, err)
			_, err = signer.Sign(nil, make([]byte, 32), tt.hash)
			assert.Error(t, err)
		})
	}
}

func TestFetchCredentialInfoError(t *testing.T) {
	_, m := newMock(t)
	m.infoHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal server error"))
	}
	server := newMockServer(t, m)

	_, err := NewSigner(context.Background(), Config{BaseURL: server.URL, CredentialID: "test-creds"})
	assert.Error(t, err)
}

func TestSignDocument(t *testing.T) {
	_, m := newMock(t)
	server := newMockServer(t, m)
	ctx := context.Background()

	signer, err := NewSigner(ctx, Config{BaseURL: server.URL, CredentialID: "test-creds"})
	require.NoError(t, err)
	signature, err := pades.NewPrivateKeySignature(signer, crypto.SHA256)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, pades.NewPdfPadesSigner(bytes.NewReader(testpki.SamplePDF()), &out).
		SignWithBaselineBProfile(ctx, pades.SignerProperties{SignerName: "CSC Signer"}, signer.Certificates(), signature))

	reports, err := pades.ValidateSignatures(ctx, bytes.NewReader(out.Bytes()), pades.ValidationOptions{
		OnlineFetching: validation.NeverFetch,
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].SigningCertificate.Equal(signer.Certificates()[0]))
	for _, item := range reports[0].Report.Logs() {
		assert.NotEqual(t, pades.SignatureIntegrityCheck, item.CheckName, item.String())
	}
}
