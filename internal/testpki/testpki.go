package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

// BytesReader implements io.ReaderAt for in-memory byte slices.
type BytesReader struct {
	Data []byte
}

func NewBytesReader(data []byte) *BytesReader {
	return &BytesReader{Data: data}
}

func (r *BytesReader) ReadAt(p []byte, off int64) (n int, err error) {
	if off >= int64(len(r.Data)) {
		return 0, io.EOF
	}
	n = copy(p, r.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// KeyProfile defines the cryptographic settings for generated keys.
type KeyProfile string

const (
	RSA_2048   KeyProfile = "RSA_2048"
	RSA_3072   KeyProfile = "RSA_3072"
	ECDSA_P256 KeyProfile = "ECDSA_P256"
	ECDSA_P384 KeyProfile = "ECDSA_P384"
	ECDSA_P521 KeyProfile = "ECDSA_P521"
)

type TestPKIConfig struct {
	Profile         KeyProfile
	IntermediateCAs int
}

// TestPKI is a root CA with a chain of intermediates and an HTTP server
// answering CRL, OCSP and CA issuer requests for the last intermediate.
type TestPKI struct {
	T             *testing.T
	Root          *Authority
	Intermediates []*Authority
	Server        *httptest.Server
	Profile       KeyProfile

	mu           sync.Mutex
	CRLBytes     []byte
	Requests     int
	OCSPRequests int
	FailOCSP     bool
	Revoked      map[string]time.Time
}

// NewTestPKI creates a P-256 hierarchy with one intermediate CA.
func NewTestPKI(t *testing.T) *TestPKI {
	return NewTestPKIWithConfig(t, TestPKIConfig{
		Profile:         ECDSA_P256,
		IntermediateCAs: 1,
	})
}

// NewTestPKIWithConfig allows detailed configuration of the PKI.
func NewTestPKIWithConfig(t *testing.T, config TestPKIConfig) *TestPKI {
	root := NewRoot(t, CertOptions{CommonName: "PAdES Test Root CA", Profile: config.Profile})

	p := &TestPKI{T: t, Root: root, Profile: config.Profile, Revoked: map[string]time.Time{}}
	parent := root
	for i := 0; i < config.IntermediateCAs; i++ {
		parent = parent.Issue(t, CertOptions{
			CommonName: fmt.Sprintf("PAdES Test Intermediate CA %d", i+1),
			Profile:    config.Profile,
			IsCA:       true,
		})
		p.Intermediates = append(p.Intermediates, parent)
	}
	return p
}

// Issuer returns the authority issuing leaves.
func (p *TestPKI) Issuer() *Authority {
	if len(p.Intermediates) > 0 {
		return p.Intermediates[len(p.Intermediates)-1]
	}
	return p.Root
}

// StartCRLServer starts the HTTP server for CRL, OCSP and CA issuer requests.
func (p *TestPKI) StartCRLServer() {
	issuer := p.Issuer()
	p.refreshCRL()

	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/crl":
			p.mu.Lock()
			p.Requests++
			data := p.CRLBytes
			p.mu.Unlock()
			w.Header().Set("Content-Type", "application/pkix-crl")
			_, _ = w.Write(data)
		case strings.HasPrefix(r.URL.Path, "/ocsp"):
			p.serveOCSP(w, r)
		case strings.HasPrefix(r.URL.Path, "/ca"):
			w.Header().Set("Content-Type", "application/pkix-cert")
			_, _ = w.Write(issuer.Cert.Raw)
		case r.URL.Path == "/root":
			w.Header().Set("Content-Type", "application/pkix-cert")
			_, _ = w.Write(p.Root.Cert.Raw)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func (p *TestPKI) serveOCSP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.OCSPRequests++
	fail := p.FailOCSP
	p.mu.Unlock()
	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var reqBytes []byte
	var err error
	if r.Method == http.MethodPost {
		reqBytes, err = io.ReadAll(r.Body)
	} else {
		reqBytes, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(r.URL.Path, "/ocsp/"))
	}
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ocspReq, err := ocsp.ParseRequest(reqBytes)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	now := time.Now()
	template := ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: ocspReq.SerialNumber,
		ThisUpdate:   now.Add(-1 * time.Hour),
		NextUpdate:   now.Add(24 * time.Hour),
	}
	p.mu.Lock()
	if at, ok := p.Revoked[ocspReq.SerialNumber.String()]; ok {
		template.Status = ocsp.Revoked
		template.RevokedAt = at
	}
	p.mu.Unlock()

	issuer := p.Issuer()
	respBytes, err := ocsp.CreateResponse(issuer.Cert, issuer.Cert, template, issuer.Key)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/ocsp-response")
	_, _ = w.Write(respBytes)
}

// Revoke marks cert as revoked in both the CRL and the OCSP answers.
func (p *TestPKI) Revoke(cert *x509.Certificate, at time.Time) {
	p.mu.Lock()
	p.Revoked[cert.SerialNumber.String()] = at
	p.mu.Unlock()
	p.refreshCRL()
}

func (p *TestPKI) refreshCRL() {
	p.mu.Lock()
	var entries []x509.RevocationListEntry
	for serial, at := range p.Revoked {
		n, _ := new(big.Int).SetString(serial, 10)
		entries = append(entries, x509.RevocationListEntry{SerialNumber: n, RevocationTime: at})
	}
	p.mu.Unlock()

	now := time.Now()
	data := p.Issuer().CRL(p.T, now.Add(-time.Minute), now.Add(24*time.Hour), entries...)
	p.mu.Lock()
	p.CRLBytes = data
	p.mu.Unlock()
}

// IssueLeaf issues a document signing certificate pointing at the test server.
func (p *TestPKI) IssueLeaf(commonName string) (crypto.Signer, *x509.Certificate) {
	if p.Server == nil {
		Fail(p.T, "StartCRLServer() must be called before IssueLeaf")
	}
	leaf := p.Issuer().Issue(p.T, CertOptions{
		CommonName:            commonName,
		Profile:               p.Profile,
		CRLDistributionPoints: []string{p.Server.URL + "/crl"},
		OCSPServer:            []string{p.Server.URL + "/ocsp"},
		IssuingCertificateURL: []string{p.Server.URL + "/ca"},
	})
	return leaf.Key, leaf.Cert
}

// Chain returns the issuing chain of a leaf, closest issuer first, root last.
func (p *TestPKI) Chain() []*x509.Certificate {
	var chain []*x509.Certificate
	for i := len(p.Intermediates) - 1; i >= 0; i-- {
		chain = append(chain, p.Intermediates[i].Cert)
	}
	return append(chain, p.Root.Cert)
}

// Close stops the mock server.
func (p *TestPKI) Close() {
	if p.Server != nil {
		p.Server.Close()
	}
}

func Fail(t *testing.T, format string, args ...interface{}) {
	if t != nil {
		t.Helper()
		t.Fatalf(format, args...)
	} else {
		log.Fatalf(format, args...)
	}
}

func GenerateKey(t *testing.T, profile KeyProfile) crypto.Signer {
	var (
		k   crypto.Signer
		err error
	)
	switch profile {
	case RSA_2048:
		k, err = rsa.GenerateKey(rand.Reader, 2048)
	case RSA_3072:
		k, err = rsa.GenerateKey(rand.Reader, 3072)
	case ECDSA_P256, "":
		k, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case ECDSA_P384:
		k, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case ECDSA_P521:
		k, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		Fail(t, "unknown key profile: %s", profile)
	}
	if err != nil {
		Fail(t, "failed to generate %s key: %v", profile, err)
	}
	return k
}

var (
	oidOCSPNoCheck     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5}
	oidValidityAssured = asn1.ObjectIdentifier{0, 4, 0, 194121, 2, 1}
	asn1Null           = []byte{0x05, 0x00}
)

// Authority is a certificate together with its private key.
type Authority struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// CertOptions describes a certificate to generate. Zero validity bounds
// default to one year around now.
type CertOptions struct {
	CommonName            string
	Profile               KeyProfile
	NotBefore             time.Time
	NotAfter              time.Time
	IsCA                  bool
	OCSPNoCheck           bool
	ValidityAssured       bool
	ExtKeyUsage           []x509.ExtKeyUsage
	OCSPServer            []string
	CRLDistributionPoints []string
	IssuingCertificateURL []string
}

func (o CertOptions) template() *x509.Certificate {
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	notBefore, notAfter := o.NotBefore, o.NotAfter
	if notBefore.IsZero() {
		notBefore = time.Now().AddDate(-1, 0, 0)
	}
	if notAfter.IsZero() {
		notAfter = time.Now().AddDate(1, 0, 0)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   o.CommonName,
			Organization: []string{"PAdES Test Org"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		ExtKeyUsage:           o.ExtKeyUsage,
		OCSPServer:            o.OCSPServer,
		CRLDistributionPoints: o.CRLDistributionPoints,
		IssuingCertificateURL: o.IssuingCertificateURL,
		BasicConstraintsValid: true,
	}
	if o.IsCA {
		tmpl.IsCA = true
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
	}
	if o.OCSPNoCheck {
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{Id: oidOCSPNoCheck, Value: asn1Null})
	}
	if o.ValidityAssured {
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{Id: oidValidityAssured, Value: asn1Null})
	}
	return tmpl
}

// NewRoot creates a self-signed CA.
func NewRoot(t *testing.T, opts CertOptions) *Authority {
	opts.IsCA = true
	key := GenerateKey(t, opts.Profile)
	tmpl := opts.template()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		Fail(t, "failed to create root cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		Fail(t, "failed to parse root cert: %v", err)
	}
	return &Authority{Cert: cert, Key: key}
}

// Issue creates a certificate signed by a.
func (a *Authority) Issue(t *testing.T, opts CertOptions) *Authority {
	key := GenerateKey(t, opts.Profile)
	der, err := x509.CreateCertificate(rand.Reader, opts.template(), a.Cert, key.Public(), a.Key)
	if err != nil {
		Fail(t, "failed to issue %q: %v", opts.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		Fail(t, "failed to parse %q: %v", opts.CommonName, err)
	}
	return &Authority{Cert: cert, Key: key}
}

// Revoked returns a CRL entry for cert.
func Revoked(cert *x509.Certificate, at time.Time) x509.RevocationListEntry {
	return x509.RevocationListEntry{SerialNumber: cert.SerialNumber, RevocationTime: at}
}

// CRL returns a DER CRL issued by a. A zero nextUpdate is replaced by
// thisUpdate plus one day, as the encoder requires it.
func (a *Authority) CRL(t *testing.T, thisUpdate, nextUpdate time.Time, revoked ...x509.RevocationListEntry) []byte {
	if nextUpdate.IsZero() {
		nextUpdate = thisUpdate.Add(24 * time.Hour)
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<32))
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    n,
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: revoked,
	}, a.Cert, a.Key)
	if err != nil {
		Fail(t, "failed to create CRL: %v", err)
	}
	return der
}

// OCSPOptions describes an OCSP response. Responder defaults to the issuer.
type OCSPOptions struct {
	Status     int
	ThisUpdate time.Time
	NextUpdate time.Time
	RevokedAt  time.Time
	Responder  *Authority
	// EmbedResponder adds the responder certificate to the response.
	EmbedResponder bool
}

// OCSPResponse returns a DER OCSP response about cert, which a issued.
func (a *Authority) OCSPResponse(t *testing.T, cert *x509.Certificate, opts OCSPOptions) []byte {
	responder := opts.Responder
	if responder == nil {
		responder = a
	}
	next := opts.NextUpdate
	if next.IsZero() {
		next = opts.ThisUpdate.AddDate(0, 0, 30)
	}
	tmpl := ocsp.Response{
		Status:       opts.Status,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   opts.ThisUpdate,
		NextUpdate:   next,
		RevokedAt:    opts.RevokedAt,
	}
	if opts.EmbedResponder {
		tmpl.Certificate = responder.Cert
	}
	der, err := ocsp.CreateResponse(a.Cert, responder.Cert, tmpl, responder.Key)
	if err != nil {
		Fail(t, "failed to create OCSP response: %v", err)
	}
	return der
}

// ServeFiles starts an HTTP server returning the given bodies by path. Entries
// may be added to files until the first request. The server is closed when the
// test ends.
func ServeFiles(t *testing.T, files map[string][]byte) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}
