package cms

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"testing"
	"time"

	"github.com/digitorus/pades/internal/testpki"
	"github.com/digitorus/pades/revocation"
	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signContainer(t *testing.T, key crypto.Signer, chain []*x509.Certificate, digest crypto.Hash, content []byte) *Container {
	t.Helper()
	c, err := New(chain, digest)
	require.NoError(t, err)

	h := digest.New()
	h.Write(content)
	require.NoError(t, c.SetMessageDigest(h.Sum(nil)))

	attrs, err := c.SerializedSignedAttributes()
	require.NoError(t, err)
	h = digest.New()
	h.Write(attrs)
	sig, err := key.Sign(rand.Reader, h.Sum(nil), digest)
	require.NoError(t, err)
	require.NoError(t, c.SetSignature(chain[0].PublicKeyAlgorithm, sig))
	return c
}

func TestContainerVerifiesWithPKCS7(t *testing.T) {
	content := []byte("%PDF-1.7 signed byte ranges")
	tests := []struct {
		name    string
		profile testpki.KeyProfile
		digest  crypto.Hash
	}{
		{"ecdsa sha256", testpki.ECDSA_P256, crypto.SHA256},
		{"ecdsa sha512", testpki.ECDSA_P256, crypto.SHA512},
		{"ecdsa p384 sha384", testpki.ECDSA_P384, crypto.SHA384},
		{"rsa sha512", testpki.RSA_2048, crypto.SHA512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "CMS Root", Profile: tt.profile})
			leaf := root.Issue(t, testpki.CertOptions{CommonName: "CMS Signer", Profile: tt.profile})
			chain := []*x509.Certificate{leaf.Cert, root.Cert}

			c := signContainer(t, leaf.Key, chain, tt.digest, content)
			der, err := c.Marshal()
			require.NoError(t, err)

			p7, err := pkcs7.Parse(der)
			require.NoError(t, err)
			p7.Content = content
			require.NoError(t, p7.Verify())
			assert.Len(t, p7.Certificates, 2)

			p7.Content = []byte("tampered")
			assert.Error(t, p7.Verify())

			var signingTime time.Time
			assert.Error(t, p7.UnmarshalSignedAttribute(OIDAttributeSigningTime, &signingTime), "signing-time must not be present")
		})
	}
}

func TestSigningCertificateAttribute(t *testing.T) {
	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Root"})

	c, err := New([]*x509.Certificate{root.Cert}, crypto.SHA512)
	require.NoError(t, err)
	v2, ok := c.SignedAttribute(OIDAttributeSigningCertificateV2)
	require.True(t, ok)
	assert.Contains(t, string(v2), string(asn1ObjectIdentifier(t, HashOID(crypto.SHA512))))

	c, err = New([]*x509.Certificate{root.Cert}, crypto.SHA256)
	require.NoError(t, err)
	v2, ok = c.SignedAttribute(OIDAttributeSigningCertificateV2)
	require.True(t, ok)
	assert.NotContains(t, string(v2), string(asn1ObjectIdentifier(t, HashOID(crypto.SHA256))))

	c, err = New([]*x509.Certificate{root.Cert}, crypto.SHA1)
	require.NoError(t, err)
	_, ok = c.SignedAttribute(OIDAttributeSigningCertificate)
	assert.True(t, ok)
}

func asn1ObjectIdentifier(t *testing.T, oid asn1.ObjectIdentifier) []byte {
	b, err := asn1.Marshal(oid)
	require.NoError(t, err)
	return b
}

func TestParseContainer(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	defer pki.Close()
	key, leaf := pki.IssueLeaf("Parse Signer")
	chain := append([]*x509.Certificate{leaf}, pki.Chain()...)

	content := []byte("document")
	c := signContainer(t, key, chain, crypto.SHA256, content)

	var archival revocation.InfoArchival
	require.NoError(t, archival.AddCRL(pki.CRLBytes))
	require.NoError(t, c.SetRevocationInfoArchival(&archival))
	require.NoError(t, c.SetRevocationInfoArchival(&revocation.InfoArchival{}))
	c.CRLs = [][]byte{pki.CRLBytes}

	// Re-sign since the archival attribute is signed.
	attrs, err := c.SerializedSignedAttributes()
	require.NoError(t, err)
	h := crypto.SHA256.New()
	h.Write(attrs)
	sig, err := key.Sign(rand.Reader, h.Sum(nil), crypto.SHA256)
	require.NoError(t, err)
	require.NoError(t, c.SetSignature(x509.ECDSA, sig))

	authority := testpki.NewTSA(t, pki.Root)
	imprint := crypto.SHA256.New()
	imprint.Write(sig)
	token, err := authority.TimestampToken(context.Background(), imprint.Sum(nil))
	require.NoError(t, err)
	c.AddTimestampToken(token)

	der, err := c.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(append(der, make([]byte, 64)...))
	require.NoError(t, err)
	assert.Equal(t, crypto.SHA256, parsed.DigestAlgorithm)
	assert.True(t, parsed.SigningCertificate.Equal(leaf))
	assert.Len(t, parsed.Certificates, len(chain))
	assert.Equal(t, c.MessageDigest(), parsed.MessageDigest())
	assert.Equal(t, sig, parsed.Signature)
	assert.Equal(t, token, parsed.TimestampToken())
	assert.Equal(t, [][]byte{pki.CRLBytes}, parsed.CRLs)
	assert.Len(t, parsed.SignedAttributes(), 4)

	again, err := parsed.Marshal()
	require.NoError(t, err)
	assert.Equal(t, der, again)

	data, err := ParseSignatureData(append(der, 0, 0, 0), false)
	require.NoError(t, err)
	require.NoError(t, data.Verify(content))
	assert.ErrorIs(t, data.Verify([]byte("other")), ErrDigestMismatch)
	require.NoError(t, data.VerifyTimestampImprint())
	_, ok := data.TimestampDate()
	assert.True(t, ok)
	assert.NotEmpty(t, data.TimestampCertificates())
	assert.Len(t, data.AllCRLs(), 2)
	assert.Empty(t, data.OCSPResponses())
}

func TestDocumentTimestampData(t *testing.T) {
	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "TSA Root"})
	authority := testpki.NewTSA(t, root)

	document := []byte("whole revision")
	h := crypto.SHA256.New()
	h.Write(document)
	token, err := authority.TimestampToken(context.Background(), h.Sum(nil))
	require.NoError(t, err)

	data, err := ParseSignatureData(token, true)
	require.NoError(t, err)
	assert.True(t, data.DocumentTimestamp)
	require.NoError(t, data.Verify(document))
	assert.ErrorIs(t, data.Verify([]byte("changed")), ErrDigestMismatch)
	assert.ErrorIs(t, data.VerifyTimestampImprint(), ErrNoTimestamp)
	assert.True(t, data.SigningCertificate.Equal(authority.Cert))
}

func TestTimestampImprintMismatch(t *testing.T) {
	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Root"})
	leaf := root.Issue(t, testpki.CertOptions{CommonName: "Signer"})
	c := signContainer(t, leaf.Key, []*x509.Certificate{leaf.Cert}, crypto.SHA256, []byte("x"))

	authority := testpki.NewTSA(t, root)
	other := crypto.SHA256.New()
	other.Write([]byte("not the signature"))
	token, err := authority.TimestampToken(context.Background(), other.Sum(nil))
	require.NoError(t, err)
	c.AddTimestampToken(token)

	der, err := c.Marshal()
	require.NoError(t, err)
	data, err := ParseSignatureData(der, false)
	require.NoError(t, err)
	assert.ErrorIs(t, data.VerifyTimestampImprint(), ErrTimestampMismatch)
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, crypto.SHA256)
	assert.ErrorIs(t, err, ErrNoSigningCertificate)

	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Root"})
	_, err = New([]*x509.Certificate{root.Cert}, crypto.MD5)
	assert.Error(t, err)

	_, err = Parse([]byte{0x30, 0x03, 0x06, 0x01, 0x00})
	assert.Error(t, err)
}

func TestHashNames(t *testing.T) {
	tests := []struct {
		name string
		want crypto.Hash
		ok   bool
	}{
		{"SHA256", crypto.SHA256, true},
		{"sha-256", crypto.SHA256, true},
		{"SHA-512", crypto.SHA512, true},
		{" sha384 ", crypto.SHA384, true},
		{"SHA1", crypto.SHA1, true},
		{"MD5", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := HashByName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	assert.Equal(t, "SHA-512", HashName(crypto.SHA512))
	assert.Equal(t, crypto.SHA384, HashFromOID(HashOID(crypto.SHA384)))
	assert.Equal(t, crypto.Hash(0), HashFromOID(asn1.ObjectIdentifier{1, 2, 3}))

	_, err := SignatureAlgorithmOID(x509.DSA, crypto.SHA256)
	assert.Error(t, err)
	oid, err := SignatureAlgorithmOID(x509.ECDSA, crypto.SHA512)
	require.NoError(t, err)
	assert.Equal(t, asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}, oid)
}
