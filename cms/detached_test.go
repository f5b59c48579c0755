package cms

import (
	"context"
	"crypto"
	"crypto/x509"
	"testing"
	"time"

	"github.com/digitorus/pades/internal/testpki"
	"github.com/digitorus/pades/revocation"
	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignDetached(t *testing.T) {
	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Detached Root"})
	intermediate := root.Issue(t, testpki.CertOptions{CommonName: "Detached CA", IsCA: true})
	leaf := intermediate.Issue(t, testpki.CertOptions{CommonName: "Detached Signer"})
	chain := []*x509.Certificate{leaf.Cert, intermediate.Cert, root.Cert}
	authority := testpki.NewTSA(t, root)
	content := []byte("%PDF-1.7 signed byte ranges")

	crl := intermediate.CRL(t, time.Now(), time.Time{})
	var archival revocation.InfoArchival
	require.NoError(t, archival.AddCRL(crl))
	attr, ok, err := RevocationArchivalAttribute(&archival)
	require.NoError(t, err)
	require.True(t, ok)

	var stamped []byte
	stamp := func(value []byte) ([]byte, error) {
		stamped = value
		h := crypto.SHA256.New()
		h.Write(value)
		return authority.TimestampToken(context.Background(), h.Sum(nil))
	}

	der, err := SignDetached(content, chain, crypto.SHA384, leaf.Key, []Attribute{attr}, stamp)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	assert.Empty(t, p7.Content, "the container is detached")
	p7.Content = content
	require.NoError(t, p7.Verify())
	assert.Len(t, p7.Certificates, 3)

	data, err := ParseSignatureData(der, false)
	require.NoError(t, err)
	require.NoError(t, data.Verify(content))
	assert.Equal(t, crypto.SHA384, data.DigestAlgorithm)
	assert.True(t, data.SigningCertificate.Equal(leaf.Cert))
	_, ok = data.SignedAttribute(OIDAttributeSigningCertificateV2)
	assert.True(t, ok)
	assert.Equal(t, [][]byte{crl}, data.AllCRLs())

	require.NotNil(t, data.Timestamp)
	assert.Equal(t, data.Signature, stamped)
	assert.NoError(t, data.VerifyTimestampImprint())
}

func TestSignDetachedUnorderedChain(t *testing.T) {
	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Root"})
	other := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Unrelated Root"})
	leaf := root.Issue(t, testpki.CertOptions{CommonName: "Signer"})
	content := []byte("document")

	for name, chain := range map[string][]*x509.Certificate{
		"leaf only": {leaf.Cert},
		"unrelated": {leaf.Cert, other.Cert},
		"reversed":  {leaf.Cert, other.Cert, root.Cert},
	} {
		t.Run(name, func(t *testing.T) {
			der, err := SignDetached(content, chain, crypto.SHA256, leaf.Key, nil, nil)
			require.NoError(t, err)

			p7, err := pkcs7.Parse(der)
			require.NoError(t, err)
			p7.Content = content
			require.NoError(t, p7.Verify())
			assert.Len(t, p7.Certificates, len(chain))

			data, err := ParseSignatureData(der, false)
			require.NoError(t, err)
			assert.True(t, data.SigningCertificate.Equal(leaf.Cert))
			assert.Nil(t, data.Timestamp)
		})
	}
}

func TestSignDetachedErrors(t *testing.T) {
	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Root"})

	_, err := SignDetached([]byte("x"), nil, crypto.SHA256, root.Key, nil, nil)
	assert.ErrorIs(t, err, ErrNoSigningCertificate)

	assert.False(t, SupportsDetached(crypto.SHA224))
	assert.True(t, SupportsDetached(crypto.SHA512))
	_, err = SignDetached([]byte("x"), []*x509.Certificate{root.Cert}, crypto.SHA224, root.Key, nil, nil)
	assert.Error(t, err)

	_, err = SignDetached([]byte("x"), []*x509.Certificate{root.Cert}, crypto.SHA256, root.Key, nil,
		func([]byte) ([]byte, error) { return nil, assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}
