package revocation

import (
	"context"
	"encoding/asn1"
	"testing"
	"time"

	"github.com/digitorus/pades/internal/testpki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

func TestInfoArchival(t *testing.T) {
	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Root"})
	revoked := root.Issue(t, testpki.CertOptions{CommonName: "revoked"})
	other := root.Issue(t, testpki.CertOptions{CommonName: "other"})

	now := time.Now().UTC().Truncate(time.Second)
	crl := root.CRL(t, now, now.Add(time.Hour), testpki.Revoked(revoked.Cert, now.Add(-time.Hour)))
	resp := root.OCSPResponse(t, other.Cert, testpki.OCSPOptions{Status: ocsp.Revoked, ThisUpdate: now, RevokedAt: now.Add(-2 * time.Hour)})

	var info InfoArchival
	require.NoError(t, info.AddCRL(crl))
	require.NoError(t, info.AddOCSP(resp))
	assert.Error(t, info.AddCRL([]byte("crl")))
	assert.Error(t, info.AddOCSP([]byte("ocsp")))
	assert.Equal(t, [][]byte{crl}, info.CRLs())
	assert.Equal(t, [][]byte{resp}, info.OCSPResponses())

	// The attribute must survive a DER round trip as it is embedded in CMS.
	der, err := asn1.Marshal(info)
	require.NoError(t, err)
	var decoded InfoArchival
	_, err = asn1.Unmarshal(der, &decoded)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{crl}, decoded.CRLs())
	assert.Equal(t, [][]byte{resp}, decoded.OCSPResponses())
}

func TestParseOCSP(t *testing.T) {
	root := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Root"})
	other := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Other Root"})
	leaf := root.Issue(t, testpki.CertOptions{CommonName: "leaf"})
	responder := root.Issue(t, testpki.CertOptions{CommonName: "responder", OCSPNoCheck: true})

	now := time.Now().UTC().Truncate(time.Second)
	raw := root.OCSPResponse(t, leaf.Cert, testpki.OCSPOptions{
		Status:         ocsp.Good,
		ThisUpdate:     now,
		Responder:      responder,
		EmbedResponder: true,
	})

	resp, err := ParseOCSP(raw, leaf.Cert)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Good, resp.Status)
	assert.True(t, resp.IssuedBy(root.Cert))
	assert.False(t, resp.IssuedBy(other.Cert))
	assert.True(t, resp.ThisUpdateTime().Equal(now))
	assert.True(t, resp.ArchiveCutoff.IsZero())
	require.NotNil(t, resp.Certificate)
	assert.True(t, HasNoCheck(resp.Certificate))
	assert.False(t, HasNoCheck(leaf.Cert))

	_, err = ParseOCSP(raw, responder.Cert)
	assert.Error(t, err, "response does not cover the responder")
}

func TestOnlineClients(t *testing.T) {
	pki := testpki.NewTestPKI(t)
	pki.StartCRLServer()
	defer pki.Close()

	_, leaf := pki.IssueLeaf("Online Client Test")
	issuer := pki.Issuer().Cert
	ctx := context.Background()

	ocspClient := NewOnlineOCSPClient()
	raw, err := ocspClient.GetEncoded(ctx, leaf, issuer, "")
	require.NoError(t, err)
	resp, err := ParseOCSP(raw, leaf)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Good, resp.Status)

	_, err = ocspClient.GetEncoded(ctx, leaf, issuer, "")
	require.NoError(t, err)
	assert.Equal(t, 1, pki.OCSPRequests, "second request is served from the cache")

	post := &OnlineOCSPClient{ForcePOST: true}
	_, err = post.GetEncoded(ctx, leaf, issuer, "")
	require.NoError(t, err)
	assert.Equal(t, 2, pki.OCSPRequests)

	_, err = ocspClient.GetEncoded(ctx, leaf, nil, "")
	assert.ErrorIs(t, err, ErrIssuerRequired)
	_, err = ocspClient.GetEncoded(ctx, issuer, pki.Root.Cert, "")
	assert.ErrorIs(t, err, ErrNoOCSPURL)

	crlClient := NewOnlineCRLClient()
	crls, err := crlClient.GetEncoded(ctx, leaf, "")
	require.NoError(t, err)
	require.Len(t, crls, 1)
	assert.Equal(t, pki.CRLBytes, crls[0])

	_, err = crlClient.GetEncoded(ctx, leaf, "")
	require.NoError(t, err)
	assert.Equal(t, 1, pki.Requests)

	_, err = crlClient.GetEncoded(ctx, issuer, "")
	assert.ErrorIs(t, err, ErrNoCRLURL)

	_, err = (&OnlineCRLClient{}).GetEncoded(ctx, nil, pki.Server.URL+"/missing")
	assert.Error(t, err)
}
