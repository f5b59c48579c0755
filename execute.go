package pades

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/revocation"
	"github.com/digitorus/pades/sign"
	"github.com/digitorus/pades/tsa"
	"github.com/sirupsen/logrus"
)

// DefaultTimestampFieldPrefix names document time-stamp fields
// timestampSig1, timestampSig2...
const DefaultTimestampFieldPrefix = "timestampSig"

// pipeline runs the stages shared by PdfPadesSigner and
// PadesTwoPhaseSigningHelper: signature time-stamp, validation data and
// document time-stamp.
type pipeline struct {
	ocsp                   revocation.OCSPClient
	crl                    revocation.CRLClient
	retriever              *certs.IssuingCertificateRetriever
	timestampSignatureName string
	stage                  staging
	// estimatedSize overrides the /Contents reservation of signatures.
	estimatedSize int
	// embedRevocation adds the revocation data of the signer chain to the
	// adbe-revocationInfoArchival signed attribute.
	embedRevocation bool
}

func (p *pipeline) ocspClient() revocation.OCSPClient {
	if p.ocsp == nil {
		p.ocsp = revocation.NewOnlineOCSPClient()
	}
	return p.ocsp
}

func (p *pipeline) crlClient() revocation.CRLClient {
	if p.crl == nil {
		p.crl = revocation.NewOnlineCRLClient()
	}
	return p.crl
}

func (p *pipeline) issuers() *certs.IssuingCertificateRetriever {
	if p.retriever == nil {
		p.retriever = certs.NewIssuingCertificateRetriever()
	}
	return p.retriever
}

// completeChain returns chain extended up to a self-signed certificate.
func (p *pipeline) completeChain(ctx context.Context, chain []*x509.Certificate) []*x509.Certificate {
	return p.issuers().RetrieveMissingCertificates(ctx, chain)
}

// contentsSize returns the /Contents reservation for a signature by
// chain[0].
func (p *pipeline) contentsSize(chain []*x509.Certificate, digest crypto.Hash, client tsa.Client, archival *revocation.InfoArchival) int {
	if p.estimatedSize > 0 {
		return p.estimatedSize
	}
	est := sign.SizeEstimate{Chain: chain, Digest: digest}
	if archival != nil {
		est.Revocation = append(archival.CRLs(), archival.OCSPResponses()...)
	}
	if len(chain) > 0 {
		est.PublicKey = chain[0].PublicKey
	}
	if client != nil {
		est.TimestampSize = client.TokenSizeEstimate()
	}
	return sign.EstimateContentsSize(est)
}

// signContainer computes the signature value of container and, when client
// is set, adds a time-stamp over it. It returns the encoded container.
func signContainer(ctx context.Context, container *cms.Container, signature ExternalSignature, client tsa.Client) ([]byte, error) {
	attrs, err := container.SerializedSignedAttributes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed attributes: %w", err)
	}
	value, err := signature.Sign(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if err := container.SetSignature(signature.EncryptionAlgorithm(), value); err != nil {
		return nil, err
	}

	if client != nil {
		token, err := signatureTimestamp(ctx, client, value)
		if err != nil {
			return nil, err
		}
		container.AddTimestampToken(token)
	}

	der, err := container.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signature container: %w", err)
	}
	return der, nil
}

// signatureTimestamp returns a time-stamp token over a signature value.
func signatureTimestamp(ctx context.Context, client tsa.Client, value []byte) ([]byte, error) {
	h := client.Hash().New()
	h.Write(value)
	token, err := client.TimestampToken(ctx, h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to obtain signature time-stamp: %w", err)
	}
	return token, nil
}

// detachedContainer returns the encoded container over the signed bytes of
// a prepared signature. DigestSigners are signed through pkcs7, other
// signatures through a cms.Container.
func detachedContainer(ctx context.Context, content []byte, chain []*x509.Certificate, signature ExternalSignature, client tsa.Client, archival *revocation.InfoArchival) ([]byte, error) {
	digest := signature.DigestAlgorithm()
	ds, ok := signature.(DigestSigner)
	if !ok || !cms.SupportsDetached(digest) {
		container, err := cms.New(chain, digest)
		if err != nil {
			return nil, err
		}
		h := digest.New()
		h.Write(content)
		if err := container.SetMessageDigest(h.Sum(nil)); err != nil {
			return nil, err
		}
		if err := container.SetRevocationInfoArchival(archival); err != nil {
			return nil, err
		}
		return signContainer(ctx, container, signature, client)
	}

	var extra []cms.Attribute
	if attr, ok, err := cms.RevocationArchivalAttribute(archival); err != nil {
		return nil, err
	} else if ok {
		extra = append(extra, attr)
	}
	var stamp cms.TimestampFunc
	if client != nil {
		stamp = func(value []byte) ([]byte, error) {
			return signatureTimestamp(ctx, client, value)
		}
	}
	der, err := cms.SignDetached(content, chain, digest, &externalSigner{pub: chain[0].PublicKey, sig: ds}, extra, stamp)
	if err != nil {
		return nil, fmt.Errorf("failed to build signature container: %w", err)
	}
	return der, nil
}

// revocationArchival collects revocation data for every certificate of
// chain that needs it. It returns nil unless embedding is enabled.
func (p *pipeline) revocationArchival(ctx context.Context, chain []*x509.Certificate) (*revocation.InfoArchival, error) {
	if !p.embedRevocation {
		return nil, nil
	}
	archival := &revocation.InfoArchival{}
	for i, cert := range chain {
		if certs.IsSelfSigned(cert) || revocation.HasNoCheck(cert) {
			continue
		}
		var issuer *x509.Certificate
		if i+1 < len(chain) {
			issuer = chain[i+1]
		}
		resp, crls := p.fetchRevocation(ctx, cert, issuer)
		if resp != nil {
			if err := archival.AddOCSP(resp); err != nil {
				return nil, fmt.Errorf("embedding OCSP response of %s: %w", cert.Subject, err)
			}
			continue
		}
		for _, crl := range crls {
			if err := archival.AddCRL(crl); err != nil {
				return nil, fmt.Errorf("embedding CRL of %s: %w", cert.Subject, err)
			}
		}
	}
	logging.WithComponent("ltv").WithFields(logrus.Fields{
		"ocsp": len(archival.OCSP),
		"crl":  len(archival.CRL),
	}).Debug("collected revocation data for the signed attributes")
	return archival, nil
}

// extend runs the stages after B on a signed document: validation data for
// fieldName from LT on, and a document time-stamp for LTA.
func (p *pipeline) extend(ctx context.Context, data []byte, profile Profile, fieldName string, client tsa.Client) ([]byte, error) {
	var err error
	if profile >= PAdES_B_LT {
		if data, err = p.stage.keep(data); err != nil {
			return nil, err
		}
		if data, err = p.addValidationData(ctx, data, fieldName); err != nil {
			return nil, err
		}
	}
	if profile >= PAdES_B_LTA {
		if data, err = p.stage.keep(data); err != nil {
			return nil, err
		}
		if data, err = p.addDocumentTimestamp(ctx, data, client); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// addValidationData appends a DSS holding the certificates and revocation
// data of the named signatures, or of every signature when none is named.
func (p *pipeline) addValidationData(ctx context.Context, data []byte, fieldNames ...string) ([]byte, error) {
	doc, err := sign.Open(data)
	if err != nil {
		return nil, err
	}
	sigs, err := doc.Signatures()
	if err != nil {
		return nil, err
	}

	dss := sign.NewDSS()
	for _, s := range sigs {
		if len(fieldNames) > 0 && !slices.Contains(fieldNames, s.FieldName) {
			continue
		}
		if err := p.addVerification(ctx, dss, s); err != nil {
			return nil, err
		}
	}
	if dss.IsEmpty() {
		return data, nil
	}

	out, err := sign.AddDSS(doc, dss)
	if err != nil {
		return nil, fmt.Errorf("failed to add DSS: %w", err)
	}
	logging.WithComponent("ltv").WithFields(logrus.Fields{
		"certificates": len(dss.Certs),
		"ocsp":         len(dss.OCSPs),
		"crl":          len(dss.CRLs),
	}).Debug("added validation data")
	return out, nil
}

// addVerification adds the chains of the signer and of the signature
// time-stamp with their revocation data to the VRI entry of s.
func (p *pipeline) addVerification(ctx context.Context, dss *sign.DSS, s sign.Signature) error {
	sd, err := cms.ParseSignatureData(s.Contents, s.IsDocumentTimestamp())
	if err != nil {
		return fmt.Errorf("signature %s: %w", s.FieldName, err)
	}
	p.issuers().AddKnownCertificates(sd.Certificates)
	p.issuers().AddKnownCertificates(sd.TimestampCertificates())

	var leaves []*x509.Certificate
	if sd.SigningCertificate != nil {
		leaves = append(leaves, sd.SigningCertificate)
	}
	if !sd.DocumentTimestamp {
		if c := timestampSigner(sd.TimestampCertificates()); c != nil {
			leaves = append(leaves, c)
		}
	}

	vri := dss.Entry(s.VRIKey())
	seen := map[string]bool{}
	for _, leaf := range leaves {
		chain := p.completeChain(ctx, []*x509.Certificate{leaf})
		for i, cert := range chain {
			if seen[string(cert.Raw)] {
				continue
			}
			seen[string(cert.Raw)] = true
			vri.AddCertificate(dss, cert.Raw)

			if certs.IsSelfSigned(cert) || revocation.HasNoCheck(cert) {
				continue
			}
			var issuer *x509.Certificate
			if i+1 < len(chain) {
				issuer = chain[i+1]
			}
			p.addRevocation(ctx, dss, vri, cert, issuer)
		}
	}
	return nil
}

// addRevocation adds an OCSP response for cert, or its CRLs when no OCSP
// response can be obtained.
func (p *pipeline) addRevocation(ctx context.Context, dss *sign.DSS, vri *sign.VRI, cert, issuer *x509.Certificate) {
	resp, crls := p.fetchRevocation(ctx, cert, issuer)
	if resp != nil {
		vri.AddOCSP(dss, resp)
		return
	}
	for _, crl := range crls {
		vri.AddCRL(dss, crl)
	}
}

// fetchRevocation returns an OCSP response for cert or, when none can be
// obtained, its CRLs.
func (p *pipeline) fetchRevocation(ctx context.Context, cert, issuer *x509.Certificate) ([]byte, [][]byte) {
	log := logging.WithComponent("ltv").WithFields(logrus.Fields{
		"subject": cert.Subject.String(),
		"serial":  cert.SerialNumber.String(),
	})

	if issuer != nil {
		resp, err := p.ocspClient().GetEncoded(ctx, cert, issuer, "")
		if err == nil && len(resp) > 0 {
			return resp, nil
		}
		if err != nil {
			log.WithError(err).Debug("no OCSP response, trying CRL")
		}
	}

	crls, err := p.crlClient().GetEncoded(ctx, cert, "")
	if err != nil || len(crls) == 0 {
		log.WithError(err).Warn("no revocation data found")
		return nil, nil
	}
	return nil, crls
}

// timestampSigner picks the time stamping certificate among the
// certificates of a time-stamp token.
func timestampSigner(list []*x509.Certificate) *x509.Certificate {
	for _, c := range list {
		if slices.Contains(c.ExtKeyUsage, x509.ExtKeyUsageTimeStamping) {
			return c
		}
	}
	if len(list) > 0 {
		return list[0]
	}
	return nil
}

// addDocumentTimestamp appends a /DocTimeStamp signature over data.
func (p *pipeline) addDocumentTimestamp(ctx context.Context, data []byte, client tsa.Client) ([]byte, error) {
	if client == nil {
		return nil, ErrTSAClientIsMissing
	}
	doc, err := sign.Open(data)
	if err != nil {
		return nil, err
	}
	name := p.timestampSignatureName
	if name == "" {
		name = doc.NextFieldName(DefaultTimestampFieldPrefix)
	}

	size := client.TokenSizeEstimate()
	for attempt := 0; ; attempt++ {
		prepared, err := sign.Prepare(doc, sign.SignatureOptions{
			FieldName:         name,
			DocumentTimestamp: true,
			ContentsSize:      size,
		})
		if err != nil {
			return nil, err
		}
		token, err := client.TimestampToken(ctx, prepared.Digest(client.Hash()))
		if err != nil {
			return nil, fmt.Errorf("failed to obtain document time-stamp: %w", err)
		}
		err = prepared.Embed(token)
		if errors.Is(err, sign.ErrSignatureTooLarge) && attempt == 0 {
			size = len(token) + 1024
			continue
		}
		if err != nil {
			return nil, err
		}
		logging.WithComponent("pades").WithField("field", name).Debug("added document time-stamp")
		return prepared.Data, nil
	}
}
