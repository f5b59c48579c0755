package pades

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/metrics"
	"github.com/digitorus/pades/revocation"
	"github.com/digitorus/pades/sign"
	"github.com/digitorus/pades/tsa"
	"github.com/sirupsen/logrus"
)

// PdfPadesSigner signs one document with a PAdES baseline profile. A signer
// is used for a single signing or prolongation call.
type PdfPadesSigner struct {
	input  io.ReadSeeker
	output io.Writer

	pipeline
	stamping StampingProperties
}

// NewPdfPadesSigner returns a signer reading the document from input and
// writing the result to output.
func NewPdfPadesSigner(input io.ReadSeeker, output io.Writer) *PdfPadesSigner {
	return &PdfPadesSigner{input: input, output: output}
}

// SetTemporaryDirectoryPath keeps the intermediate revisions in files of
// dir instead of memory. The files are removed when signing returns.
func (s *PdfPadesSigner) SetTemporaryDirectoryPath(dir string) *PdfPadesSigner {
	s.stage.dir = dir
	return s
}

// SetTimestampSignatureName names the document time-stamp field added by
// the LTA profile.
func (s *PdfPadesSigner) SetTimestampSignatureName(name string) *PdfPadesSigner {
	s.timestampSignatureName = name
	return s
}

func (s *PdfPadesSigner) SetOCSPClient(c revocation.OCSPClient) *PdfPadesSigner {
	s.ocsp = c
	return s
}

func (s *PdfPadesSigner) SetCRLClient(c revocation.CRLClient) *PdfPadesSigner {
	s.crl = c
	return s
}

// SetIssuingCertificateRetriever sets the retriever completing certificate
// chains before validation data is collected.
func (s *PdfPadesSigner) SetIssuingCertificateRetriever(r *certs.IssuingCertificateRetriever) *PdfPadesSigner {
	s.retriever = r
	return s
}

func (s *PdfPadesSigner) SetStampingProperties(p StampingProperties) *PdfPadesSigner {
	s.stamping = p
	return s
}

// SetEstimatedSize sets the number of bytes reserved for the signature
// container instead of estimating it from the chain.
func (s *PdfPadesSigner) SetEstimatedSize(size int) *PdfPadesSigner {
	s.estimatedSize = size
	return s
}

// SetEmbedRevocationInfo adds the OCSP responses or CRLs of the signer
// chain to the signed adbe-revocationInfoArchival attribute of the CMS
// container, next to the DSS of the LT profiles.
func (s *PdfPadesSigner) SetEmbedRevocationInfo(embed bool) *PdfPadesSigner {
	s.embedRevocation = embed
	return s
}

// SignWithBaselineBProfile signs the document with PAdES B-B.
func (s *PdfPadesSigner) SignWithBaselineBProfile(ctx context.Context, props SignerProperties, chain []*x509.Certificate, signature ExternalSignature) error {
	return s.sign(ctx, PAdES_B, props, chain, signature, nil)
}

// SignWithBaselineTProfile signs the document with PAdES B-T.
func (s *PdfPadesSigner) SignWithBaselineTProfile(ctx context.Context, props SignerProperties, chain []*x509.Certificate, signature ExternalSignature, client tsa.Client) error {
	return s.sign(ctx, PAdES_B_T, props, chain, signature, client)
}

// SignWithBaselineLTProfile signs the document with PAdES B-LT.
func (s *PdfPadesSigner) SignWithBaselineLTProfile(ctx context.Context, props SignerProperties, chain []*x509.Certificate, signature ExternalSignature, client tsa.Client) error {
	return s.sign(ctx, PAdES_B_LT, props, chain, signature, client)
}

// SignWithBaselineLTAProfile signs the document with PAdES B-LTA.
func (s *PdfPadesSigner) SignWithBaselineLTAProfile(ctx context.Context, props SignerProperties, chain []*x509.Certificate, signature ExternalSignature, client tsa.Client) error {
	return s.sign(ctx, PAdES_B_LTA, props, chain, signature, client)
}

// SignWithBaselineBProfileWithSigner signs with key using SHA-512.
func (s *PdfPadesSigner) SignWithBaselineBProfileWithSigner(ctx context.Context, props SignerProperties, chain []*x509.Certificate, key crypto.Signer) error {
	return s.signWithKey(ctx, PAdES_B, props, chain, key, nil)
}

// SignWithBaselineTProfileWithSigner signs with key using SHA-512.
func (s *PdfPadesSigner) SignWithBaselineTProfileWithSigner(ctx context.Context, props SignerProperties, chain []*x509.Certificate, key crypto.Signer, client tsa.Client) error {
	return s.signWithKey(ctx, PAdES_B_T, props, chain, key, client)
}

// SignWithBaselineLTProfileWithSigner signs with key using SHA-512.
func (s *PdfPadesSigner) SignWithBaselineLTProfileWithSigner(ctx context.Context, props SignerProperties, chain []*x509.Certificate, key crypto.Signer, client tsa.Client) error {
	return s.signWithKey(ctx, PAdES_B_LT, props, chain, key, client)
}

// SignWithBaselineLTAProfileWithSigner signs with key using SHA-512.
func (s *PdfPadesSigner) SignWithBaselineLTAProfileWithSigner(ctx context.Context, props SignerProperties, chain []*x509.Certificate, key crypto.Signer, client tsa.Client) error {
	return s.signWithKey(ctx, PAdES_B_LTA, props, chain, key, client)
}

func (s *PdfPadesSigner) signWithKey(ctx context.Context, profile Profile, props SignerProperties, chain []*x509.Certificate, key crypto.Signer, client tsa.Client) error {
	if profile.needsTimestamp() && client == nil {
		return ErrTSAClientIsMissing
	}
	if len(chain) > 0 {
		if err := sign.ValidateSignerCertificateMatch(key, chain[0]); err != nil {
			return err
		}
	}
	signature, err := NewPrivateKeySignature(key, DefaultDigestAlgorithm)
	if err != nil {
		return err
	}
	return s.sign(ctx, profile, props, chain, signature, client)
}

func (s *PdfPadesSigner) sign(ctx context.Context, profile Profile, props SignerProperties, chain []*x509.Certificate, signature ExternalSignature, client tsa.Client) error {
	if profile.needsTimestamp() && client == nil {
		return ErrTSAClientIsMissing
	}
	if signature == nil {
		return sign.ErrNilSigner
	}
	if len(chain) == 0 {
		return cms.ErrNoSigningCertificate
	}
	if profile < PAdES_B_T {
		client = nil
	}
	defer s.stage.cleanup()

	data, err := readAll(s.input)
	if err != nil {
		return err
	}
	if profile >= PAdES_B_LT || s.embedRevocation {
		chain = s.completeChain(ctx, chain)
	}
	archival, err := s.revocationArchival(ctx, chain)
	if err != nil {
		return err
	}

	opts := props.options()
	opts.CertificationLevel = s.stamping.CertificationLevel
	opts.ContentsSize = s.contentsSize(chain, signature.DigestAlgorithm(), client, archival)

	signed, err := s.signDocument(ctx, data, opts, chain, signature, client, archival)
	if err != nil {
		return err
	}

	out, err := s.extend(ctx, signed.Data, profile, signed.FieldName, client)
	if err != nil {
		return err
	}
	if err := writeAll(s.output, out); err != nil {
		return err
	}

	metrics.SignatureWritten(profile.String())
	logging.WithComponent("pades").WithFields(logrus.Fields{
		"profile": profile.String(),
		"field":   signed.FieldName,
		"signer":  chain[0].Subject.String(),
	}).Info("document signed")
	return nil
}

// signDocument prepares the signature field and embeds the container. When
// the container exceeds the estimate the document is prepared again with
// the actual size.
func (s *PdfPadesSigner) signDocument(ctx context.Context, data []byte, opts sign.SignatureOptions, chain []*x509.Certificate, signature ExternalSignature, client tsa.Client, archival *revocation.InfoArchival) (*sign.Prepared, error) {
	doc, err := sign.Open(data)
	if err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		prepared, err := sign.Prepare(doc, opts)
		if err != nil {
			return nil, err
		}
		der, err := detachedContainer(ctx, prepared.SignedBytes(), chain, signature, client, archival)
		if err != nil {
			return nil, err
		}

		err = prepared.Embed(der)
		if errors.Is(err, sign.ErrSignatureTooLarge) && attempt == 0 {
			logging.WithComponent("pades").WithFields(logrus.Fields{
				"reserved": opts.ContentsSize,
				"actual":   len(der),
			}).Debug("signature larger than reserved, retrying")
			opts.ContentsSize = len(der) + sign.DefaultSignatureSize
			continue
		}
		if err != nil {
			return nil, err
		}
		return prepared, nil
	}
}

// ProlongSignatures adds validation data for every signature of the
// document and, when client is set, a document time-stamp over it.
func (s *PdfPadesSigner) ProlongSignatures(ctx context.Context, client tsa.Client) error {
	defer s.stage.cleanup()

	data, err := readAll(s.input)
	if err != nil {
		return err
	}
	doc, err := sign.Open(data)
	if err != nil {
		return err
	}
	sigs, err := doc.Signatures()
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return fmt.Errorf("document has no signatures to prolong")
	}

	if data, err = s.addValidationData(ctx, data); err != nil {
		return err
	}
	if client != nil {
		if data, err = s.stage.keep(data); err != nil {
			return err
		}
		if data, err = s.addDocumentTimestamp(ctx, data, client); err != nil {
			return err
		}
	}
	if err := writeAll(s.output, data); err != nil {
		return err
	}
	logging.WithComponent("pades").WithFields(logrus.Fields{
		"signatures": len(sigs),
		"timestamp":  client != nil,
	}).Info("signatures prolonged")
	return nil
}
