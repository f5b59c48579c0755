package pades

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/metrics"
	"github.com/digitorus/pades/revocation"
	"github.com/digitorus/pades/sign"
	"github.com/digitorus/pades/tsa"
	"github.com/sirupsen/logrus"
)

// ErrMessageDigestMismatch is returned when the prepared document does not
// match the message digest of the CMS container.
var ErrMessageDigestMismatch = errors.New("prepared document does not match the message digest of the CMS container")

// PadesTwoPhaseSigningHelper signs in two steps: a prepared document and an
// unsigned CMS container are produced first, the signature value is added
// later, possibly by another process holding the key.
type PadesTwoPhaseSigningHelper struct {
	pipeline
	tsa      tsa.Client
	stamping StampingProperties
}

func NewPadesTwoPhaseSigningHelper() *PadesTwoPhaseSigningHelper {
	return &PadesTwoPhaseSigningHelper{}
}

func (h *PadesTwoPhaseSigningHelper) SetTSAClient(c tsa.Client) *PadesTwoPhaseSigningHelper {
	h.tsa = c
	return h
}

func (h *PadesTwoPhaseSigningHelper) SetOCSPClient(c revocation.OCSPClient) *PadesTwoPhaseSigningHelper {
	h.ocsp = c
	return h
}

func (h *PadesTwoPhaseSigningHelper) SetCRLClient(c revocation.CRLClient) *PadesTwoPhaseSigningHelper {
	h.crl = c
	return h
}

func (h *PadesTwoPhaseSigningHelper) SetTimestampSignatureName(name string) *PadesTwoPhaseSigningHelper {
	h.timestampSignatureName = name
	return h
}

func (h *PadesTwoPhaseSigningHelper) SetTemporaryDirectoryPath(dir string) *PadesTwoPhaseSigningHelper {
	h.stage.dir = dir
	return h
}

func (h *PadesTwoPhaseSigningHelper) SetIssuingCertificateRetriever(r *certs.IssuingCertificateRetriever) *PadesTwoPhaseSigningHelper {
	h.retriever = r
	return h
}

// SetEstimatedSize sets the number of bytes reserved for the signature
// container. The estimate must hold the signature time-stamp of the later
// profiles.
func (h *PadesTwoPhaseSigningHelper) SetEstimatedSize(size int) *PadesTwoPhaseSigningHelper {
	h.estimatedSize = size
	return h
}

// SetEmbedRevocationInfo adds the OCSP responses or CRLs of the signer
// chain to the signed attributes of the containers created afterwards.
func (h *PadesTwoPhaseSigningHelper) SetEmbedRevocationInfo(embed bool) *PadesTwoPhaseSigningHelper {
	h.embedRevocation = embed
	return h
}

func (h *PadesTwoPhaseSigningHelper) SetStampingProperties(p StampingProperties) *PadesTwoPhaseSigningHelper {
	h.stamping = p
	return h
}

// CreateCMSContainerWithoutSignature writes input with an empty signature
// field to output and returns the CMS container for it. The container holds
// the message digest of the prepared document but no signature value.
func (h *PadesTwoPhaseSigningHelper) CreateCMSContainerWithoutSignature(ctx context.Context, chain []*x509.Certificate, digest crypto.Hash, input io.Reader, output io.Writer, props SignerProperties) (*cms.Container, error) {
	if cms.HashOID(digest) == nil || !digest.Available() {
		return nil, &UnknownHashAlgorithmError{Name: digestName(digest)}
	}
	if len(chain) == 0 {
		return nil, cms.ErrNoSigningCertificate
	}
	data, err := readAll(input)
	if err != nil {
		return nil, err
	}
	doc, err := sign.Open(data)
	if err != nil {
		return nil, err
	}

	chain = h.completeChain(ctx, chain)
	archival, err := h.revocationArchival(ctx, chain)
	if err != nil {
		return nil, err
	}
	opts := props.options()
	opts.CertificationLevel = h.stamping.CertificationLevel
	opts.ContentsSize = h.contentsSize(chain, digest, h.tsa, archival)

	prepared, err := sign.Prepare(doc, opts)
	if err != nil {
		return nil, err
	}
	container, err := cms.New(chain, digest)
	if err != nil {
		return nil, err
	}
	if err := container.SetMessageDigest(prepared.Digest(digest)); err != nil {
		return nil, err
	}
	if err := container.SetRevocationInfoArchival(archival); err != nil {
		return nil, err
	}
	if err := writeAll(output, prepared.Data); err != nil {
		return nil, err
	}

	logging.WithComponent("pades").WithFields(logrus.Fields{
		"field":  prepared.FieldName,
		"digest": cms.HashName(digest),
	}).Debug("prepared document for two-phase signing")
	return container, nil
}

// SignCMSContainerWithBaselineBProfile completes container with signature
// and embeds it in fieldName of the prepared document.
func (h *PadesTwoPhaseSigningHelper) SignCMSContainerWithBaselineBProfile(ctx context.Context, signature ExternalSignature, prepared io.Reader, output io.Writer, fieldName string, container *cms.Container) error {
	return h.signContainer(ctx, PAdES_B, signature, prepared, output, fieldName, container)
}

// SignCMSContainerWithBaselineTProfile also adds a signature time-stamp.
func (h *PadesTwoPhaseSigningHelper) SignCMSContainerWithBaselineTProfile(ctx context.Context, signature ExternalSignature, prepared io.Reader, output io.Writer, fieldName string, container *cms.Container) error {
	return h.signContainer(ctx, PAdES_B_T, signature, prepared, output, fieldName, container)
}

// SignCMSContainerWithBaselineLTProfile also adds validation data.
func (h *PadesTwoPhaseSigningHelper) SignCMSContainerWithBaselineLTProfile(ctx context.Context, signature ExternalSignature, prepared io.Reader, output io.Writer, fieldName string, container *cms.Container) error {
	return h.signContainer(ctx, PAdES_B_LT, signature, prepared, output, fieldName, container)
}

// SignCMSContainerWithBaselineLTAProfile also adds a document time-stamp.
func (h *PadesTwoPhaseSigningHelper) SignCMSContainerWithBaselineLTAProfile(ctx context.Context, signature ExternalSignature, prepared io.Reader, output io.Writer, fieldName string, container *cms.Container) error {
	return h.signContainer(ctx, PAdES_B_LTA, signature, prepared, output, fieldName, container)
}

func (h *PadesTwoPhaseSigningHelper) signContainer(ctx context.Context, profile Profile, signature ExternalSignature, input io.Reader, output io.Writer, fieldName string, container *cms.Container) error {
	if container == nil {
		return fmt.Errorf("no CMS container")
	}
	if signature == nil {
		return sign.ErrNilSigner
	}
	if container.DigestAlgorithm != signature.DigestAlgorithm() {
		return &DigestAlgorithmsMismatchError{
			Container: digestName(container.DigestAlgorithm),
			Signature: digestName(signature.DigestAlgorithm()),
		}
	}
	client := h.tsa
	if profile.needsTimestamp() && client == nil {
		return ErrTSAClientIsMissing
	}
	if profile < PAdES_B_T {
		client = nil
	}
	defer h.stage.cleanup()

	data, err := readAll(input)
	if err != nil {
		return err
	}
	p, err := sign.FindPlaceholder(data, fieldName)
	if err != nil {
		return err
	}
	if !bytes.Equal(p.Digest(container.DigestAlgorithm), container.MessageDigest()) {
		return ErrMessageDigestMismatch
	}

	der, err := signContainer(ctx, container, signature, client)
	if err != nil {
		return err
	}
	if err := p.Embed(der); err != nil {
		return err
	}

	out, err := h.extend(ctx, p.Data, profile, fieldName, client)
	if err != nil {
		return err
	}
	if err := writeAll(output, out); err != nil {
		return err
	}

	metrics.SignatureWritten(profile.String())
	logging.WithComponent("pades").WithFields(logrus.Fields{
		"profile": profile.String(),
		"field":   fieldName,
	}).Info("document signed")
	return nil
}

// digestName formats h the way it appears in error messages, e.g. SHA256.
func digestName(h crypto.Hash) string {
	return strings.ReplaceAll(cms.HashName(h), "-", "")
}
