package sign

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
)

var (
	ErrNilSigner      = errors.New("signer cannot be nil")
	ErrNilPublicKey   = errors.New("public key cannot be nil")
	ErrNilCertificate = errors.New("certificate cannot be nil")
	ErrUnsupportedKey = errors.New("unsupported key type")
	ErrKeyMismatch    = errors.New("signer public key does not match certificate")
)

// DefaultSignatureSize is the fallback for unrecognized key types.
const DefaultSignatureSize = 512

// containerOverhead covers the CMS structure around the variable parts:
// SignedData, SignerInfo, algorithm identifiers and the signed attributes
// besides the message digest.
const containerOverhead = 1024

// SignatureSize returns the maximum signature size in bytes for the given signer.
// The certificate's SignatureAlgorithm describes how the CA signed it, not the
// signatures this key produces.
func SignatureSize(signer crypto.Signer) (int, error) {
	if signer == nil {
		return 0, ErrNilSigner
	}
	pub := signer.Public()
	if pub == nil {
		return 0, ErrNilPublicKey
	}
	return PublicKeySignatureSize(pub)
}

// PublicKeySignatureSize returns the maximum signature size for a public key.
func PublicKeySignatureSize(pub crypto.PublicKey) (int, error) {
	if pub == nil {
		return 0, ErrNilPublicKey
	}

	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N == nil {
			return 0, fmt.Errorf("%w: RSA key has nil modulus", ErrUnsupportedKey)
		}
		return k.Size(), nil

	case *ecdsa.PublicKey:
		if k.Curve == nil {
			return 0, fmt.Errorf("%w: ECDSA key has nil curve", ErrUnsupportedKey)
		}
		// SEQUENCE { r INTEGER, s INTEGER }, RFC 3279 section 2.2.3.
		coordSize := (k.Curve.Params().BitSize + 7) / 8
		return 2*coordSize + 9, nil

	case ed25519.PublicKey:
		return ed25519.SignatureSize, nil

	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// SizeEstimate lists what ends up in a signature container.
type SizeEstimate struct {
	// PublicKey of the signer, nil falls back to DefaultSignatureSize.
	PublicKey crypto.PublicKey
	// Chain is embedded in the certificates field of SignedData.
	Chain []*x509.Certificate
	// Digest is the hash of the message digest attribute.
	Digest crypto.Hash
	// Revocation is the DER of OCSP responses and CRLs embedded in the
	// revocation info archival attribute.
	Revocation [][]byte
	// TimestampSize is the expected size of a signature time-stamp token,
	// zero when none is added.
	TimestampSize int
}

// EstimateContentsSize returns the number of bytes to reserve for a
// signature container.
func EstimateContentsSize(e SizeEstimate) int {
	sigSize, err := PublicKeySignatureSize(e.PublicKey)
	if err != nil {
		sigSize = DefaultSignatureSize
	}

	size := containerOverhead + sigSize
	if e.Digest.Available() {
		size += e.Digest.Size() * 2
	} else {
		size += 128
	}
	for _, c := range e.Chain {
		// The signing certificate v2 attribute repeats the issuer.
		size += len(c.Raw) + len(c.RawIssuer)
	}
	for _, r := range e.Revocation {
		size += len(r) + 16
	}
	return size + e.TimestampSize
}

// ValidateSignerCertificateMatch checks that the signer's public key matches the certificate.
func ValidateSignerCertificateMatch(signer crypto.Signer, cert *x509.Certificate) error {
	if signer == nil {
		return ErrNilSigner
	}
	if cert == nil {
		return ErrNilCertificate
	}

	signerPub := signer.Public()
	if signerPub == nil {
		return ErrNilPublicKey
	}

	signerPubBytes, err := x509.MarshalPKIXPublicKey(signerPub)
	if err != nil {
		return fmt.Errorf("failed to marshal signer public key: %w", err)
	}
	certPubBytes, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal certificate public key: %w", err)
	}
	if !bytes.Equal(signerPubBytes, certPubBytes) {
		return ErrKeyMismatch
	}
	return nil
}
