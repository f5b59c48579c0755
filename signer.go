package pades

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"   // register SHA-1
	_ "crypto/sha256" // register SHA-224 and SHA-256
	_ "crypto/sha512" // register SHA-384 and SHA-512
	"crypto/x509"
	"fmt"
	"io"

	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/sign"
)

// DefaultDigestAlgorithm is used by the crypto.Signer convenience methods.
const DefaultDigestAlgorithm = crypto.SHA512

// ExternalSignature produces the signature value over the DER encoded
// signed attributes of a CMS container. Implementations hash the message
// with DigestAlgorithm themselves.
type ExternalSignature interface {
	DigestAlgorithm() crypto.Hash
	EncryptionAlgorithm() x509.PublicKeyAlgorithm
	Sign(message []byte) ([]byte, error)
}

// PrivateKeySignature is an ExternalSignature backed by a crypto.Signer,
// such as a private key or a PKCS#11 or cloud KMS handle.
type PrivateKeySignature struct {
	signer crypto.Signer
	digest crypto.Hash
}

// NewPrivateKeySignature returns a signature computed with signer over a
// digest computed with digest.
func NewPrivateKeySignature(signer crypto.Signer, digest crypto.Hash) (*PrivateKeySignature, error) {
	if signer == nil {
		return nil, sign.ErrNilSigner
	}
	if cms.HashOID(digest) == nil || !digest.Available() {
		return nil, &UnknownHashAlgorithmError{Name: cms.HashName(digest)}
	}
	if _, err := publicKeyAlgorithm(signer.Public()); err != nil {
		return nil, err
	}
	return &PrivateKeySignature{signer: signer, digest: digest}, nil
}

func (s *PrivateKeySignature) DigestAlgorithm() crypto.Hash { return s.digest }

func (s *PrivateKeySignature) EncryptionAlgorithm() x509.PublicKeyAlgorithm {
	alg, _ := publicKeyAlgorithm(s.signer.Public())
	return alg
}

// Sign hashes message and signs the digest. Ed25519 keys sign the message
// itself.
func (s *PrivateKeySignature) Sign(message []byte) ([]byte, error) {
	if _, ok := s.signer.Public().(ed25519.PublicKey); ok {
		return s.signer.Sign(rand.Reader, message, crypto.Hash(0))
	}
	h := s.digest.New()
	h.Write(message)
	return s.signer.Sign(rand.Reader, h.Sum(nil), s.digest)
}

// SignDigest signs a digest computed with DigestAlgorithm.
func (s *PrivateKeySignature) SignDigest(digest []byte) ([]byte, error) {
	return s.signer.Sign(rand.Reader, digest, s.digest)
}

// DigestSigner is an ExternalSignature that can also sign a precomputed
// digest. PdfPadesSigner builds the containers of these signatures with
// github.com/digitorus/pkcs7.
type DigestSigner interface {
	ExternalSignature
	SignDigest(digest []byte) ([]byte, error)
}

// externalSigner adapts a DigestSigner to the crypto.Signer pkcs7 signs
// with.
type externalSigner struct {
	pub crypto.PublicKey
	sig DigestSigner
}

func (e *externalSigner) Public() crypto.PublicKey { return e.pub }

// Sign is handed the digest of the signed attributes, or the attributes
// themselves for Ed25519.
func (e *externalSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts.HashFunc() == 0 {
		return e.sig.Sign(digest)
	}
	if opts.HashFunc() != e.sig.DigestAlgorithm() {
		return nil, fmt.Errorf("signer expects %s digests, got %s", cms.HashName(e.sig.DigestAlgorithm()), cms.HashName(opts.HashFunc()))
	}
	return e.sig.SignDigest(digest)
}

func publicKeyAlgorithm(pub crypto.PublicKey) (x509.PublicKeyAlgorithm, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return x509.RSA, nil
	case *ecdsa.PublicKey:
		return x509.ECDSA, nil
	case ed25519.PublicKey:
		return x509.Ed25519, nil
	}
	return x509.UnknownPublicKeyAlgorithm, fmt.Errorf("%w: %T", sign.ErrUnsupportedKey, pub)
}
