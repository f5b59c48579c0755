package cms

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/digitorus/pkcs7"
)

// TimestampFunc returns an RFC 3161 token over a signature value.
type TimestampFunc func(signature []byte) ([]byte, error)

// SupportsDetached reports whether SignDetached can use digest.
func SupportsDetached(digest crypto.Hash) bool {
	switch digest {
	case crypto.SHA1, crypto.SHA256, crypto.SHA384, crypto.SHA512:
		return true
	}
	return false
}

// SignDetached signs content with signer and returns a detached SignedData.
// Besides the content type, message digest and signing time the signed
// attributes hold the signing certificate reference and extra. When stamp
// is set, its token over the signature value becomes an unsigned attribute.
func SignDetached(content []byte, chain []*x509.Certificate, digest crypto.Hash, signer crypto.Signer, extra []Attribute, stamp TimestampFunc) ([]byte, error) {
	if len(chain) == 0 || chain[0] == nil {
		return nil, ErrNoSigningCertificate
	}
	if !SupportsDetached(digest) {
		return nil, fmt.Errorf("cms: unsupported digest algorithm %s", HashName(digest))
	}

	signedData, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("new signed data: %w", err)
	}
	signedData.SetDigestAlgorithm(HashOID(digest))

	signingCertificate, err := signingCertificateAttribute(chain[0], digest)
	if err != nil {
		return nil, err
	}
	var config pkcs7.SignerInfoConfig
	for _, a := range append([]Attribute{signingCertificate}, extra...) {
		for _, v := range a.Values {
			config.ExtraSignedAttributes = append(config.ExtraSignedAttributes, pkcs7.Attribute{
				Type:  a.Type,
				Value: asn1.RawValue{FullBytes: v},
			})
		}
	}

	if issuerOrdered(chain) {
		err = signedData.AddSignerChain(chain[0], signer, chain[1:], config)
	} else {
		err = signedData.AddSigner(chain[0], signer, config)
		for _, c := range chain[1:] {
			signedData.AddCertificate(c)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("add signer chain: %w", err)
	}

	// PDF signatures are detached.
	signedData.Detach()

	if stamp != nil {
		info := signedData.GetSignedData()
		token, err := stamp(info.SignerInfos[0].EncryptedDigest)
		if err != nil {
			return nil, err
		}
		err = info.SignerInfos[0].SetUnauthenticatedAttributes([]pkcs7.Attribute{{
			Type:  OIDAttributeTimestampToken,
			Value: asn1.RawValue{FullBytes: token},
		}})
		if err != nil {
			return nil, err
		}
	}
	return signedData.Finish()
}

// issuerOrdered reports whether every certificate of chain is signed by the
// next one.
func issuerOrdered(chain []*x509.Certificate) bool {
	if len(chain) < 2 {
		return false
	}
	for i := 0; i+1 < len(chain); i++ {
		if chain[i].CheckSignatureFrom(chain[i+1]) != nil {
			return false
		}
	}
	return true
}
