package cms

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"strings"
)

var (
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDTSTInfo    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	OIDAttributeContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDAttributeMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDAttributeSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDAttributeSigningCertificate   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 12}
	OIDAttributeSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	OIDAttributeTimestampToken       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	OIDAttributeRevocationArchival   = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}

	oidRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidECDSAWithSHA1 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	oidEd25519       = asn1.ObjectIdentifier{1, 3, 101, 112}
)

var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   {1, 3, 14, 3, 2, 26},
	crypto.SHA224: {2, 16, 840, 1, 101, 3, 4, 2, 4},
	crypto.SHA256: {2, 16, 840, 1, 101, 3, 4, 2, 1},
	crypto.SHA384: {2, 16, 840, 1, 101, 3, 4, 2, 2},
	crypto.SHA512: {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

var ecdsaOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   oidECDSAWithSHA1,
	crypto.SHA224: {1, 2, 840, 10045, 4, 3, 1},
	crypto.SHA256: {1, 2, 840, 10045, 4, 3, 2},
	crypto.SHA384: {1, 2, 840, 10045, 4, 3, 3},
	crypto.SHA512: {1, 2, 840, 10045, 4, 3, 4},
}

// HashOID returns the digest algorithm identifier of h, or nil.
func HashOID(h crypto.Hash) asn1.ObjectIdentifier {
	return hashOIDs[h]
}

// HashFromOID is the inverse of HashOID. It returns zero for unknown
// identifiers.
func HashFromOID(oid asn1.ObjectIdentifier) crypto.Hash {
	for h, o := range hashOIDs {
		if o.Equal(oid) {
			return h
		}
	}
	return 0
}

// HashByName resolves names such as "SHA256", "SHA-256" or "sha512".
func HashByName(name string) (crypto.Hash, bool) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), "-", "") {
	case "SHA1":
		return crypto.SHA1, true
	case "SHA224":
		return crypto.SHA224, true
	case "SHA256":
		return crypto.SHA256, true
	case "SHA384":
		return crypto.SHA384, true
	case "SHA512":
		return crypto.SHA512, true
	}
	return 0, false
}

// HashName returns the name used in messages and configuration, e.g. "SHA-512".
func HashName(h crypto.Hash) string {
	if _, ok := hashOIDs[h]; !ok {
		return fmt.Sprintf("unknown(%d)", int(h))
	}
	return h.String()
}

// SignatureAlgorithmOID returns the identifier written to the SignerInfo
// signatureAlgorithm field.
func SignatureAlgorithmOID(pub x509.PublicKeyAlgorithm, h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch pub {
	case x509.RSA:
		return oidRSAEncryption, nil
	case x509.ECDSA:
		if oid, ok := ecdsaOIDs[h]; ok {
			return oid, nil
		}
	case x509.Ed25519:
		return oidEd25519, nil
	}
	return nil, fmt.Errorf("unsupported signature algorithm %s with %s", pub, HashName(h))
}
