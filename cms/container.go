// Package cms builds and reads the CMS SignedData containers embedded in
// PAdES signatures.
package cms

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/digitorus/pades/revocation"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	ErrNoSigner             = errors.New("cms: container has no signer")
	ErrNoSigningCertificate = errors.New("cms: signing certificate is required")
	ErrNotSignedData        = errors.New("cms: content is not signed data")
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type encapsulatedContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// rawSet keeps an implicitly tagged SET OF with its header.
type rawSet struct {
	Raw asn1.RawContent
}

type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      encapsulatedContentInfo
	Certificates     rawSet       `asn1:"optional,tag:0"`
	CRLs             rawSet       `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo `asn1:"set"`
}

type issuerAndSerial struct {
	IssuerName   asn1.RawValue
	SerialNumber *big.Int
}

type signerInfo struct {
	Version            int
	SID                issuerAndSerial
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        rawSet `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      rawSet `asn1:"optional,tag:1"`
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue
}

// Attribute is a CMS attribute with its DER encoded values.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values [][]byte
}

// Container is a detached CMS SignedData with one signer whose signed
// attributes are fixed before the signature value exists, as two-phase
// signing requires.
type Container struct {
	DigestAlgorithm    crypto.Hash
	SignatureAlgorithm asn1.ObjectIdentifier
	SigningCertificate *x509.Certificate
	Certificates       []*x509.Certificate
	CRLs               [][]byte
	Signature          []byte

	signed   []Attribute
	unsigned []Attribute
}

// New returns a container for chain[0] with the remaining certificates of
// chain embedded. The signed attributes carry the content type and the
// signing certificate reference; the message digest is set later.
func New(chain []*x509.Certificate, digest crypto.Hash) (*Container, error) {
	if len(chain) == 0 || chain[0] == nil {
		return nil, ErrNoSigningCertificate
	}
	if HashOID(digest) == nil {
		return nil, fmt.Errorf("cms: unsupported digest algorithm %s", HashName(digest))
	}
	c := &Container{
		DigestAlgorithm:    digest,
		SigningCertificate: chain[0],
		Certificates:       append([]*x509.Certificate(nil), chain...),
	}
	contentType, err := asn1.Marshal(OIDData)
	if err != nil {
		return nil, err
	}
	c.SetSignedAttribute(OIDAttributeContentType, contentType)

	signingCert, err := signingCertificateAttribute(chain[0], digest)
	if err != nil {
		return nil, err
	}
	c.signed = append(c.signed, signingCert)
	return c, nil
}

// signingCertificateAttribute builds the ESS signing-certificate-v2
// attribute, or the v1 attribute for SHA-1.
func signingCertificateAttribute(cert *x509.Certificate, digest crypto.Hash) (Attribute, error) {
	h := digest.New()
	h.Write(cert.Raw)

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // SigningCertificate
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // certs
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // ESSCertIDv2
				if digest != crypto.SHA1 && digest != crypto.SHA256 { // SHA-256 is the default
					b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(HashOID(digest))
					})
				}
				b.AddASN1OctetString(h.Sum(nil))
			})
		})
	})
	value, err := b.Bytes()
	if err != nil {
		return Attribute{}, err
	}
	attr := Attribute{Type: OIDAttributeSigningCertificateV2, Values: [][]byte{value}}
	if digest == crypto.SHA1 {
		attr.Type = OIDAttributeSigningCertificate
	}
	return attr, nil
}

// SetSignedAttribute replaces or adds a signed attribute with one value.
func (c *Container) SetSignedAttribute(oid asn1.ObjectIdentifier, value []byte) {
	c.signed = setAttribute(c.signed, oid, value)
}

// SetUnsignedAttribute replaces or adds an unsigned attribute with one value.
func (c *Container) SetUnsignedAttribute(oid asn1.ObjectIdentifier, value []byte) {
	c.unsigned = setAttribute(c.unsigned, oid, value)
}

func setAttribute(attrs []Attribute, oid asn1.ObjectIdentifier, value []byte) []Attribute {
	for i := range attrs {
		if attrs[i].Type.Equal(oid) {
			attrs[i].Values = [][]byte{value}
			return attrs
		}
	}
	return append(attrs, Attribute{Type: oid, Values: [][]byte{value}})
}

// SignedAttribute returns the first value of a signed attribute.
func (c *Container) SignedAttribute(oid asn1.ObjectIdentifier) ([]byte, bool) {
	return findAttribute(c.signed, oid)
}

// UnsignedAttribute returns the first value of an unsigned attribute.
func (c *Container) UnsignedAttribute(oid asn1.ObjectIdentifier) ([]byte, bool) {
	return findAttribute(c.unsigned, oid)
}

func findAttribute(attrs []Attribute, oid asn1.ObjectIdentifier) ([]byte, bool) {
	for _, a := range attrs {
		if a.Type.Equal(oid) && len(a.Values) > 0 {
			return a.Values[0], true
		}
	}
	return nil, false
}

// SignedAttributes returns a copy of the signed attributes.
func (c *Container) SignedAttributes() []Attribute {
	return append([]Attribute(nil), c.signed...)
}

// SetMessageDigest sets the digest of the signed document bytes.
func (c *Container) SetMessageDigest(digest []byte) error {
	value, err := asn1.Marshal(digest)
	if err != nil {
		return err
	}
	c.SetSignedAttribute(OIDAttributeMessageDigest, value)
	return nil
}

// MessageDigest returns the digest set with SetMessageDigest.
func (c *Container) MessageDigest() []byte {
	raw, ok := c.SignedAttribute(OIDAttributeMessageDigest)
	if !ok {
		return nil
	}
	var digest []byte
	if _, err := asn1.Unmarshal(raw, &digest); err != nil {
		return nil
	}
	return digest
}

// RevocationArchivalAttribute encodes the adbe-revocationInfoArchival
// attribute. It reports false for empty archives.
func RevocationArchivalAttribute(info *revocation.InfoArchival) (Attribute, bool, error) {
	if info == nil || (len(info.CRL) == 0 && len(info.OCSP) == 0) {
		return Attribute{}, false, nil
	}
	value, err := asn1.Marshal(*info)
	if err != nil {
		return Attribute{}, false, err
	}
	return Attribute{Type: OIDAttributeRevocationArchival, Values: [][]byte{value}}, true, nil
}

// SetRevocationInfoArchival stores CRLs and OCSP responses in the signed
// adbe-revocationInfoArchival attribute. Empty archives are ignored.
func (c *Container) SetRevocationInfoArchival(info *revocation.InfoArchival) error {
	attr, ok, err := RevocationArchivalAttribute(info)
	if err != nil || !ok {
		return err
	}
	c.SetSignedAttribute(attr.Type, attr.Values[0])
	return nil
}

// AddTimestampToken adds an RFC 3161 token over the signature value.
func (c *Container) AddTimestampToken(token []byte) {
	c.SetUnsignedAttribute(OIDAttributeTimestampToken, token)
}

// TimestampToken returns the signature time-stamp token, if any.
func (c *Container) TimestampToken() []byte {
	token, _ := c.UnsignedAttribute(OIDAttributeTimestampToken)
	return token
}

// SerializedSignedAttributes returns the DER SET OF the signed attributes,
// the exact bytes the signature is computed over.
func (c *Container) SerializedSignedAttributes() ([]byte, error) {
	attrs, err := encodeAttributes(c.signed)
	if err != nil {
		return nil, err
	}
	return asn1.MarshalWithParams(attrs, "set")
}

func encodeAttributes(in []Attribute) ([]attribute, error) {
	out := make([]attribute, 0, len(in))
	for _, a := range in {
		values, err := asn1.MarshalWithParams(rawValues(a.Values), "set")
		if err != nil {
			return nil, err
		}
		out = append(out, attribute{Type: a.Type, Values: asn1.RawValue{FullBytes: values}})
	}
	return out, nil
}

func rawValues(values [][]byte) []asn1.RawValue {
	out := make([]asn1.RawValue, len(values))
	for i, v := range values {
		out[i] = asn1.RawValue{FullBytes: v}
	}
	return out
}

// implicitSet re-tags a DER SET OF as a constructed context specific field.
func implicitSet(set []byte, tag byte) rawSet {
	if len(set) == 0 {
		return rawSet{}
	}
	out := append([]byte(nil), set...)
	out[0] = 0xa0 | tag
	return rawSet{Raw: out}
}

// SetSignature sets the signature value and the algorithm it was made with.
func (c *Container) SetSignature(alg x509.PublicKeyAlgorithm, signature []byte) error {
	oid, err := SignatureAlgorithmOID(alg, c.DigestAlgorithm)
	if err != nil {
		return err
	}
	c.SignatureAlgorithm = oid
	c.Signature = signature
	return nil
}

// Marshal encodes the container as a ContentInfo.
func (c *Container) Marshal() ([]byte, error) {
	if c.SigningCertificate == nil {
		return nil, ErrNoSigningCertificate
	}
	digestAlg := pkix.AlgorithmIdentifier{Algorithm: HashOID(c.DigestAlgorithm)}

	signedSet, err := c.SerializedSignedAttributes()
	if err != nil {
		return nil, err
	}
	si := signerInfo{
		Version: 1,
		SID: issuerAndSerial{
			IssuerName:   asn1.RawValue{FullBytes: c.SigningCertificate.RawIssuer},
			SerialNumber: c.SigningCertificate.SerialNumber,
		},
		DigestAlgorithm:    digestAlg,
		SignedAttrs:        implicitSet(signedSet, 0),
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: c.SignatureAlgorithm},
		Signature:          c.Signature,
	}
	if si.SignatureAlgorithm.Algorithm == nil {
		si.SignatureAlgorithm.Algorithm = oidRSAEncryption
	}
	if len(c.unsigned) > 0 {
		attrs, err := encodeAttributes(c.unsigned)
		if err != nil {
			return nil, err
		}
		set, err := asn1.MarshalWithParams(attrs, "set")
		if err != nil {
			return nil, err
		}
		si.UnsignedAttrs = implicitSet(set, 1)
	}

	sd := signedData{
		Version:          1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{digestAlg},
		ContentInfo:      encapsulatedContentInfo{ContentType: OIDData},
		SignerInfos:      []signerInfo{si},
	}
	if len(c.Certificates) > 0 {
		var raw bytes.Buffer
		for _, cert := range c.Certificates {
			raw.Write(cert.Raw)
		}
		sd.Certificates = implicitContent(raw.Bytes(), 0)
	}
	if len(c.CRLs) > 0 {
		sd.CRLs = implicitContent(bytes.Join(c.CRLs, nil), 1)
	}

	inner, err := asn1.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("cms: marshal signed data: %w", err)
	}
	return asn1.Marshal(contentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: inner},
	})
}

func implicitContent(content []byte, tag int) rawSet {
	raw, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: tag, IsCompound: true, Bytes: content})
	if err != nil {
		return rawSet{}
	}
	return rawSet{Raw: raw}
}

// Parse decodes a ContentInfo holding a SignedData with a single signer.
func Parse(der []byte) (*Container, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return nil, fmt.Errorf("cms: %w", err)
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, ErrNotSignedData
	}
	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("cms: signed data: %w", err)
	}
	if len(sd.SignerInfos) == 0 {
		return nil, ErrNoSigner
	}
	si := sd.SignerInfos[0]

	c := &Container{
		DigestAlgorithm:    HashFromOID(si.DigestAlgorithm.Algorithm),
		SignatureAlgorithm: si.SignatureAlgorithm.Algorithm,
		Signature:          si.Signature,
	}
	if body := contentOf(sd.Certificates.Raw); len(body) > 0 {
		certs, err := x509.ParseCertificates(body)
		if err != nil {
			return nil, fmt.Errorf("cms: certificates: %w", err)
		}
		c.Certificates = certs
	}
	if body := contentOf(sd.CRLs.Raw); len(body) > 0 {
		for rest := body; len(rest) > 0; {
			var crl asn1.RawValue
			var err error
			if rest, err = asn1.Unmarshal(rest, &crl); err != nil {
				return nil, fmt.Errorf("cms: crls: %w", err)
			}
			c.CRLs = append(c.CRLs, crl.FullBytes)
		}
	}
	for _, cert := range c.Certificates {
		if bytes.Equal(cert.RawIssuer, si.SID.IssuerName.FullBytes) && cert.SerialNumber.Cmp(si.SID.SerialNumber) == 0 {
			c.SigningCertificate = cert
			break
		}
	}

	var err error
	if c.signed, err = decodeAttributes(si.SignedAttrs.Raw); err != nil {
		return nil, fmt.Errorf("cms: signed attributes: %w", err)
	}
	if c.unsigned, err = decodeAttributes(si.UnsignedAttrs.Raw); err != nil {
		return nil, fmt.Errorf("cms: unsigned attributes: %w", err)
	}
	return c, nil
}

func contentOf(tlv []byte) []byte {
	if len(tlv) == 0 {
		return nil
	}
	var v asn1.RawValue
	if _, err := asn1.Unmarshal(tlv, &v); err != nil {
		return nil
	}
	return v.Bytes
}

func decodeAttributes(tlv []byte) ([]Attribute, error) {
	if len(tlv) == 0 {
		return nil, nil
	}
	set := append([]byte(nil), tlv...)
	set[0] = 0x31
	var attrs []attribute
	if _, err := asn1.UnmarshalWithParams(set, &attrs, "set"); err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		attr := Attribute{Type: a.Type}
		for rest := a.Values.Bytes; len(rest) > 0; {
			var v asn1.RawValue
			var err error
			if rest, err = asn1.Unmarshal(rest, &v); err != nil {
				return nil, err
			}
			attr.Values = append(attr.Values, v.FullBytes)
		}
		out = append(out, attr)
	}
	return out, nil
}
