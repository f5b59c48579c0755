package pades

import (
	"errors"
	"fmt"

	"github.com/digitorus/pades/sign"
)

// ErrTSAClientIsMissing is returned when a profile that needs a time-stamp
// (T, LT and LTA) is requested without a TSA client.
var ErrTSAClientIsMissing = errors.New("TSA client shall be provided in order to perform this operation.")

// Errors of the PDF layer, re-exported for callers of this package.
var (
	ErrFieldAlreadySigned     = sign.ErrFieldAlreadySigned
	ErrNotASignatureField     = sign.ErrNotASignatureField
	ErrSignatureFieldNotFound = sign.ErrSignatureFieldNotFound
	ErrEncryptedDocument      = sign.ErrEncryptedDocument
	ErrSignatureTooLarge      = sign.ErrSignatureTooLarge
)

// DigestAlgorithmsMismatchError is returned by the two-phase helper when the
// external signature hashes with another algorithm than the CMS container.
type DigestAlgorithmsMismatchError struct {
	Container string
	Signature string
}

func (e *DigestAlgorithmsMismatchError) Error() string {
	return fmt.Sprintf("Digest algorithm used in the provided ExternalSignature shall be the same as digest algorithm in the provided CMS container. Digest algorithm in CMS container: \"%s\". Digest algorithm in ExternalSignature: \"%s\"", e.Container, e.Signature)
}

// UnknownHashAlgorithmError reports a digest algorithm without a CMS
// identifier.
type UnknownHashAlgorithmError struct {
	Name string
}

func (e *UnknownHashAlgorithmError) Error() string {
	return fmt.Sprintf("Unknown hash algorithm: %s.", e.Name)
}
