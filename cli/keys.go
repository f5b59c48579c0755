package cli

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/digitorus/pades/certs"
)

// LoadSigner reads the signing key and its certificate chain.
//
// A .p12 or .pfx keyPath holds the key, the certificate and optionally the
// chain, decrypted with password; certPath may then be empty. Otherwise
// keyPath is a PEM or DER PKCS#8, PKCS#1 or SEC 1 key and certPath holds the
// signing certificate, optionally followed by its issuers. Certificates from
// chainPath are appended after the signing certificate.
func LoadSigner(certPath, keyPath, password, chainPath string) (crypto.Signer, []*x509.Certificate, error) {
	if keyPath == "" {
		return nil, nil, errors.New("no signing key given")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, err
	}

	var (
		key   crypto.Signer
		chain []*x509.Certificate
	)
	switch strings.ToLower(filepath.Ext(keyPath)) {
	case ".p12", ".pfx":
		pkey, cert, ca, err := pkcs12.DecodeChain(keyData, password)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", keyPath, err)
		}
		signer, ok := pkey.(crypto.Signer)
		if !ok {
			return nil, nil, fmt.Errorf("%s: key of type %T cannot sign", keyPath, pkey)
		}
		key = signer
		chain = append([]*x509.Certificate{cert}, ca...)
	default:
		if key, err = parsePrivateKey(keyData); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", keyPath, err)
		}
	}

	if certPath != "" {
		list, err := readCertificates(certPath)
		if err != nil {
			return nil, nil, err
		}
		chain = appendUnique(list, chain...)
	}
	if len(chain) == 0 {
		return nil, nil, errors.New("no signing certificate given")
	}
	if chainPath != "" {
		list, err := readCertificates(chainPath)
		if err != nil {
			return nil, nil, err
		}
		chain = appendUnique(chain, list...)
	}
	return key, chain, nil
}

func readCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	list, err := certs.ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
			return nil, errors.New("encrypted PEM keys are not supported, use PKCS#12")
		}
		der = block.Bytes
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key of type %T cannot sign", key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("failed to parse private key")
}

func appendUnique(list []*x509.Certificate, more ...*x509.Certificate) []*x509.Certificate {
next:
	for _, c := range more {
		for _, have := range list {
			if have.Equal(c) {
				continue next
			}
		}
		list = append(list, c)
	}
	return list
}
