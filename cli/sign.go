package cli

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/digitorus/pades"
	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/sign"
	"github.com/digitorus/pades/signers/csc"
)

type signFlags struct {
	page            int
	rect            string
	appearanceText  string
	appearanceImage string
}

func newSignCommand(a *app) *cobra.Command {
	var sf signFlags
	cmd := &cobra.Command{
		Use:   "sign [flags] <input.pdf> <output.pdf>",
		Short: "Sign a PDF document with a PAdES baseline signature",
		Example: `  pades sign --cert cert.pem --key key.pem --name "John Doe" input.pdf output.pdf
  pades sign --key signer.p12 --password secret --profile LTA --tsa https://freetsa.org/tsr input.pdf output.pdf`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSign(cmd, args[0], args[1], sf)
		},
	}

	f := cmd.Flags()
	f.String("cert", "", "signing certificate, optionally followed by its chain (PEM or DER)")
	f.String("key", "", "private key (PEM, DER, or PKCS#12 with .p12/.pfx extension)")
	f.String("password", "", "PKCS#12 password")
	f.String("csc-url", "", "Cloud Signature Consortium service used instead of --key")
	f.String("csc-credential", "", "CSC credential ID")
	f.String("csc-token", "", "CSC authorization header value")
	f.String("csc-pin", "", "CSC credential PIN")
	f.String("chain", "", "additional chain certificates")
	f.String("name", "", "name of the signatory")
	f.String("location", "", "location of the signatory")
	f.String("reason", "", "reason for signing")
	f.String("contact", "", "contact information of the signatory")
	f.StringP("profile", "p", "", "PAdES baseline profile (B, T, LT, LTA)")
	f.String("digest", "", "digest algorithm (SHA256, SHA384, SHA512)")
	f.String("field", "", "signature field name")
	f.String("timestamp-field", "", "document time-stamp field name")
	f.String("temp-dir", "", "directory for the intermediate revisions")
	f.Int("estimated-size", 0, "reserved size of the signature container in bytes")
	f.Int("certification-level", 0, "0 approval, 1 no changes, 2 form filling, 3 form filling and annotations")
	f.IntVar(&sf.page, "page", 1, "page of a visible signature")
	f.StringVar(&sf.rect, "rect", "", "rectangle of a visible signature: x,y,width,height in points")
	f.StringVar(&sf.appearanceText, "appearance-text", "", "text of a visible signature; {{Name}}, {{Date}}, {{Reason}}, {{Location}} and {{Initials}} are expanded")
	f.StringVar(&sf.appearanceImage, "appearance-image", "", "JPEG or PNG image of a visible signature")

	a.flags(cmd, map[string]string{
		"cert":                "signer.certificate",
		"key":                 "signer.key",
		"password":            "signer.password",
		"csc-url":             "signer.csc.url",
		"csc-credential":      "signer.csc.credential_id",
		"csc-token":           "signer.csc.token",
		"csc-pin":             "signer.csc.pin",
		"chain":               "signer.chain",
		"name":                "signer.name",
		"location":            "signer.location",
		"reason":              "signer.reason",
		"contact":             "signer.contact_info",
		"profile":             "signer.profile",
		"digest":              "signer.digest",
		"field":               "signer.field_name",
		"timestamp-field":     "signer.timestamp_field_name",
		"temp-dir":            "signer.temporary_directory",
		"estimated-size":      "signer.estimated_size",
		"certification-level": "signer.certification_level",
	})
	return cmd
}

func (a *app) runSign(cmd *cobra.Command, input, output string, sf signFlags) error {
	cfg := a.cfg.Signer
	profile, err := pades.ParseProfile(cfg.Profile)
	if err != nil {
		return err
	}
	digest, ok := cms.HashByName(cfg.Digest)
	if !ok {
		return &pades.UnknownHashAlgorithmError{Name: cfg.Digest}
	}

	key, chain, err := a.loadSigner(cmd.Context())
	if err != nil {
		return err
	}
	if err := sign.ValidateSignerCertificateMatch(key, chain[0]); err != nil {
		return err
	}
	signature, err := pades.NewPrivateKeySignature(key, digest)
	if err != nil {
		return err
	}

	props := pades.SignerProperties{
		FieldName:   cfg.FieldName,
		PageNumber:  sf.page,
		SignerName:  cfg.Name,
		Reason:      cfg.Reason,
		Location:    cfg.Location,
		ContactInfo: cfg.ContactInfo,
	}
	if sf.rect != "" {
		if props.PageRect, err = parseRect(sf.rect); err != nil {
			return err
		}
	}
	if sf.appearanceText != "" || sf.appearanceImage != "" {
		props.Appearance = &sign.Appearance{Text: sf.appearanceText}
		if sf.appearanceImage != "" {
			if props.Appearance.Image, err = os.ReadFile(sf.appearanceImage); err != nil {
				return err
			}
		}
	}

	retriever, err := a.retriever()
	if err != nil {
		return err
	}

	return a.rewrite(input, output, func(in *os.File, out *os.File) error {
		signer := pades.NewPdfPadesSigner(in, out).
			SetTemporaryDirectoryPath(cfg.TemporaryDirectory).
			SetTimestampSignatureName(cfg.TimestampFieldName).
			SetOCSPClient(a.ocspClient()).
			SetCRLClient(a.crlClient()).
			SetIssuingCertificateRetriever(retriever).
			SetStampingProperties(pades.StampingProperties{
				CertificationLevel: sign.CertificationLevel(cfg.CertificationLevel),
			})
		if cfg.EstimatedSize > 0 {
			signer.SetEstimatedSize(cfg.EstimatedSize)
		}

		ctx := cmd.Context()
		client := a.tsaClient()
		switch profile {
		case pades.PAdES_B_T:
			return signer.SignWithBaselineTProfile(ctx, props, chain, signature, client)
		case pades.PAdES_B_LT:
			return signer.SignWithBaselineLTProfile(ctx, props, chain, signature, client)
		case pades.PAdES_B_LTA:
			return signer.SignWithBaselineLTAProfile(ctx, props, chain, signature, client)
		default:
			return signer.SignWithBaselineBProfile(ctx, props, chain, signature)
		}
	})
}

// loadSigner returns the CSC signer when a service is configured, else the
// local key.
func (a *app) loadSigner(ctx context.Context) (crypto.Signer, []*x509.Certificate, error) {
	cfg := a.cfg.Signer
	if cfg.CSC.URL == "" {
		return LoadSigner(cfg.Certificate, cfg.Key, cfg.Password, cfg.Chain)
	}

	signer, err := csc.NewSigner(ctx, csc.Config{
		BaseURL:      cfg.CSC.URL,
		CredentialID: cfg.CSC.CredentialID,
		AuthToken:    cfg.CSC.Token,
		PIN:          cfg.CSC.PIN,
		Fetcher:      a.fetcher,
	})
	if err != nil {
		return nil, nil, err
	}
	chain := signer.Certificates()
	if cfg.Certificate != "" {
		list, err := readCertificates(cfg.Certificate)
		if err != nil {
			return nil, nil, err
		}
		chain = appendUnique(list, chain...)
	}
	if len(chain) == 0 {
		return nil, nil, errors.New("CSC service returned no signing certificate")
	}
	if cfg.Chain != "" {
		list, err := readCertificates(cfg.Chain)
		if err != nil {
			return nil, nil, err
		}
		chain = appendUnique(chain, list...)
	}
	return signer, chain, nil
}

// rewrite runs fn with input opened for reading and output created for
// writing. output is removed when fn fails.
func (a *app) rewrite(input, output string, fn func(in, out *os.File) error) (err error) {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(output)
		}
	}()

	if err = fn(in, out); err != nil {
		return err
	}
	logging.WithComponent("cli").WithFields(logrus.Fields{
		"input":  input,
		"output": output,
	}).Info("document written")
	return nil
}

func parseRect(s string) (sign.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return sign.Rectangle{}, errors.New("rect needs four comma separated values: x,y,width,height")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return sign.Rectangle{}, fmt.Errorf("rect: %w", err)
		}
		v[i] = f
	}
	return sign.Rectangle{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
