package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/digitorus/pades"
	"github.com/digitorus/pades/report"
	"github.com/digitorus/pades/validation"
)

// ErrInvalidSignatures is returned by validate when a signature is invalid.
var ErrInvalidSignatures = errors.New("document has invalid signatures")

type signatureView struct {
	Field               string                   `json:"field" yaml:"field"`
	Type                string                   `json:"type" yaml:"type"`
	SubFilter           string                   `json:"sub_filter" yaml:"sub_filter"`
	Name                string                   `json:"name,omitempty" yaml:"name,omitempty"`
	Reason              string                   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Location            string                   `json:"location,omitempty" yaml:"location,omitempty"`
	Signer              string                   `json:"signer,omitempty" yaml:"signer,omitempty"`
	SigningTime         *time.Time               `json:"signing_time,omitempty" yaml:"signing_time,omitempty"`
	TimestampTime       *time.Time               `json:"timestamp_time,omitempty" yaml:"timestamp_time,omitempty"`
	ValidationTime      time.Time                `json:"validation_time" yaml:"validation_time"`
	CoversWholeDocument bool                     `json:"covers_whole_document" yaml:"covers_whole_document"`
	Report              *report.ValidationReport `json:"report" yaml:"report"`
}

type documentView struct {
	File       string          `json:"file" yaml:"file"`
	Result     string          `json:"result" yaml:"result"`
	Signatures []signatureView `json:"signatures" yaml:"signatures"`
}

func newValidateCommand(a *app) *cobra.Command {
	var (
		format string
		at     string
	)
	cmd := &cobra.Command{
		Use:     "validate [flags] <input.pdf>",
		Aliases: []string{"verify"},
		Short:   "Validate the signatures of a PDF document",
		Example: `  pades validate --trusted root.pem signed.pdf
  pades validate --trusted root.pem --online-fetching NEVER_FETCH --format json signed.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var when time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				when = t
			}
			return a.runValidate(cmd, args[0], when, format)
		},
	}

	f := cmd.Flags()
	f.StringSlice("trusted", nil, "trusted certificates (PEM, DER or PKCS#7)")
	f.String("online-fetching", "", "FETCH_IF_NO_OTHER_DATA_AVAILABLE, ALWAYS_FETCH or NEVER_FETCH")
	f.Duration("freshness", 0, "maximum age of revocation data relative to the validation time")
	f.StringVar(&at, "at", "", "validation time (RFC 3339); defaults to the signature time-stamp")
	f.StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	a.flags(cmd, map[string]string{
		"trusted":         "validation.trusted_certificates",
		"online-fetching": "validation.online_fetching",
		"freshness":       "validation.freshness",
	})
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command, input string, at time.Time, format string) error {
	retriever, err := a.retriever()
	if err != nil {
		return err
	}
	fetching, err := validation.ParseOnlineFetching(a.cfg.Validation.OnlineFetching)
	if err != nil {
		return err
	}

	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	reports, err := pades.ValidateSignatures(cmd.Context(), in, pades.ValidationOptions{
		Retriever:      retriever,
		OnlineFetching: fetching,
		Freshness:      a.cfg.Validation.Freshness,
		OCSPClient:     a.ocspClient(),
		CRLClient:      a.crlClient(),
		ValidationTime: at,
	})
	if err != nil {
		return err
	}

	doc := documentView{File: input, Result: report.Valid.String()}
	invalid := false
	for i := range reports {
		r := &reports[i]
		doc.Signatures = append(doc.Signatures, newSignatureView(r))
		switch r.Result() {
		case report.ResultInvalid:
			invalid = true
			doc.Result = report.ResultInvalid.String()
		case report.ResultIndeterminate:
			if !invalid {
				doc.Result = report.ResultIndeterminate.String()
			}
		}
	}
	if len(reports) == 0 {
		doc.Result = report.ResultIndeterminate.String()
	}

	if err := writeDocumentView(a.stdout, doc, format); err != nil {
		return err
	}
	if invalid {
		return ErrInvalidSignatures
	}
	return nil
}

func newSignatureView(r *pades.SignatureReport) signatureView {
	v := signatureView{
		Field:               r.Signature.FieldName,
		Type:                r.Signature.Type,
		SubFilter:           r.Signature.SubFilter,
		Name:                r.Signature.Name,
		Reason:              r.Signature.Reason,
		Location:            r.Signature.Location,
		ValidationTime:      r.ValidationTime,
		CoversWholeDocument: r.CoversWholeDocument,
		Report:              r.Report,
	}
	if r.SigningCertificate != nil {
		v.Signer = r.SigningCertificate.Subject.String()
	}
	if !r.Signature.SigningTime.IsZero() {
		t := r.Signature.SigningTime
		v.SigningTime = &t
	}
	if r.Data != nil {
		if t, ok := r.Data.TimestampDate(); ok {
			v.TimestampTime = &t
		}
	}
	return v
}

func writeDocumentView(w io.Writer, doc documentView, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		fmt.Fprintf(w, "%s: %s\n", doc.File, doc.Result)
		for _, s := range doc.Signatures {
			fmt.Fprintf(w, "\n%s (%s)\n", s.Field, s.SubFilter)
			if s.Signer != "" {
				fmt.Fprintf(w, "  signer:    %s\n", s.Signer)
			}
			if s.TimestampTime != nil {
				fmt.Fprintf(w, "  timestamp: %s\n", s.TimestampTime.Format(time.RFC3339))
			}
			fmt.Fprintf(w, "  covers whole document: %t\n", s.CoversWholeDocument)
			if err := s.Report.Write(w, "text"); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
