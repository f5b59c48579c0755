package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/digitorus/pades"
)

func newProlongCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prolong [flags] <input.pdf> <output.pdf>",
		Short: "Add validation data and, with a TSA, a document time-stamp to signed documents",
		Long: `Prolong appends the certificates, OCSP responses and CRLs needed to
validate every signature of the document. When a TSA is configured the new
revision is protected with a document time-stamp.`,
		Example: `  pades prolong --tsa https://freetsa.org/tsr signed.pdf archived.pdf`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProlong(cmd, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.String("timestamp-field", "", "document time-stamp field name")
	f.String("temp-dir", "", "directory for the intermediate revisions")
	a.flags(cmd, map[string]string{
		"timestamp-field": "signer.timestamp_field_name",
		"temp-dir":        "signer.temporary_directory",
	})
	return cmd
}

func (a *app) runProlong(cmd *cobra.Command, input, output string) error {
	retriever, err := a.retriever()
	if err != nil {
		return err
	}
	return a.rewrite(input, output, func(in, out *os.File) error {
		signer := pades.NewPdfPadesSigner(in, out).
			SetTemporaryDirectoryPath(a.cfg.Signer.TemporaryDirectory).
			SetTimestampSignatureName(a.cfg.Signer.TimestampFieldName).
			SetOCSPClient(a.ocspClient()).
			SetCRLClient(a.crlClient()).
			SetIssuingCertificateRetriever(retriever)
		return signer.ProlongSignatures(cmd.Context(), a.tsaClient())
	})
}
