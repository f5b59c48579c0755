package pades

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"time"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/metrics"
	"github.com/digitorus/pades/report"
	"github.com/digitorus/pades/revocation"
	"github.com/digitorus/pades/sign"
	"github.com/digitorus/pades/validation"
	"github.com/sirupsen/logrus"
)

// Check names of the signature level checks.
const (
	SignatureIntegrityCheck = "Signature integrity check."
	TimestampCheck          = "Signature time-stamp check."
)

// ValidationOptions configures ValidateSignatures.
type ValidationOptions struct {
	// Retriever holds the trusted certificates. A new retriever without
	// trusted certificates is used when nil.
	Retriever *certs.IssuingCertificateRetriever
	// OnlineFetching decides when OCSPClient and CRLClient are used on top
	// of the DSS and CMS evidence.
	OnlineFetching validation.OnlineFetching
	// Freshness defaults to validation.DefaultFreshness.
	Freshness  time.Duration
	OCSPClient revocation.OCSPClient
	CRLClient  revocation.CRLClient
	// ValidationTime overrides the signature time-stamp time and the
	// current time as validation date.
	ValidationTime time.Time
}

// SignatureReport is the outcome of validating one signature.
type SignatureReport struct {
	Signature          sign.Signature
	Data               *cms.SignatureData
	SigningCertificate *x509.Certificate
	// ValidationTime is the date the certificate chain was validated at.
	ValidationTime time.Time
	// CoversWholeDocument is false for signatures followed by later
	// revisions.
	CoversWholeDocument bool
	Report              *report.ValidationReport
}

// Result returns the overall result of the report.
func (r *SignatureReport) Result() report.Result {
	return r.Report.Result()
}

// ValidateSignatures checks the integrity of every signature of the document
// read from input and validates the signer chains with the evidence of the
// DSS and of the CMS containers.
func ValidateSignatures(ctx context.Context, input io.Reader, opts ValidationOptions) ([]SignatureReport, error) {
	data, err := readAll(input)
	if err != nil {
		return nil, err
	}
	doc, err := sign.Open(data)
	if err != nil {
		return nil, err
	}
	sigs, err := doc.Signatures()
	if err != nil {
		return nil, err
	}
	dss, err := doc.DSS()
	if err != nil {
		return nil, fmt.Errorf("failed to read DSS: %w", err)
	}

	retriever := opts.Retriever
	if retriever == nil {
		retriever = certs.NewIssuingCertificateRetriever()
	}
	ocspStore := &validation.ValidationOCSPClient{}
	crlStore := &validation.ValidationCRLClient{}
	for _, raw := range dss.Certs {
		if cert, err := x509.ParseCertificate(raw); err == nil {
			retriever.AddKnownCertificates([]*x509.Certificate{cert})
		}
	}
	for _, raw := range dss.OCSPs {
		ocspStore.AddResponse(raw)
	}
	for _, raw := range dss.CRLs {
		crlStore.AddCRL(raw)
	}

	reports := make([]SignatureReport, 0, len(sigs))
	parsed := make([]*cms.SignatureData, len(sigs))
	for i := range sigs {
		sd, err := cms.ParseSignatureData(sigs[i].Contents, sigs[i].IsDocumentTimestamp())
		if err != nil {
			logging.WithComponent("validate").WithError(err).WithField("field", sigs[i].FieldName).Warn("failed to parse signature")
			continue
		}
		parsed[i] = sd
		retriever.AddKnownCertificates(sd.Certificates)
		retriever.AddKnownCertificates(sd.TimestampCertificates())
		for _, raw := range sd.OCSPResponses() {
			ocspStore.AddResponse(raw)
		}
		for _, raw := range sd.AllCRLs() {
			crlStore.AddCRL(raw)
		}
	}

	chain := validation.NewCertificateChainValidator(retriever)
	rv := chain.RevocationDataValidator().
		AddOCSPClient(ocspStore).
		AddCRLClient(crlStore).
		SetOnlineFetching(opts.OnlineFetching)
	if opts.Freshness > 0 {
		rv.SetFreshness(opts.Freshness)
	}
	if opts.OCSPClient != nil {
		rv.SetOnlineOCSPClient(opts.OCSPClient)
	}
	if opts.CRLClient != nil {
		rv.SetOnlineCRLClient(opts.CRLClient)
	}

	for i, s := range sigs {
		sr := SignatureReport{
			Signature:           s,
			Data:                parsed[i],
			CoversWholeDocument: s.CoversWholeDocument(int64(len(data))),
			Report:              report.New(),
		}
		validateSignature(ctx, &sr, data, chain, opts.ValidationTime)
		metrics.ValidationDone(sr.Result().String())
		logging.WithComponent("validate").WithFields(logrus.Fields{
			"field":  s.FieldName,
			"result": sr.Result().String(),
		}).Info("signature validated")
		reports = append(reports, sr)
	}
	return reports, nil
}

func validateSignature(ctx context.Context, sr *SignatureReport, data []byte, chain *validation.CertificateChainValidator, at time.Time) {
	r := sr.Report
	sd := sr.Data
	if sd == nil {
		r.AddReportItem(report.NewItem(nil, SignatureIntegrityCheck, "Signature container cannot be parsed.", report.Invalid))
		return
	}
	sr.SigningCertificate = sd.SigningCertificate

	signed, err := sr.Signature.SignedBytes(data)
	if err == nil {
		err = sd.Verify(signed)
	}
	if err != nil {
		r.AddReportItem(report.NewItem(sd.SigningCertificate, SignatureIntegrityCheck,
			fmt.Sprintf("Signature %s is not valid: %v.", sr.Signature.FieldName, err), report.Invalid))
		return
	}

	if !sd.DocumentTimestamp && sd.Timestamp != nil {
		if err := sd.VerifyTimestampImprint(); err != nil {
			r.AddReportItem(report.NewItem(nil, TimestampCheck,
				fmt.Sprintf("Signature time-stamp of %s is not valid: %v.", sr.Signature.FieldName, err), report.Invalid))
		}
	}

	date := at
	if date.IsZero() {
		if ts, ok := sd.TimestampDate(); ok {
			date = ts
		} else {
			date = time.Now()
		}
	}
	sr.ValidationTime = date

	chain.Validate(ctx, r, sd.SigningCertificate, date)
}
