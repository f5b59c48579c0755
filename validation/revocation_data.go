// Package validation checks the trust chain and the revocation status of
// certificates and records every step in a report.ValidationReport.
package validation

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/report"
	"github.com/digitorus/pades/revocation"
	"github.com/sirupsen/logrus"
)

// DefaultFreshness is the maximum age of revocation data relative to the
// validation date.
const DefaultFreshness = 30 * 24 * time.Hour

// OIDValidityAssured marks short term certificates that need no revocation
// checking (ETSI EN 319 412-1, ext-etsi-valassured-ST-certs).
var OIDValidityAssured = asn1.ObjectIdentifier{0, 4, 0, 194121, 2, 1}

// OnlineFetching controls when the online OCSP and CRL clients are used.
type OnlineFetching int

const (
	FetchIfNoOtherDataAvailable OnlineFetching = iota
	AlwaysFetch
	NeverFetch
)

func (o OnlineFetching) String() string {
	switch o {
	case AlwaysFetch:
		return "ALWAYS_FETCH"
	case NeverFetch:
		return "NEVER_FETCH"
	default:
		return "FETCH_IF_NO_OTHER_DATA_AVAILABLE"
	}
}

// ParseOnlineFetching accepts the names returned by String, case insensitive.
func ParseOnlineFetching(s string) (OnlineFetching, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "FETCH_IF_NO_OTHER_DATA_AVAILABLE":
		return FetchIfNoOtherDataAvailable, nil
	case "ALWAYS_FETCH":
		return AlwaysFetch, nil
	case "NEVER_FETCH":
		return NeverFetch, nil
	}
	return FetchIfNoOtherDataAvailable, fmt.Errorf("unknown online fetching policy %q", s)
}

// RevocationDataValidator gathers OCSP responses and CRLs for a certificate
// and validates them, most recent first, until one is decisive.
type RevocationDataValidator struct {
	retriever   *certs.IssuingCertificateRetriever
	ocspClients []revocation.OCSPClient
	crlClients  []revocation.CRLClient
	onlineOCSP  revocation.OCSPClient
	onlineCRL   revocation.CRLClient
	fetching    OnlineFetching

	ocsp  *OCSPValidator
	crl   *CRLValidator
	chain *CertificateChainValidator
}

// NewRevocationDataValidator returns a validator wired with default OCSP,
// CRL and chain validators sharing retriever.
func NewRevocationDataValidator(retriever *certs.IssuingCertificateRetriever) *RevocationDataValidator {
	if retriever == nil {
		retriever = certs.NewIssuingCertificateRetriever()
	}
	v := &RevocationDataValidator{
		retriever:  retriever,
		onlineOCSP: revocation.NewOnlineOCSPClient(),
		onlineCRL:  revocation.NewOnlineCRLClient(),
	}
	v.chain = &CertificateChainValidator{retriever: retriever, revocation: v}
	v.ocsp = NewOCSPValidator(retriever).SetCertificateChainValidator(v.chain)
	v.crl = NewCRLValidator(retriever).SetCertificateChainValidator(v.chain)
	return v
}

func (v *RevocationDataValidator) SetIssuingCertificateRetriever(r *certs.IssuingCertificateRetriever) *RevocationDataValidator {
	v.retriever = r
	v.chain.retriever = r
	v.ocsp.retriever = r
	v.crl.retriever = r
	return v
}

func (v *RevocationDataValidator) SetOnlineFetching(f OnlineFetching) *RevocationDataValidator {
	v.fetching = f
	return v
}

// AddOCSPClient adds a source of OCSP responses consulted on every validation.
func (v *RevocationDataValidator) AddOCSPClient(c revocation.OCSPClient) *RevocationDataValidator {
	v.ocspClients = append(v.ocspClients, c)
	return v
}

// AddCRLClient adds a source of CRLs consulted on every validation.
func (v *RevocationDataValidator) AddCRLClient(c revocation.CRLClient) *RevocationDataValidator {
	v.crlClients = append(v.crlClients, c)
	return v
}

// SetOnlineOCSPClient replaces the client used for online fetching. nil
// disables online OCSP.
func (v *RevocationDataValidator) SetOnlineOCSPClient(c revocation.OCSPClient) *RevocationDataValidator {
	v.onlineOCSP = c
	return v
}

// SetOnlineCRLClient replaces the client used for online fetching. nil
// disables online CRLs.
func (v *RevocationDataValidator) SetOnlineCRLClient(c revocation.CRLClient) *RevocationDataValidator {
	v.onlineCRL = c
	return v
}

func (v *RevocationDataValidator) SetOCSPValidator(o *OCSPValidator) *RevocationDataValidator {
	if o.chain == nil {
		o.chain = v.chain
	}
	v.ocsp = o
	return v
}

func (v *RevocationDataValidator) SetCRLValidator(c *CRLValidator) *RevocationDataValidator {
	if c.chain == nil {
		c.chain = v.chain
	}
	v.crl = c
	return v
}

// SetFreshness sets the freshness of both the OCSP and the CRL validator.
func (v *RevocationDataValidator) SetFreshness(d time.Duration) *RevocationDataValidator {
	v.ocsp.SetFreshness(d)
	v.crl.SetFreshness(d)
	return v
}

// OCSPValidator returns the OCSP validator in use.
func (v *RevocationDataValidator) OCSPValidator() *OCSPValidator { return v.ocsp }

// CRLValidator returns the CRL validator in use.
func (v *RevocationDataValidator) CRLValidator() *CRLValidator { return v.crl }

// CertificateChainValidator returns the chain validator used for responders
// and CRL issuers.
func (v *RevocationDataValidator) CertificateChainValidator() *CertificateChainValidator {
	return v.chain
}

type evidence struct {
	ocsp *revocation.OCSPResponse
	crl  *x509.RevocationList
}

// Validate records the revocation status of cert at date in r.
func (v *RevocationDataValidator) Validate(ctx context.Context, r *report.ValidationReport, cert *x509.Certificate, date time.Time) {
	switch {
	case certs.IsSelfSigned(cert):
		r.AddReportItem(report.NewItem(cert, RevocationDataCheck, SelfSignedCertificate, report.Info))
		return
	case hasExtension(cert, OIDValidityAssured):
		r.AddReportItem(report.NewItem(cert, RevocationDataCheck, ValidityAssured, report.Info))
		return
	case revocation.HasNoCheck(cert):
		r.AddReportItem(report.NewItem(cert, RevocationDataCheck, TrustedOCSPResponder, report.Info))
		return
	}

	log := logging.WithComponent("validation").WithFields(logrus.Fields{
		"subject": cert.Subject.String(),
		"serial":  cert.SerialNumber.String(),
	})

	issuer := &lazyIssuer{ctx: ctx, retriever: v.retriever, cert: cert}
	responses := v.gatherOCSP(ctx, r, cert, issuer)
	crls := v.gatherCRLs(ctx, r, cert)

	if v.fetching == AlwaysFetch || (v.fetching != NeverFetch && len(responses) == 0 && len(crls) == 0) {
		responses = append(responses, v.fetchOCSP(ctx, log, cert, issuer)...)
		crls = append(crls, v.fetchCRLs(ctx, log, cert)...)
	}

	candidates := sortEvidence(responses, crls)
	log.WithFields(logrus.Fields{"ocsp": len(responses), "crl": len(crls)}).Debug("validating revocation data")

	pending := report.New()
	for _, e := range candidates {
		scratch := report.New()
		if e.ocsp != nil {
			v.ocsp.Validate(ctx, scratch, cert, e.ocsp, date)
		} else {
			v.crl.Validate(ctx, scratch, cert, e.crl, date)
		}
		switch scratch.Result() {
		case report.ResultIndeterminate:
			pending.Merge(scratch)
			continue
		case report.Valid:
			for _, item := range pending.Logs() {
				if item.Status == report.Indeterminate {
					item.Status = report.Info
				}
				r.AddReportItem(item)
			}
		default:
			r.Merge(pending)
		}
		r.Merge(scratch)
		return
	}
	r.Merge(pending)
	r.AddReportItem(report.NewItem(cert, RevocationDataCheck, NoRevocationData, report.Indeterminate))
}

type lazyIssuer struct {
	ctx       context.Context
	retriever *certs.IssuingCertificateRetriever
	cert      *x509.Certificate
	done      bool
	issuer    *x509.Certificate
}

func (l *lazyIssuer) get() *x509.Certificate {
	if !l.done {
		l.issuer = l.retriever.RetrieveIssuerCertificate(l.ctx, l.cert)
		l.done = true
	}
	return l.issuer
}

func (v *RevocationDataValidator) gatherOCSP(ctx context.Context, r *report.ValidationReport, cert *x509.Certificate, issuer *lazyIssuer) []*revocation.OCSPResponse {
	var out []*revocation.OCSPResponse
	for _, client := range v.ocspClients {
		var raws [][]byte
		if lister, ok := client.(OCSPResponseLister); ok {
			raws = lister.ListEncoded(cert)
		} else {
			raw, err := client.GetEncoded(ctx, cert, issuer.get(), "")
			if err != nil {
				r.AddReportItem(report.NewItem(cert, RevocationDataCheck, fmt.Sprintf(OCSPClientFailure, fmt.Sprintf("%T", client)), report.Info))
				continue
			}
			if raw != nil {
				raws = [][]byte{raw}
			}
		}
		for _, raw := range raws {
			if resp, err := revocation.ParseOCSP(raw, cert); err == nil {
				out = append(out, resp)
			}
		}
	}
	return out
}

func (v *RevocationDataValidator) gatherCRLs(ctx context.Context, r *report.ValidationReport, cert *x509.Certificate) []*x509.RevocationList {
	var out []*x509.RevocationList
	for _, client := range v.crlClients {
		raws, err := client.GetEncoded(ctx, cert, "")
		if err != nil {
			r.AddReportItem(report.NewItem(cert, RevocationDataCheck, fmt.Sprintf(CRLClientFailure, fmt.Sprintf("%T", client)), report.Info))
			continue
		}
		for _, raw := range raws {
			crl, err := x509.ParseRevocationList(raw)
			if err != nil {
				r.AddReportItem(report.NewItem(cert, RevocationDataCheck, CRLParsingError, report.Info))
				continue
			}
			out = append(out, crl)
		}
	}
	return out
}

func (v *RevocationDataValidator) fetchOCSP(ctx context.Context, log *logrus.Entry, cert *x509.Certificate, issuer *lazyIssuer) []*revocation.OCSPResponse {
	if v.onlineOCSP == nil {
		return nil
	}
	raw, err := v.onlineOCSP.GetEncoded(ctx, cert, issuer.get(), "")
	if err != nil {
		log.WithError(err).Debug("online OCSP fetch failed")
		return nil
	}
	resp, err := revocation.ParseOCSP(raw, cert)
	if err != nil {
		log.WithError(err).Debug("online OCSP response rejected")
		return nil
	}
	return []*revocation.OCSPResponse{resp}
}

func (v *RevocationDataValidator) fetchCRLs(ctx context.Context, log *logrus.Entry, cert *x509.Certificate) []*x509.RevocationList {
	if v.onlineCRL == nil {
		return nil
	}
	raws, err := v.onlineCRL.GetEncoded(ctx, cert, "")
	if err != nil {
		log.WithError(err).Debug("online CRL fetch failed")
		return nil
	}
	var out []*x509.RevocationList
	for _, raw := range raws {
		crl, err := x509.ParseRevocationList(raw)
		if err != nil {
			log.WithError(err).Debug("online CRL rejected")
			continue
		}
		out = append(out, crl)
	}
	return out
}

// sortEvidence orders both lists by thisUpdate, most recent first, and
// interleaves them. On equal dates the CRL comes first.
func sortEvidence(responses []*revocation.OCSPResponse, crls []*x509.RevocationList) []evidence {
	sort.SliceStable(responses, func(i, j int) bool {
		a, b := responses[i], responses[j]
		if a.ThisUpdate.Equal(b.ThisUpdate) {
			return a.ProducedAt.After(b.ProducedAt)
		}
		return a.ThisUpdate.After(b.ThisUpdate)
	})
	sort.SliceStable(crls, func(i, j int) bool {
		return crls[i].ThisUpdate.After(crls[j].ThisUpdate)
	})

	out := make([]evidence, 0, len(responses)+len(crls))
	i, j := 0, 0
	for i < len(responses) || j < len(crls) {
		switch {
		case j == len(crls):
			out = append(out, evidence{ocsp: responses[i]})
			i++
		case i == len(responses):
			out = append(out, evidence{crl: crls[j]})
			j++
		case responses[i].ThisUpdate.After(crls[j].ThisUpdate):
			out = append(out, evidence{ocsp: responses[i]})
			i++
		default:
			out = append(out, evidence{crl: crls[j]})
			j++
		}
	}
	return out
}

func hasExtension(cert *x509.Certificate, oid asn1.ObjectIdentifier) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return true
		}
	}
	return false
}
