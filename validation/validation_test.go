package validation

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/internal/testpki"
	"github.com/digitorus/pades/report"
	"github.com/digitorus/pades/revocation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

const day = 24 * time.Hour

type fixture struct {
	ca        *testpki.Authority
	responder *testpki.Authority
	checkCert *testpki.Authority
	retriever *certs.IssuingCertificateRetriever
	checkDate time.Time
}

func newFixture(t *testing.T) *fixture {
	ca := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Validation Root CA"})
	f := &fixture{
		ca: ca,
		responder: ca.Issue(t, testpki.CertOptions{
			CommonName:  "Validation OCSP Responder",
			OCSPNoCheck: true,
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning},
		}),
		checkCert: ca.Issue(t, testpki.CertOptions{CommonName: "Validation Sign Cert"}),
		retriever: &certs.IssuingCertificateRetriever{},
		checkDate: time.Now().UTC().Truncate(time.Second),
	}
	f.retriever.SetTrustedCertificates([]*x509.Certificate{ca.Cert})
	return f
}

func (f *fixture) ocsp(t *testing.T, status int, thisUpdate time.Time) []byte {
	return f.ca.OCSPResponse(t, f.checkCert.Cert, testpki.OCSPOptions{
		Status:         status,
		ThisUpdate:     thisUpdate,
		RevokedAt:      f.checkDate.Add(-day),
		Responder:      f.responder,
		EmbedResponder: true,
	})
}

func (f *fixture) validator() *RevocationDataValidator {
	return NewRevocationDataValidator(f.retriever).
		SetOnlineOCSPClient(nil).
		SetOnlineCRLClient(nil)
}

func messages(items []report.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Message)
	}
	return out
}

func TestBasicOCSP(t *testing.T) {
	f := newFixture(t)
	client := (&ValidationOCSPClient{}).AddResponse(f.ocsp(t, ocsp.Good, f.checkDate.Add(5*day)))

	r := report.New()
	f.validator().AddOCSPClient(client).Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, report.Valid, r.Result())
	assert.Empty(t, r.Failures())
	require.Len(t, r.Logs(), 2)
	assert.Equal(t, TrustedOCSPResponder, r.Logs()[0].Message)
	assert.True(t, r.Logs()[0].Certificate.Equal(f.responder.Cert))
	assert.Equal(t, fmt.Sprintf(CertificateTrusted, f.ca.Cert.Subject.String()), r.Logs()[1].Message)
	assert.Equal(t, CertificateCheck, r.Logs()[1].CheckName)
}

func TestBasicCRL(t *testing.T) {
	f := newFixture(t)
	revokedAt := f.checkDate.Add(-day)
	crl := f.ca.CRL(t, f.checkDate, f.checkDate.Add(10*day), testpki.Revoked(f.checkCert.Cert, revokedAt))

	r := report.New()
	f.validator().
		SetFreshness(0).
		AddCRLClient((&ValidationCRLClient{}).AddCRL(crl)).
		Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, report.ResultInvalid, r.Result())
	assert.Equal(t, []string{
		CRLNextUpdateAsDate,
		fmt.Sprintf(CertificateTrusted, f.ca.Cert.Subject.String()),
		fmt.Sprintf(CertificateRevoked, f.ca.Cert.Subject.String(), formatDate(revokedAt)),
	}, messages(r.Logs()))
	require.Len(t, r.Failures(), 1)
	assert.Equal(t, CRLCheck, r.Failures()[0].CheckName)
	assert.True(t, r.Failures()[0].Certificate.Equal(f.checkCert.Cert))
}

func TestUseFreshCRL(t *testing.T) {
	f := newFixture(t)
	revokedAt := f.checkDate.Add(-day)
	older := f.ca.CRL(t, f.checkDate.Add(-2*day), f.checkDate.Add(10*day))
	fresher := f.ca.CRL(t, f.checkDate, f.checkDate.Add(10*day), testpki.Revoked(f.checkCert.Cert, revokedAt))

	r := report.New()
	f.validator().
		SetFreshness(5*day).
		AddCRLClient((&ValidationCRLClient{}).AddCRL(older).AddCRL(fresher)).
		Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, report.ResultInvalid, r.Result())
	assert.Len(t, r.Logs(), 3)
	assert.Len(t, r.Failures(), 1)
}

func TestUseFreshOCSP(t *testing.T) {
	f := newFixture(t)
	client := (&ValidationOCSPClient{}).
		AddResponse(f.ocsp(t, ocsp.Unknown, f.checkDate.Add(-3*day))).
		AddResponse(f.ocsp(t, ocsp.Good, f.checkDate.Add(2*day))).
		AddResponse(f.ocsp(t, ocsp.Revoked, f.checkDate.Add(-2*day)))

	r := report.New()
	f.validator().AddOCSPClient(client).Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, report.Valid, r.Result())
	assert.Len(t, r.Logs(), 2)
	assert.Empty(t, r.Failures())
}

func TestValidityAssured(t *testing.T) {
	f := newFixture(t)
	cert := f.ca.Issue(t, testpki.CertOptions{CommonName: "Short Term", ValidityAssured: true})

	r := report.New()
	f.validator().Validate(context.Background(), r, cert.Cert, f.checkDate)

	assert.Equal(t, report.Valid, r.Result())
	require.Len(t, r.Logs(), 1)
	assert.Equal(t, ValidityAssured, r.Logs()[0].Message)
}

func TestSelfSigned(t *testing.T) {
	f := newFixture(t)
	r := report.New()
	f.validator().Validate(context.Background(), r, f.ca.Cert, f.checkDate)
	require.Len(t, r.Logs(), 1)
	assert.Equal(t, SelfSignedCertificate, r.Logs()[0].Message)
}

func TestNoRevocationData(t *testing.T) {
	f := newFixture(t)
	r := report.New()
	f.validator().SetOnlineFetching(NeverFetch).Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, report.ResultIndeterminate, r.Result())
	require.Len(t, r.Logs(), 1)
	assert.Equal(t, report.NewItem(f.checkCert.Cert, RevocationDataCheck, NoRevocationData, report.Indeterminate), r.Logs()[0])
}

type countingOCSPClient struct{ calls int }

func (c *countingOCSPClient) GetEncoded(context.Context, *x509.Certificate, *x509.Certificate, string) ([]byte, error) {
	c.calls++
	return nil, errors.New("offline")
}

type countingCRLClient struct {
	calls int
	data  [][]byte
}

func (c *countingCRLClient) GetEncoded(context.Context, *x509.Certificate, string) ([][]byte, error) {
	c.calls++
	if c.data == nil {
		return nil, errors.New("offline")
	}
	return c.data, nil
}

func TestTryFetchOnline(t *testing.T) {
	f := newFixture(t)
	online := &countingOCSPClient{}
	onlineCRL := &countingCRLClient{}

	r := report.New()
	f.validator().
		SetOnlineOCSPClient(online).
		SetOnlineCRLClient(onlineCRL).
		Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, 1, online.calls)
	assert.Equal(t, 1, onlineCRL.calls)
	assert.Equal(t, report.ResultIndeterminate, r.Result())
	assert.Len(t, r.Logs(), 1, "online failures are not reported")
}

func TestOnlineFetchingPolicy(t *testing.T) {
	f := newFixture(t)
	stored := (&ValidationOCSPClient{}).AddResponse(f.ocsp(t, ocsp.Good, f.checkDate))

	tests := []struct {
		policy OnlineFetching
		stored bool
		calls  int
	}{
		{policy: FetchIfNoOtherDataAvailable, stored: true, calls: 0},
		{policy: FetchIfNoOtherDataAvailable, stored: false, calls: 1},
		{policy: AlwaysFetch, stored: true, calls: 1},
		{policy: NeverFetch, stored: false, calls: 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.policy, tt.stored), func(t *testing.T) {
			online := &countingOCSPClient{}
			v := f.validator().SetOnlineFetching(tt.policy).SetOnlineOCSPClient(online)
			if tt.stored {
				v.AddOCSPClient(stored)
			}
			v.Validate(context.Background(), report.New(), f.checkCert.Cert, f.checkDate)
			assert.Equal(t, tt.calls, online.calls)
		})
	}
}

func TestCRLEncodingError(t *testing.T) {
	f := newFixture(t)
	r := report.New()
	f.validator().
		AddCRLClient(&countingCRLClient{data: [][]byte{[]byte("incorrect crl")}}).
		Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, []string{CRLParsingError, NoRevocationData}, messages(r.Logs()))
	assert.Equal(t, report.Info, r.Logs()[0].Status)
}

func TestClientFailure(t *testing.T) {
	f := newFixture(t)
	r := report.New()
	f.validator().
		SetOnlineFetching(NeverFetch).
		AddOCSPClient(&countingOCSPClient{}).
		AddCRLClient(&countingCRLClient{}).
		Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, []string{
		fmt.Sprintf(OCSPClientFailure, "*validation.countingOCSPClient"),
		fmt.Sprintf(CRLClientFailure, "*validation.countingCRLClient"),
		NoRevocationData,
	}, messages(r.Logs()))
}

func TestSortResponses(t *testing.T) {
	f := newFixture(t)
	ocspClient := (&ValidationOCSPClient{}).
		AddResponse(f.ocsp(t, ocsp.Good, f.checkDate.Add(-2*day))).
		AddResponse(f.ocsp(t, ocsp.Unknown, f.checkDate.Add(3*day))).
		AddResponse(f.ocsp(t, ocsp.Unknown, f.checkDate.Add(5*day)))
	crlClient := (&ValidationCRLClient{}).
		AddCRL(f.ca.CRL(t, f.checkDate, f.checkDate.Add(10*day))).
		AddCRL(f.ca.CRL(t, f.checkDate.Add(2*day), f.checkDate.Add(10*day)))

	v := f.validator().AddOCSPClient(ocspClient).AddCRLClient(crlClient)
	v.OCSPValidator().SetFreshness(30 * day)
	v.CRLValidator().SetFreshness(-5 * day)

	r := report.New()
	v.Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, report.Valid, r.Result())
	assert.Empty(t, r.Failures())
	logs := r.Logs()
	require.Len(t, logs, 6)
	assert.Equal(t, CertStatusIsUnknown, logs[0].Message)
	assert.Equal(t, CertStatusIsUnknown, logs[1].Message)
	assert.Equal(t, fmt.Sprintf(CRLFreshnessCheck, formatDate(f.checkDate.Add(2*day)), formatDate(f.checkDate), -5*day), logs[2].Message)
	assert.Equal(t, fmt.Sprintf(CRLFreshnessCheck, formatDate(f.checkDate), formatDate(f.checkDate), -5*day), logs[3].Message)
	assert.Equal(t, TrustedOCSPResponder, logs[4].Message)
	assert.Equal(t, fmt.Sprintf(CertificateTrusted, f.ca.Cert.Subject.String()), logs[5].Message)
}

func TestSortEvidenceTies(t *testing.T) {
	f := newFixture(t)
	v := f.validator().
		AddOCSPClient((&ValidationOCSPClient{}).AddResponse(f.ocsp(t, ocsp.Unknown, f.checkDate))).
		AddCRLClient((&ValidationCRLClient{}).AddCRL(f.ca.CRL(t, f.checkDate, f.checkDate.Add(day))))

	r := report.New()
	v.Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)
	assert.Equal(t, report.Valid, r.Result())
	assert.Equal(t, []string{
		CRLNextUpdateAsDate,
		fmt.Sprintf(CertificateTrusted, f.ca.Cert.Subject.String()),
	}, messages(r.Logs()), "CRL wins a tie and is decisive")
}

func TestNewestValidOCSPWins(t *testing.T) {
	f := newFixture(t)
	revokedLater := f.ca.OCSPResponse(t, f.checkCert.Cert, testpki.OCSPOptions{
		Status:         ocsp.Revoked,
		ThisUpdate:     f.checkDate,
		RevokedAt:      f.checkDate.Add(day),
		Responder:      f.responder,
		EmbedResponder: true,
	})
	good := f.ocsp(t, ocsp.Good, f.checkDate.Add(2*day))
	revokedMessage := fmt.Sprintf(ValidCertificateRevoked, formatDate(f.checkDate.Add(day)))

	// Each response is VALID on its own.
	for _, raw := range [][]byte{revokedLater, good} {
		r := report.New()
		f.validator().AddOCSPClient((&ValidationOCSPClient{}).AddResponse(raw)).
			Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)
		require.Equal(t, report.Valid, r.Result())
	}

	r := report.New()
	f.validator().
		AddOCSPClient((&ValidationOCSPClient{}).AddResponse(revokedLater).AddResponse(good)).
		Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)

	assert.Equal(t, report.Valid, r.Result())
	assert.NotContains(t, messages(r.Logs()), revokedMessage, "the newer good response is decisive")
	assert.Equal(t, []string{
		TrustedOCSPResponder,
		fmt.Sprintf(CertificateTrusted, f.ca.Cert.Subject.String()),
	}, messages(r.Logs()))
}

func TestSortEvidenceProducedAt(t *testing.T) {
	f := newFixture(t)
	parse := func(status int, producedAt time.Time) *revocation.OCSPResponse {
		resp, err := revocation.ParseOCSP(f.ocsp(t, status, f.checkDate), f.checkCert.Cert)
		require.NoError(t, err)
		resp.ProducedAt = producedAt
		return resp
	}
	earlier := parse(ocsp.Good, f.checkDate.Add(-time.Hour))
	later := parse(ocsp.Revoked, f.checkDate)
	require.True(t, earlier.ThisUpdate.Equal(later.ThisUpdate))

	for name, in := range map[string][]*revocation.OCSPResponse{
		"earlier first": {earlier, later},
		"later first":   {later, earlier},
	} {
		t.Run(name, func(t *testing.T) {
			out := sortEvidence(in, nil)
			require.Len(t, out, 2)
			assert.Same(t, later, out[0].ocsp)
			assert.Same(t, earlier, out[1].ocsp)
		})
	}
}

func TestFreshnessIsExclusive(t *testing.T) {
	f := newFixture(t)
	freshness := 10 * day

	for _, tt := range []struct {
		offset time.Duration
		result report.Result
	}{
		{offset: 0, result: report.Valid},
		{offset: -time.Second, result: report.ResultIndeterminate},
	} {
		thisUpdate := f.checkDate.Add(-freshness).Add(tt.offset)
		resp := f.ocsp(t, ocsp.Good, thisUpdate)
		r := report.New()
		f.validator().
			SetOnlineFetching(NeverFetch).
			SetFreshness(freshness).
			AddOCSPClient((&ValidationOCSPClient{}).AddResponse(resp)).
			Validate(context.Background(), r, f.checkCert.Cert, f.checkDate)
		assert.Equal(t, tt.result, r.Result(), "offset %s", tt.offset)
	}
}

func TestOCSPValidator(t *testing.T) {
	f := newFixture(t)
	other := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Other Root"})
	otherResponder := other.Issue(t, testpki.CertOptions{CommonName: "Other Responder", OCSPNoCheck: true})
	expired := f.ca.Issue(t, testpki.CertOptions{
		CommonName: "Expired",
		NotBefore:  f.checkDate.AddDate(-1, 0, 0),
		NotAfter:   f.checkDate.Add(-day),
	})

	tests := []struct {
		name    string
		cert    *x509.Certificate
		raw     []byte
		status  report.Result
		message string
	}{
		{
			name: "issuers do not match",
			cert: f.checkCert.Cert,
			raw: other.OCSPResponse(t, f.checkCert.Cert, testpki.OCSPOptions{
				Status: ocsp.Good, ThisUpdate: f.checkDate,
			}),
			status:  report.ResultIndeterminate,
			message: IssuersDoNotMatch,
		},
		{
			name: "no longer valid",
			cert: f.checkCert.Cert,
			raw: f.ca.OCSPResponse(t, f.checkCert.Cert, testpki.OCSPOptions{
				Status: ocsp.Good, ThisUpdate: f.checkDate.Add(-2 * day), NextUpdate: f.checkDate.Add(-day),
			}),
			status:  report.ResultIndeterminate,
			message: fmt.Sprintf(OCSPIsNoLongerValid, formatDate(f.checkDate), formatDate(f.checkDate.Add(-day))),
		},
		{
			name: "expired certificate",
			cert: expired.Cert,
			raw: f.ca.OCSPResponse(t, expired.Cert, testpki.OCSPOptions{
				Status: ocsp.Good, ThisUpdate: f.checkDate,
			}),
			status:  report.ResultIndeterminate,
			message: fmt.Sprintf(CertIsExpired, formatDate(expired.Cert.NotAfter)),
		},
		{
			name:    "revoked",
			cert:    f.checkCert.Cert,
			raw:     f.ocsp(t, ocsp.Revoked, f.checkDate),
			status:  report.ResultInvalid,
			message: CertIsRevoked,
		},
		{
			name: "revoked after validation date",
			cert: f.checkCert.Cert,
			raw: f.ca.OCSPResponse(t, f.checkCert.Cert, testpki.OCSPOptions{
				Status: ocsp.Revoked, ThisUpdate: f.checkDate, RevokedAt: f.checkDate.Add(day),
			}),
			status:  report.Valid,
			message: fmt.Sprintf(ValidCertificateRevoked, formatDate(f.checkDate.Add(day))),
		},
		{
			name: "responder not found",
			cert: f.checkCert.Cert,
			raw: f.ca.OCSPResponse(t, f.checkCert.Cert, testpki.OCSPOptions{
				Status: ocsp.Good, ThisUpdate: f.checkDate, Responder: f.responder,
			}),
			status:  report.ResultIndeterminate,
			message: OCSPCouldNotBeVerified,
		},
		{
			name: "unauthorized responder",
			cert: f.checkCert.Cert,
			raw: f.ca.OCSPResponse(t, f.checkCert.Cert, testpki.OCSPOptions{
				Status: ocsp.Good, ThisUpdate: f.checkDate, Responder: otherResponder, EmbedResponder: true,
			}),
			status:  report.ResultIndeterminate,
			message: InvalidOCSP,
		},
		{
			name: "issuer signed",
			cert: f.checkCert.Cert,
			raw: f.ca.OCSPResponse(t, f.checkCert.Cert, testpki.OCSPOptions{
				Status: ocsp.Good, ThisUpdate: f.checkDate,
			}),
			status:  report.Valid,
			message: fmt.Sprintf(CertificateTrusted, f.ca.Cert.Subject.String()),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := revocation.ParseOCSP(tt.raw, tt.cert)
			require.NoError(t, err)
			r := report.New()
			f.validator().OCSPValidator().Validate(context.Background(), r, tt.cert, resp, f.checkDate)
			assert.Equal(t, tt.status, r.Result(), r.String())
			assert.Contains(t, messages(r.Logs()), tt.message)
		})
	}
}

func TestCRLValidator(t *testing.T) {
	f := newFixture(t)
	other := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Validation Root CA"})

	tests := []struct {
		name    string
		crl     []byte
		status  report.Result
		message string
	}{
		{
			name:    "not fresh",
			crl:     f.ca.CRL(t, f.checkDate.Add(-40*day), f.checkDate.Add(day)),
			status:  report.ResultIndeterminate,
			message: fmt.Sprintf(CRLFreshnessCheck, formatDate(f.checkDate.Add(-40*day)), formatDate(f.checkDate), DefaultFreshness),
		},
		{
			name:    "next update before date",
			crl:     f.ca.CRL(t, f.checkDate.Add(-2*day), f.checkDate.Add(-day)),
			status:  report.ResultIndeterminate,
			message: fmt.Sprintf(UpdateDateBeforeCheckDate, formatDate(f.checkDate.Add(-day)), formatDate(f.checkDate)),
		},
		{
			name:    "signed by impostor",
			crl:     other.CRL(t, f.checkDate, f.checkDate.Add(day)),
			status:  report.ResultInvalid,
			message: CRLInvalid,
		},
		{
			name:    "revoked after date",
			crl:     f.ca.CRL(t, f.checkDate, f.checkDate.Add(day), testpki.Revoked(f.checkCert.Cert, f.checkDate.Add(time.Hour))),
			status:  report.Valid,
			message: fmt.Sprintf(ValidCertificateRevoked, formatDate(f.checkDate.Add(time.Hour))),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crl, err := x509.ParseRevocationList(tt.crl)
			require.NoError(t, err)
			r := report.New()
			f.validator().CRLValidator().Validate(context.Background(), r, f.checkCert.Cert, crl, f.checkDate)
			assert.Equal(t, tt.status, r.Result(), r.String())
			assert.Contains(t, messages(r.Logs()), tt.message)
		})
	}

	t.Run("issuer not found", func(t *testing.T) {
		stranger := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Stranger"})
		crl, err := x509.ParseRevocationList(stranger.CRL(t, f.checkDate, f.checkDate.Add(day)))
		require.NoError(t, err)
		r := report.New()
		NewCRLValidator(f.retriever).Validate(context.Background(), r, f.checkCert.Cert, crl, f.checkDate)
		assert.Equal(t, []string{CRLIssuerNotFound}, messages(r.Logs()))
	})
}

func TestCertificateChainValidator(t *testing.T) {
	f := newFixture(t)
	intermediate := f.ca.Issue(t, testpki.CertOptions{CommonName: "Intermediate", IsCA: true})
	leaf := intermediate.Issue(t, testpki.CertOptions{CommonName: "Leaf"})
	notCA := f.ca.Issue(t, testpki.CertOptions{CommonName: "Not a CA"})
	underNotCA := notCA.Issue(t, testpki.CertOptions{CommonName: "Under Not a CA"})
	impostor := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Intermediate"})
	ctx := context.Background()

	newValidator := func(known ...*x509.Certificate) *CertificateChainValidator {
		retriever := (&certs.IssuingCertificateRetriever{}).
			SetTrustedCertificates([]*x509.Certificate{f.ca.Cert}).
			AddKnownCertificates(known)
		v := NewCertificateChainValidator(retriever)
		v.RevocationDataValidator().
			SetOnlineFetching(NeverFetch).
			SetOnlineOCSPClient(nil).
			SetOnlineCRLClient(nil)
		return v
	}

	t.Run("trusted", func(t *testing.T) {
		r := report.New()
		newValidator().Validate(ctx, r, f.ca.Cert, f.checkDate)
		assert.Equal(t, report.Valid, r.Result())
		assert.Len(t, r.Logs(), 1)
	})

	t.Run("full chain", func(t *testing.T) {
		r := report.New()
		newValidator(intermediate.Cert).Validate(ctx, r, leaf.Cert, f.checkDate)
		assert.Equal(t, report.ResultIndeterminate, r.Result(), "no revocation data")
		assert.Equal(t, []string{
			NoRevocationData,
			NoRevocationData,
			fmt.Sprintf(CertificateTrusted, f.ca.Cert.Subject.String()),
		}, messages(r.Logs()))
	})

	t.Run("issuer missing", func(t *testing.T) {
		r := report.New()
		newValidator().Validate(ctx, r, leaf.Cert, f.checkDate)
		assert.Contains(t, messages(r.Failures()), fmt.Sprintf(IssuerMissing, leaf.Cert.Subject.String()))
	})

	t.Run("issuer cannot be verified", func(t *testing.T) {
		r := report.New()
		newValidator(impostor.Cert).Validate(ctx, r, leaf.Cert, f.checkDate)
		assert.Equal(t, report.ResultInvalid, r.Result())
		assert.Contains(t, messages(r.Failures()),
			fmt.Sprintf(IssuerCannotBeVerified, impostor.Cert.Subject.String(), leaf.Cert.Subject.String()))
	})

	t.Run("expired", func(t *testing.T) {
		r := report.New()
		newValidator(intermediate.Cert).Validate(ctx, r, leaf.Cert, f.checkDate.AddDate(2, 0, 0))
		assert.Contains(t, messages(r.Failures()), fmt.Sprintf(ExpiredCertificate, leaf.Cert.Subject.String()))
	})

	t.Run("not yet valid", func(t *testing.T) {
		r := report.New()
		newValidator(intermediate.Cert).Validate(ctx, r, leaf.Cert, f.checkDate.AddDate(-2, 0, 0))
		assert.Contains(t, messages(r.Failures()), fmt.Sprintf(NotYetValidCertificate, leaf.Cert.Subject.String()))
	})

	t.Run("issuer is not a CA", func(t *testing.T) {
		r := report.New()
		newValidator(notCA.Cert).Validate(ctx, r, underNotCA.Cert, f.checkDate)
		assert.Equal(t, report.ResultInvalid, r.Result())
		var extensionItems int
		for _, item := range r.Failures() {
			if item.CheckName == ExtensionsCheck {
				extensionItems++
				assert.True(t, strings.HasPrefix(item.Message, "Required extension "))
			}
		}
		assert.Equal(t, 2, extensionItems)
	})
}

func TestValidationClients(t *testing.T) {
	f := newFixture(t)
	other := f.ca.Issue(t, testpki.CertOptions{CommonName: "Other"})
	foreign := testpki.NewRoot(t, testpki.CertOptions{CommonName: "Foreign"})
	resp := f.ocsp(t, ocsp.Good, f.checkDate)

	oc := (&ValidationOCSPClient{}).AddResponse(resp).AddResponse(resp)
	assert.Len(t, oc.ListEncoded(f.checkCert.Cert), 1)
	assert.Empty(t, oc.ListEncoded(other.Cert))
	raw, err := oc.GetEncoded(context.Background(), f.checkCert.Cert, nil, "")
	require.NoError(t, err)
	assert.Equal(t, resp, raw)
	_, err = oc.GetEncoded(context.Background(), other.Cert, nil, "")
	assert.Error(t, err)

	cc := (&ValidationCRLClient{}).
		AddCRL(f.ca.CRL(t, f.checkDate, f.checkDate.Add(day))).
		AddCRL(foreign.CRL(t, f.checkDate, f.checkDate.Add(day))).
		AddCRL([]byte("broken"))
	crls, err := cc.GetEncoded(context.Background(), f.checkCert.Cert, "")
	require.NoError(t, err)
	assert.Len(t, crls, 2, "matching CRL and the unparsable one")
}

func TestParseOnlineFetching(t *testing.T) {
	for _, p := range []OnlineFetching{FetchIfNoOtherDataAvailable, AlwaysFetch, NeverFetch} {
		got, err := ParseOnlineFetching(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseOnlineFetching("always-fetch")
	require.NoError(t, err)
	assert.Equal(t, AlwaysFetch, got)
	_, err = ParseOnlineFetching("sometimes")
	assert.Error(t, err)
}
