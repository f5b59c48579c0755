package report

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResult(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Result
	}{
		{"empty", nil, Valid},
		{"info only", []Status{Info, Info}, Valid},
		{"indeterminate", []Status{Info, Indeterminate}, ResultIndeterminate},
		{"invalid wins", []Status{Indeterminate, Invalid, Info}, ResultInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			for _, s := range tt.statuses {
				r.AddReportItem(NewItem(nil, "check", "message", s))
			}
			assert.Equal(t, tt.want, r.Result())
		})
	}
}

func TestFailuresAndCertificateFilters(t *testing.T) {
	a := &x509.Certificate{Raw: []byte{1}, Subject: pkix.Name{CommonName: "a"}}
	b := &x509.Certificate{Raw: []byte{2}, Subject: pkix.Name{CommonName: "b"}}

	r := New().
		AddReportItem(NewItem(a, "c1", "m1", Info)).
		AddReportItem(NewItem(b, "c2", "m2", Indeterminate)).
		AddReportItem(NewItem(a, "c3", "m3", Invalid))

	assert.Len(t, r.Logs(), 3)
	assert.Len(t, r.Failures(), 2)
	assert.Len(t, r.CertificateLogs(a), 2)
	require.Len(t, r.CertificateFailures(a), 1)
	assert.Equal(t, "m3", r.CertificateFailures(a)[0].Message)
}

func TestMergeKeepsOrder(t *testing.T) {
	first := New().AddReportItem(NewItem(nil, "c", "one", Info))
	second := New().AddReportItem(NewItem(nil, "c", "two", Indeterminate))
	first.Merge(second).Merge(nil)

	logs := first.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "one", logs[0].Message)
	assert.Equal(t, "two", logs[1].Message)
	assert.Equal(t, ResultIndeterminate, first.Result())
}

func TestWriteFormats(t *testing.T) {
	cert := &x509.Certificate{Raw: []byte{1}, Subject: pkix.Name{CommonName: "signer"}}
	r := New().AddReportItem(NewItem(cert, "Certificate check.", "trusted", Info))

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf, "json"))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "VALID", decoded["result"])

	buf.Reset()
	require.NoError(t, r.Write(&buf, "yaml"))
	var y map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &y))
	assert.Equal(t, "VALID", y["result"])

	buf.Reset()
	require.NoError(t, r.Write(&buf, "text"))
	assert.True(t, strings.Contains(buf.String(), "CN=signer"))

	assert.Error(t, r.Write(&buf, "xml"))
}
