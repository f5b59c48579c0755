// Package report collects the outcome of certificate and revocation checks.
package report

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Status is the severity of a single report item.
type Status int

const (
	Info Status = iota
	Indeterminate
	Invalid
)

func (s Status) String() string {
	switch s {
	case Info:
		return "INFO"
	case Indeterminate:
		return "INDETERMINATE"
	case Invalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Result is the overall outcome of a report.
type Result int

const (
	Valid Result = iota
	ResultIndeterminate
	ResultInvalid
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "VALID"
	case ResultIndeterminate:
		return "INDETERMINATE"
	case ResultInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Item is a single entry of a ValidationReport. Certificate may be nil.
type Item struct {
	Certificate *x509.Certificate
	CheckName   string
	Message     string
	Status      Status
}

// NewItem returns an item about cert.
func NewItem(cert *x509.Certificate, checkName, message string, status Status) Item {
	return Item{
		Certificate: cert,
		CheckName:   checkName,
		Message:     message,
		Status:      status,
	}
}

func (i Item) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (%s)", i.CheckName, i.Message, i.Status)
	if i.Certificate != nil {
		fmt.Fprintf(&b, " certificate: %s", i.Certificate.Subject.String())
	}
	return b.String()
}

// ValidationReport is an append-only list of report items. A report belongs to
// the validation run that created it and is not safe for concurrent use.
type ValidationReport struct {
	items []Item
}

// New returns an empty report.
func New() *ValidationReport {
	return &ValidationReport{}
}

// AddReportItem appends item to the report.
func (r *ValidationReport) AddReportItem(item Item) *ValidationReport {
	r.items = append(r.items, item)
	return r
}

// Merge appends all items of other.
func (r *ValidationReport) Merge(other *ValidationReport) *ValidationReport {
	if other == nil {
		return r
	}
	r.items = append(r.items, other.items...)
	return r
}

// Result returns the worst status of all items.
func (r *ValidationReport) Result() Result {
	result := Valid
	for _, item := range r.items {
		switch item.Status {
		case Invalid:
			return ResultInvalid
		case Indeterminate:
			result = ResultIndeterminate
		}
	}
	return result
}

// Logs returns all items in insertion order.
func (r *ValidationReport) Logs() []Item {
	out := make([]Item, len(r.items))
	copy(out, r.items)
	return out
}

// Failures returns the items that are not informational.
func (r *ValidationReport) Failures() []Item {
	var out []Item
	for _, item := range r.items {
		if item.Status != Info {
			out = append(out, item)
		}
	}
	return out
}

// CertificateLogs returns the items reported about cert.
func (r *ValidationReport) CertificateLogs(cert *x509.Certificate) []Item {
	var out []Item
	for _, item := range r.items {
		if item.Certificate != nil && cert != nil && item.Certificate.Equal(cert) {
			out = append(out, item)
		}
	}
	return out
}

// CertificateFailures returns the failures reported about cert.
func (r *ValidationReport) CertificateFailures(cert *x509.Certificate) []Item {
	var out []Item
	for _, item := range r.CertificateLogs(cert) {
		if item.Status != Info {
			out = append(out, item)
		}
	}
	return out
}

func (r *ValidationReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ValidationReport{validationResult=%s\nreportItems=", r.Result())
	for _, item := range r.items {
		b.WriteString("\n  ")
		b.WriteString(item.String())
	}
	b.WriteString("}")
	return b.String()
}

type itemView struct {
	Certificate string `json:"certificate,omitempty" yaml:"certificate,omitempty"`
	Check       string `json:"check" yaml:"check"`
	Message     string `json:"message" yaml:"message"`
	Status      string `json:"status" yaml:"status"`
}

type reportView struct {
	Result string     `json:"result" yaml:"result"`
	Items  []itemView `json:"items" yaml:"items"`
}

func (r *ValidationReport) view() reportView {
	v := reportView{Result: r.Result().String(), Items: make([]itemView, 0, len(r.items))}
	for _, item := range r.items {
		iv := itemView{Check: item.CheckName, Message: item.Message, Status: item.Status.String()}
		if item.Certificate != nil {
			iv.Certificate = item.Certificate.Subject.String()
		}
		v.Items = append(v.Items, iv)
	}
	return v
}

// MarshalJSON renders the report with certificate subjects instead of raw certificates.
func (r *ValidationReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.view())
}

// MarshalYAML implements yaml.Marshaler.
func (r *ValidationReport) MarshalYAML() (interface{}, error) {
	return r.view(), nil
}

// Write encodes the report in the given format, "json", "yaml" or "text".
func (r *ValidationReport) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		_, err := fmt.Fprintln(w, r.String())
		return err
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}
