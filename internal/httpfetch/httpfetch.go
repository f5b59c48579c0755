// Package httpfetch performs the rate limited HTTP requests used for OCSP,
// CRL, AIA and TSA traffic.
package httpfetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single request when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// MaxResponseSize limits the body that is read from a server.
const MaxResponseSize = 10 << 20

// Fetcher issues HTTP requests. The zero value is usable.
type Fetcher struct {
	Client  *http.Client
	Limiter *rate.Limiter
	// Header is added to every request.
	Header http.Header
}

// New returns a fetcher with the given timeout and request rate. A zero rate
// disables limiting.
func New(timeout time.Duration, requestsPerSecond float64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := &Fetcher{Client: &http.Client{Timeout: timeout}}
	if requestsPerSecond > 0 {
		f.Limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return f
}

// WithBasicAuth returns a copy of f that sends HTTP basic credentials.
func (f *Fetcher) WithBasicAuth(username, password string) *Fetcher {
	c := &Fetcher{}
	if f != nil {
		*c = *f
	}
	c.Header = c.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	c.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	return c
}

// StatusError is returned for non 2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return "non success response (" + strconv.Itoa(e.StatusCode) + ") from " + e.URL + ": " + e.Body
	}
	return "non success response (" + strconv.Itoa(e.StatusCode) + ") from " + e.URL
}

// Get fetches url. kind labels the request in logs and metrics.
func (f *Fetcher) Get(ctx context.Context, kind, url string) ([]byte, error) {
	return f.Do(ctx, kind, http.MethodGet, url, "", nil)
}

// Post sends body with the given content type to url.
func (f *Fetcher) Post(ctx context.Context, kind, url, contentType string, body []byte) ([]byte, error) {
	return f.Do(ctx, kind, http.MethodPost, url, contentType, body)
}

// Do performs a request and returns the response body.
func (f *Fetcher) Do(ctx context.Context, kind, method, url, contentType string, body []byte) (data []byte, err error) {
	if f == nil {
		f = &Fetcher{}
	}
	start := time.Now()
	log := logging.Logger().WithFields(logrus.Fields{"kind": kind, "url": url})
	defer func() {
		metrics.ObserveFetch(kind, start, err)
		if err != nil {
			log.WithError(err).Debug("fetch failed")
		} else {
			log.WithField("bytes", len(data)).Debug("fetched")
		}
	}()

	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request (%s): %w", url, err)
	}
	for k, values := range f.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err = io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := data
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	if len(data) > MaxResponseSize {
		return nil, errors.New("response from " + url + " exceeds the size limit")
	}
	return data, nil
}
