// Package config reads the YAML configuration of the pades command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/asaskevich/govalidator"
	"gopkg.in/yaml.v3"

	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/internal/httpfetch"
	"github.com/digitorus/pades/validation"
)

// DefaultLocation is the config file read when none is given.
const DefaultLocation = "./pades.yaml"

// Config is the root of the config.
type Config struct {
	Signer     Signer     `yaml:"signer"`
	TSA        TSA        `yaml:"tsa"`
	Validation Validation `yaml:"validation"`
	Network    Network    `yaml:"network"`
	Log        Log        `yaml:"log"`
	Metrics    Metrics    `yaml:"metrics"`
}

// Signer holds the identity and the defaults of new signatures.
type Signer struct {
	Certificate string `yaml:"certificate" valid:"optional"`
	Key         string `yaml:"key" valid:"optional"`
	// Password decrypts a PKCS#12 key file.
	Password    string `yaml:"password" valid:"optional"`
	Chain       string `yaml:"chain" valid:"optional"`
	Name        string `yaml:"name" valid:"optional"`
	Location    string `yaml:"location" valid:"optional"`
	Reason      string `yaml:"reason" valid:"optional"`
	ContactInfo string `yaml:"contact_info" valid:"optional"`

	Profile            string `yaml:"profile" valid:"in(B|T|LT|LTA),optional"`
	Digest             string `yaml:"digest" valid:"optional"`
	CertificationLevel int    `yaml:"certification_level" valid:"range(0|3),optional"`
	FieldName          string `yaml:"field_name" valid:"optional"`
	TimestampFieldName string `yaml:"timestamp_field_name" valid:"optional"`
	TemporaryDirectory string `yaml:"temporary_directory" valid:"optional"`
	EstimatedSize      int    `yaml:"estimated_size" valid:"range(0|1048576),optional"`

	// CSC signs remotely instead of with Key.
	CSC CSC `yaml:"csc"`
}

// CSC configures a Cloud Signature Consortium signing service.
type CSC struct {
	URL          string `yaml:"url" valid:"url,optional"`
	CredentialID string `yaml:"credential_id" valid:"optional"`
	// Token is sent as Authorization header, e.g. "Bearer ...".
	Token string `yaml:"token" valid:"optional"`
	PIN   string `yaml:"pin" valid:"optional"`
}

// TSA configures the time stamping authority.
type TSA struct {
	URL      string `yaml:"url" valid:"url,optional"`
	Username string `yaml:"username" valid:"optional"`
	Password string `yaml:"password" valid:"optional"`
	Hash     string `yaml:"hash" valid:"optional"`
}

// Validation configures signature validation.
type Validation struct {
	Freshness      time.Duration `yaml:"freshness" valid:"optional"`
	OnlineFetching string        `yaml:"online_fetching" valid:"optional"`
	// TrustedCertificates are PEM or DER files.
	TrustedCertificates []string `yaml:"trusted_certificates" valid:"-"`
}

// Network configures the OCSP, CRL, AIA and TSA requests.
type Network struct {
	Timeout           time.Duration `yaml:"timeout" valid:"optional"`
	RequestsPerSecond float64       `yaml:"requests_per_second" valid:"optional"`
}

// Log configures the logger. A file is rotated by size.
type Log struct {
	Level      string `yaml:"level" valid:"in(trace|debug|info|warn|warning|error|fatal|panic),optional"`
	Format     string `yaml:"format" valid:"in(text|json),optional"`
	File       string `yaml:"file" valid:"optional"`
	MaxSize    int    `yaml:"max_size" valid:"range(0|10240),optional"`
	MaxBackups int    `yaml:"max_backups" valid:"range(0|1000),optional"`
	MaxAge     int    `yaml:"max_age" valid:"range(0|3650),optional"`
	Compress   bool   `yaml:"compress" valid:"optional"`
}

// Metrics configures the metrics dump written when a command finishes.
type Metrics struct {
	File string `yaml:"file" valid:"optional"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Signer: Signer{
			Profile: "B",
			Digest:  "SHA512",
		},
		TSA: TSA{Hash: "SHA256"},
		Validation: Validation{
			Freshness:      validation.DefaultFreshness,
			OnlineFetching: validation.FetchIfNoOtherDataAvailable.String(),
		},
		Network: Network{Timeout: httpfetch.DefaultTimeout},
		Log: Log{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// ValidateFields validates all the fields of the config.
func (c Config) ValidateFields() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return err
	}

	var errs []error
	if c.Signer.CSC.URL != "" && c.Signer.CSC.CredentialID == "" {
		errs = append(errs, errors.New("signer.csc.credential_id is required with signer.csc.url"))
	}
	if c.Signer.Digest != "" {
		if _, ok := cms.HashByName(c.Signer.Digest); !ok {
			errs = append(errs, fmt.Errorf("signer.digest: unknown hash algorithm %q", c.Signer.Digest))
		}
	}
	if c.TSA.Hash != "" {
		if _, ok := cms.HashByName(c.TSA.Hash); !ok {
			errs = append(errs, fmt.Errorf("tsa.hash: unknown hash algorithm %q", c.TSA.Hash))
		}
	}
	if _, err := validation.ParseOnlineFetching(c.Validation.OnlineFetching); err != nil {
		errs = append(errs, fmt.Errorf("validation.online_fetching: %w", err))
	}
	if c.Validation.Freshness < 0 {
		errs = append(errs, errors.New("validation.freshness must not be negative"))
	}
	if c.Network.Timeout < 0 || c.Network.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("network timeout and rate must not be negative"))
	}
	return errors.Join(errs...)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config is not valid YAML: %w", err)
	}
	if err := c.ValidateFields(); err != nil {
		return Config{}, fmt.Errorf("config is not valid: %w", err)
	}
	return c, nil
}

// Read loads configfile. A missing file at DefaultLocation yields the
// defaults; any other missing file is an error.
func Read(configfile string) (Config, error) {
	if configfile == "" {
		configfile = DefaultLocation
	}
	data, err := os.ReadFile(configfile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && configfile == DefaultLocation {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config file is missing: %w", err)
	}
	return Parse(data)
}
