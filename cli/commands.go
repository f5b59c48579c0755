// Package cli implements the pades command line: sign, prolong and
// validate.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/digitorus/pades/certs"
	"github.com/digitorus/pades/cms"
	"github.com/digitorus/pades/config"
	"github.com/digitorus/pades/internal/httpfetch"
	"github.com/digitorus/pades/internal/logging"
	"github.com/digitorus/pades/metrics"
	"github.com/digitorus/pades/revocation"
	"github.com/digitorus/pades/tsa"
)

// Version is set at build time.
var Version = "dev"

// app is the state shared by the commands of one invocation.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer

	// keys binds the local flags of each subcommand to config keys.
	keys     map[*cobra.Command]map[string]string
	closeLog io.Closer
	fetcher  *httpfetch.Fetcher
}

// NewRootCommand returns the pades command writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		stdout: stdout,
		stderr: stderr,
		keys:   make(map[*cobra.Command]map[string]string),
	}

	root := &cobra.Command{
		Use:           "pades",
		Short:         "Sign PDF documents with PAdES baseline signatures and validate them",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(a.v, cmd.Flags(), a.keys[cmd])
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringP("config", "c", "", "config file (default "+config.DefaultLocation+")")
	f.StringP("log-level", "l", "", "log level (trace, debug, info, warn, error)")
	f.String("log-format", "", "log format (text, json)")
	f.String("log-file", "", "also log to this file, rotated by size")
	f.String("metrics-file", "", "write metrics in the prometheus text format to this file")
	f.String("tsa", "", "URL of the time stamping authority")
	f.String("tsa-username", "", "TSA basic auth user")
	f.String("tsa-password", "", "TSA basic auth password")
	f.String("tsa-hash", "", "digest algorithm of time-stamp requests")
	f.Duration("timeout", 0, "timeout of OCSP, CRL, AIA and TSA requests")
	f.Float64("rate", 0, "maximum OCSP, CRL, AIA and TSA requests per second")

	bindFlags(a.v, f, map[string]string{
		"config":       "config",
		"log-level":    "log.level",
		"log-format":   "log.format",
		"log-file":     "log.file",
		"metrics-file": "metrics.file",
		"tsa":          "tsa.url",
		"tsa-username": "tsa.username",
		"tsa-password": "tsa.password",
		"tsa-hash":     "tsa.hash",
		"timeout":      "network.timeout",
		"rate":         "network.requests_per_second",
	})

	root.AddCommand(newSignCommand(a))
	root.AddCommand(newProlongCommand(a))
	root.AddCommand(newValidateCommand(a))
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string) int {
	root := NewRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// flags registers the config keys of the local flags of cmd. They are bound
// when cmd runs, so subcommands may share keys.
func (a *app) flags(cmd *cobra.Command, keys map[string]string) {
	a.keys[cmd] = keys
}

// bindFlags binds flag names to config keys.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		_ = v.BindPFlag(key, fs.Lookup(name))
	}
}

// init reads the config file and applies the PADES_* environment and the
// flags on top of it.
func (a *app) init() error {
	a.v.SetEnvPrefix("PADES")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	cfg, err := config.Read(a.v.GetString("config"))
	if err != nil {
		return err
	}
	applyOverrides(a.v, &cfg)
	if err := cfg.ValidateFields(); err != nil {
		return fmt.Errorf("config is not valid: %w", err)
	}
	a.cfg = cfg

	closer, err := setupLogging(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	a.closeLog = closer
	a.fetcher = httpfetch.New(cfg.Network.Timeout, cfg.Network.RequestsPerSecond)
	logging.WithComponent("cli").WithField("version", Version).Debug("configuration loaded")
	return nil
}

func (a *app) finish() error {
	var err error
	if path := a.cfg.Metrics.File; path != "" {
		if err = metrics.WriteFile(path); err != nil {
			err = fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog.Close()
	}
	return err
}

func (a *app) ocspClient() *revocation.OnlineOCSPClient {
	c := revocation.NewOnlineOCSPClient()
	c.Fetcher = a.fetcher
	return c
}

func (a *app) crlClient() *revocation.OnlineCRLClient {
	c := revocation.NewOnlineCRLClient()
	c.Fetcher = a.fetcher
	return c
}

func (a *app) retriever() (*certs.IssuingCertificateRetriever, error) {
	r := certs.NewIssuingCertificateRetriever()
	r.Fetcher = &certs.HTTPFetcher{Fetcher: a.fetcher}
	for _, path := range a.cfg.Validation.TrustedCertificates {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		list, err := certs.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		r.AddTrustedCertificates(list)
	}
	return r, nil
}

// tsaClient returns nil when no TSA is configured.
func (a *app) tsaClient() tsa.Client {
	if a.cfg.TSA.URL == "" {
		return nil
	}
	c := tsa.NewHTTPClient(a.cfg.TSA.URL)
	c.Username = a.cfg.TSA.Username
	c.Password = a.cfg.TSA.Password
	c.Fetcher = a.fetcher
	if h, ok := cms.HashByName(a.cfg.TSA.Hash); ok {
		c.HashAlgorithm = h
	}
	return c
}

// applyOverrides copies the values set through flags or the environment
// into cfg.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	strs := map[string]*string{
		"signer.certificate":          &cfg.Signer.Certificate,
		"signer.key":                  &cfg.Signer.Key,
		"signer.password":             &cfg.Signer.Password,
		"signer.csc.url":              &cfg.Signer.CSC.URL,
		"signer.csc.credential_id":    &cfg.Signer.CSC.CredentialID,
		"signer.csc.token":            &cfg.Signer.CSC.Token,
		"signer.csc.pin":              &cfg.Signer.CSC.PIN,
		"signer.chain":                &cfg.Signer.Chain,
		"signer.name":                 &cfg.Signer.Name,
		"signer.location":             &cfg.Signer.Location,
		"signer.reason":               &cfg.Signer.Reason,
		"signer.contact_info":         &cfg.Signer.ContactInfo,
		"signer.profile":              &cfg.Signer.Profile,
		"signer.digest":               &cfg.Signer.Digest,
		"signer.field_name":           &cfg.Signer.FieldName,
		"signer.timestamp_field_name": &cfg.Signer.TimestampFieldName,
		"signer.temporary_directory":  &cfg.Signer.TemporaryDirectory,
		"tsa.url":                     &cfg.TSA.URL,
		"tsa.username":                &cfg.TSA.Username,
		"tsa.password":                &cfg.TSA.Password,
		"tsa.hash":                    &cfg.TSA.Hash,
		"validation.online_fetching":  &cfg.Validation.OnlineFetching,
		"log.level":                   &cfg.Log.Level,
		"log.format":                  &cfg.Log.Format,
		"log.file":                    &cfg.Log.File,
		"metrics.file":                &cfg.Metrics.File,
	}
	for key, p := range strs {
		if v.IsSet(key) {
			*p = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"signer.certification_level": &cfg.Signer.CertificationLevel,
		"signer.estimated_size":      &cfg.Signer.EstimatedSize,
	}
	for key, p := range ints {
		if v.IsSet(key) {
			*p = v.GetInt(key)
		}
	}

	if v.IsSet("validation.freshness") {
		cfg.Validation.Freshness = v.GetDuration("validation.freshness")
	}
	if v.IsSet("network.timeout") {
		cfg.Network.Timeout = v.GetDuration("network.timeout")
	}
	if v.IsSet("network.requests_per_second") {
		cfg.Network.RequestsPerSecond = v.GetFloat64("network.requests_per_second")
	}
	if v.IsSet("validation.trusted_certificates") {
		cfg.Validation.TrustedCertificates = v.GetStringSlice("validation.trusted_certificates")
	}
}
