package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/digitorus/pades/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	const configContent = `
signer:
  name: John Doe
  reason: Approval
  profile: LTA
  digest: SHA-384
  csc:
    url: https://csc.example.com/csc/v2
    credential_id: signing-key
tsa:
  url: https://tsa.example.com/tsr
validation:
  freshness: 72h
  online_fetching: never_fetch
  trusted_certificates:
    - root.pem
network:
  timeout: 5s
  requests_per_second: 2.5
log:
  level: debug
  format: json
  file: /var/log/pades.log
metrics:
  file: pades.prom
`

	c, err := config.Parse([]byte(configContent))
	require.NoError(t, err)

	assert.Equal(t, "John Doe", c.Signer.Name)
	assert.Equal(t, "LTA", c.Signer.Profile)
	assert.Equal(t, "SHA-384", c.Signer.Digest)
	assert.Equal(t, "signing-key", c.Signer.CSC.CredentialID)
	assert.Equal(t, "https://tsa.example.com/tsr", c.TSA.URL)
	assert.Equal(t, "SHA256", c.TSA.Hash, "defaults survive partial sections")
	assert.Equal(t, 72*time.Hour, c.Validation.Freshness)
	assert.Equal(t, []string{"root.pem"}, c.Validation.TrustedCertificates)
	assert.Equal(t, 5*time.Second, c.Network.Timeout)
	assert.Equal(t, 2.5, c.Network.RequestsPerSecond)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, 10, c.Log.MaxSize)
	assert.Equal(t, "pades.prom", c.Metrics.File)
}

func TestEmptyConfigIsDefault(t *testing.T) {
	c, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown profile", "signer:\n  profile: X\n"},
		{"unknown digest", "signer:\n  digest: MD5\n"},
		{"unknown tsa hash", "tsa:\n  hash: SHA3\n"},
		{"invalid tsa url", "tsa:\n  url: not a url\n"},
		{"unknown fetching policy", "validation:\n  online_fetching: sometimes\n"},
		{"unknown log level", "log:\n  level: loud\n"},
		{"unknown log format", "log:\n  format: xml\n"},
		{"certification level out of range", "signer:\n  certification_level: 7\n"},
		{"negative freshness", "validation:\n  freshness: -1h\n"},
		{"unknown key", "signer:\n  nmae: typo\n"},
		{"csc without credential", "signer:\n  csc:\n    url: https://csc.example.com\n"},
		{"not yaml", "signer: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pades.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signer:\n  location: Rotterdam\n"), 0o600))

	c, err := config.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "Rotterdam", c.Signer.Location)

	_, err = config.Read(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
