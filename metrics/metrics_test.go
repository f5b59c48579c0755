package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile(t *testing.T) {
	ObserveFetch("ocsp", time.Now(), nil)
	ObserveFetch("crl", time.Now(), errors.New("boom"))
	CacheHit("ocsp")
	SignatureWritten("B")
	ValidationDone("VALID")

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, `pades_fetch_total{kind="crl",outcome="error"}`))
	assert.True(t, strings.Contains(out, `pades_signatures_total{profile="B"}`))
	assert.True(t, strings.Contains(out, "pades_fetch_duration_seconds"))
}
