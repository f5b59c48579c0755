package pades

import (
	"fmt"
	"io"
	"os"

	"github.com/digitorus/pades/internal/logging"
)

// staging holds the output of each signing stage. With a directory the
// stages are written to temporary files that are removed by cleanup;
// otherwise they stay in memory.
type staging struct {
	dir   string
	files []string
}

func (s *staging) keep(data []byte) ([]byte, error) {
	if s.dir == "" {
		return data, nil
	}
	f, err := os.CreateTemp(s.dir, "pades-stage-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	s.files = append(s.files, f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write temporary file: %w", err)
	}
	return os.ReadFile(f.Name())
}

func (s *staging) cleanup() {
	for _, name := range s.files {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			logging.WithComponent("pades").WithError(err).WithField("file", name).Warn("failed to remove temporary file")
		}
	}
	s.files = nil
}

func readAll(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("no input document")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}

func writeAll(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
