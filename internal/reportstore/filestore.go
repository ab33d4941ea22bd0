// Package reportstore writes finished research reports to disk and fans a
// report out to several stores.
package reportstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/research"
)

// Supported report file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Compile-time interface verification.
var _ research.ReportStore = (*FileStore)(nil)

// FileStore writes each report as <dir>/<session id>_report.<format>.
// The first configured format determines the returned location.
type FileStore struct {
	dir     string
	formats []string
}

// NewFileStore creates a FileStore. formats defaults to JSON only.
func NewFileStore(dir string, formats ...string) (*FileStore, error) {
	if dir == "" {
		return nil, domain.NewValidationError("reports_dir", "directory is required")
	}
	if len(formats) == 0 {
		formats = []string{FormatJSON}
	}
	normalized := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "yml" {
			f = FormatYAML
		}
		if f != FormatJSON && f != FormatYAML {
			return nil, domain.NewValidationError("report_formats", fmt.Sprintf("unsupported format %q", f))
		}
		normalized = append(normalized, f)
	}
	return &FileStore{dir: dir, formats: normalized}, nil
}

// SaveReport implements research.ReportStore.
func (s *FileStore) SaveReport(_ context.Context, report *research.Report) (string, error) {
	if report == nil || report.SessionID == "" {
		return "", domain.NewValidationError("report", "report with session ID is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}

	var location string
	for _, format := range s.formats {
		body, err := Render(report, format)
		if err != nil {
			return "", err
		}
		path := s.Path(report.SessionID, format)
		if err := writeFileAtomic(path, body); err != nil {
			return "", fmt.Errorf("write %s report: %w", format, err)
		}
		if location == "" {
			location = path
		}
	}
	return location, nil
}

// Path returns the file path of a session's report in format.
func (s *FileStore) Path(sessionID, format string) string {
	return filepath.Join(s.dir, sessionID+"_report."+format)
}

// Load reads a session's report back from disk.
func (s *FileStore) Load(sessionID string) (*research.Report, error) {
	for _, format := range s.formats {
		body, err := os.ReadFile(s.Path(sessionID, format))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read report: %w", err)
		}
		if format == FormatYAML {
			if body, err = yamlToJSON(body); err != nil {
				return nil, fmt.Errorf("decode yaml report: %w", err)
			}
		}
		var report research.Report
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("decode %s report: %w", format, err)
		}
		return &report, nil
	}
	return nil, domain.NewNotFoundError("report", sessionID)
}

// Render encodes report as JSON or YAML.
func Render(report *research.Report, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		body, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		return append(body, '\n'), nil
	case FormatYAML, "yml":
		// Round-trip through JSON so YAML keys match the JSON field names.
		raw, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		body, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		return body, nil
	default:
		return nil, domain.NewValidationError("format", fmt.Sprintf("unsupported format %q", format))
	}
}

func yamlToJSON(body []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func writeFileAtomic(path string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
