package reportstore

import (
	"context"

	"github.com/helixir/osint-research-service/internal/research"
)

// Compile-time interface verification.
var _ research.ReportStore = (*MultiStore)(nil)

// MultiStore saves a report to a primary store and then to mirrors. The
// primary's location is returned; mirror failures go to OnError and do not
// fail the save.
type MultiStore struct {
	Primary research.ReportStore
	Mirrors []research.ReportStore
	OnError func(report *research.Report, err error)
}

// SaveReport implements research.ReportStore.
func (m *MultiStore) SaveReport(ctx context.Context, report *research.Report) (string, error) {
	location, err := m.Primary.SaveReport(ctx, report)
	if err != nil {
		return "", err
	}
	for _, mirror := range m.Mirrors {
		if _, err := mirror.SaveReport(ctx, report); err != nil && m.OnError != nil {
			m.OnError(report, err)
		}
	}
	return location, nil
}
