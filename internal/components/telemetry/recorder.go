package telemetry

import (
	"strings"
	"sync"
)

// Report is a single call made to a RecordingAPI.
type Report struct {
	Kind   string
	Id     string
	Params []any
	Count  int64
}

// RecordingAPI is an API that keeps every report in memory, it is meant to
// be injected in tests to assert on what a component reported.
type RecordingAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func NewRecordingAPI() *RecordingAPI {
	return &RecordingAPI{}
}

func (r *RecordingAPI) record(report Report) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, report)
}

func (r *RecordingAPI) ReportBroken(id string, params ...any) {
	r.record(Report{Kind: "broken", Id: id, Params: params})
}

func (r *RecordingAPI) ReportWarning(id string, params ...any) {
	r.record(Report{Kind: "warning", Id: id, Params: params})
}

func (r *RecordingAPI) ReportDebug(msg string, params ...any) {
	r.record(Report{Kind: "debug", Id: msg, Params: params})
}

func (r *RecordingAPI) ReportCount(id string, count int64) {
	r.record(Report{Kind: "count", Id: id, Count: count})
}

// Reports returns a copy of the reports of the given kind, or all reports if
// kind is empty.
func (r *RecordingAPI) Reports(kind string) []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var out []Report
	for _, report := range r.reports {
		if kind == "" || report.Kind == kind {
			out = append(out, report)
		}
	}
	return out
}

// Has returns true if a report of the given kind has an id containing substr.
func (r *RecordingAPI) Has(kind, substr string) bool {
	for _, report := range r.Reports(kind) {
		if strings.Contains(report.Id, substr) {
			return true
		}
	}
	return false
}
