// Package report defines the scan Report value, the serialization
// contract handed to collaborators (CLI, API, stores). JSON rendering
// is a total function of the value; nothing here depends on how the
// report was produced.
package report

import (
	"encoding/json"
	"time"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/scoring"
)

// SkillRef identifies the scanned skill inside a report.
type SkillRef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// Report is the aggregate result of one scan.
type Report struct {
	ScanID         string            `json:"scan_id"`
	SkillRef       SkillRef          `json:"skill_ref"`
	Score          scoring.Score     `json:"score"`
	Findings       []finding.Finding `json:"findings"`
	AnalyzersRun   []string          `json:"analyzers_run"`
	ScanDurationMS int64             `json:"scan_duration_ms"`
	ScannedAt      time.Time         `json:"scanned_at"`
}

// MarshalJSON renders timestamps as RFC 3339 UTC.
func (r Report) MarshalJSON() ([]byte, error) {
	type alias Report
	a := alias(r)
	a.ScannedAt = r.ScannedAt.UTC().Truncate(time.Second)
	return json.Marshal(a)
}

// FromJSON parses a serialized report back into the value.
func FromJSON(data []byte) (Report, error) {
	var r Report
	err := json.Unmarshal(data, &r)
	return r, err
}
