package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/scoring"
)

func sampleReport() Report {
	return Report{
		ScanID: "3e9f1f6a-8f4e-4be5-9a49-1c1d55be41f0",
		SkillRef: SkillRef{
			Name:        "weather",
			Description: "Fetches the forecast",
			Path:        "/tmp/skills/weather",
		},
		Score: scoring.Score{
			Value:          80,
			Grade:          "B",
			Summary:        "1 high finding",
			TopRisks:       []string{"Skill name \"githuh\" imitates \"github\""},
			Recommendation: scoring.RecommendationCaution,
		},
		Findings: []finding.Finding{{
			Analyzer:       "ast",
			Category:       finding.CategoryTyposquat,
			Severity:       finding.SeverityHigh,
			Title:          "Skill name \"githuh\" imitates \"github\"",
			Detail:         "One edit away from a popular skill name.",
			File:           "SKILL.md",
			Evidence:       "githuh",
			Recommendation: "Pick a distinct name.",
		}},
		AnalyzersRun:   []string{"static", "pattern", "ast", "semantic-skipped"},
		ScanDurationMS: 42,
		ScannedAt:      time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC),
	}
}

func TestReportJSONRoundTrip(t *testing.T) {
	original := sampleReport()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	decoded, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestReportJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(sampleReport())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{
		"scan_id", "skill_ref", "score", "findings",
		"analyzers_run", "scan_duration_ms", "scanned_at",
	} {
		assert.Contains(t, raw, key)
	}

	score := raw["score"].(map[string]any)
	for _, key := range []string{"value", "grade", "summary", "top_risks", "recommendation"} {
		assert.Contains(t, score, key)
	}
	assert.Equal(t, "B", score["grade"])
	assert.Equal(t, "CAUTION", score["recommendation"])

	// RFC 3339 UTC timestamp.
	assert.Equal(t, "2026-02-11T09:30:00Z", raw["scanned_at"])

	findings := raw["findings"].([]any)
	entry := findings[0].(map[string]any)
	assert.Equal(t, "typosquat", entry["category"])
	assert.Equal(t, "high", entry["severity"])
}

func TestReportNonUTCTimestampNormalized(t *testing.T) {
	rep := sampleReport()
	loc := time.FixedZone("UTC+2", 2*60*60)
	rep.ScannedAt = time.Date(2026, 2, 11, 11, 30, 0, 0, loc)

	data, err := json.Marshal(rep)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2026-02-11T09:30:00Z", raw["scanned_at"])
}
