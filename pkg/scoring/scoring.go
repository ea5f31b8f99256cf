// Package scoring turns a finding list into the weighted trust score,
// letter grade and recommendation. The function is pure and
// deterministic: same findings in, same score out, independent of
// finding order.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/clawguard/clawguard/pkg/finding"
)

// Recommendation is the categorical verdict derived from the score.
type Recommendation string

const (
	RecommendationPass    Recommendation = "PASS"
	RecommendationCaution Recommendation = "CAUTION"
	RecommendationReview  Recommendation = "REVIEW"
	RecommendationBlock   Recommendation = "BLOCK"
)

// Score is the computed trust block of a report.
type Score struct {
	Value          int            `json:"value"`
	Grade          string         `json:"grade"`
	Summary        string         `json:"summary"`
	TopRisks       []string       `json:"top_risks"`
	Recommendation Recommendation `json:"recommendation"`
}

// Base deduction per severity.
var severityDeductions = map[finding.Severity]float64{
	finding.SeverityCritical: 40,
	finding.SeverityHigh:     20,
	finding.SeverityMedium:   10,
	finding.SeverityLow:      3,
	finding.SeverityInfo:     0,
}

// Category multipliers: the same severity hits harder in categories
// that indicate intent rather than sloppiness.
var categoryMultipliers = map[finding.Category]float64{
	finding.CategoryMalware:              2.0,
	finding.CategoryPromptInjection:      1.5,
	finding.CategoryCredentialExposure:   1.5,
	finding.CategoryMemoryManipulation:   1.5,
	finding.CategorySocialEngineering:    1.25,
	finding.CategorySupplyChain:          1.25,
	finding.CategoryNetworkExfiltration:  1.0,
	finding.CategoryObfuscation:          1.0,
	finding.CategoryExcessivePermissions: 1.0,
	finding.CategoryTyposquat:            1.0,
	finding.CategoryBestPractices:        0.25,
}

// Diminishing returns within one category: full, half, quarter for
// everything after.
var diminishingFactors = []float64{1.0, 0.5, 0.25}

const maxTopRisks = 5

// Compute derives the trust score from findings.
func Compute(findings []finding.Finding) Score {
	ordered := make([]finding.Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return riskLess(ordered[i], ordered[j])
	})

	total := 0.0
	perCategory := make(map[finding.Category]int)
	for _, f := range ordered {
		base := severityDeductions[f.Severity]
		multiplier, ok := categoryMultipliers[f.Category]
		if !ok {
			multiplier = 1.0
		}
		idx := perCategory[f.Category]
		factor := diminishingFactors[len(diminishingFactors)-1]
		if idx < len(diminishingFactors) {
			factor = diminishingFactors[idx]
		}
		perCategory[f.Category]++
		total += base * multiplier * factor
	}

	value := int(math.Round(100 - total))
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	score := Score{
		Value:          value,
		Grade:          gradeFor(value),
		Summary:        summarize(findings),
		Recommendation: recommendationFor(value, findings),
	}
	for i, f := range ordered {
		if i == maxTopRisks {
			break
		}
		if f.Severity == finding.SeverityInfo {
			break
		}
		score.TopRisks = append(score.TopRisks, f.Title)
	}
	return score
}

// riskLess orders findings most severe first, then by the fixed
// category order, then by file path, then by title.
func riskLess(a, b finding.Finding) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	if a.Category != b.Category {
		return categoryIndex(a.Category) < categoryIndex(b.Category)
	}
	if a.File != b.File {
		return a.File < b.File
	}
	return a.Title < b.Title
}

func categoryIndex(c finding.Category) int {
	for i, cat := range finding.Categories {
		if cat == c {
			return i
		}
	}
	return len(finding.Categories)
}

func gradeFor(value int) string {
	switch {
	case value >= 90:
		return "A"
	case value >= 75:
		return "B"
	case value >= 60:
		return "C"
	case value >= 40:
		return "D"
	default:
		return "F"
	}
}

func recommendationFor(value int, findings []finding.Finding) Recommendation {
	rec := RecommendationBlock
	switch {
	case value >= 85:
		rec = RecommendationPass
	case value >= 65:
		rec = RecommendationCaution
	case value >= 40:
		rec = RecommendationReview
	}

	// Floors: some findings cap how friendly the verdict may be no
	// matter the arithmetic.
	for _, f := range findings {
		if f.Category == finding.CategoryMalware && f.Severity.Rank() >= finding.SeverityHigh.Rank() {
			return RecommendationBlock
		}
	}
	if rec == RecommendationPass || rec == RecommendationCaution {
		for _, f := range findings {
			if f.Severity == finding.SeverityCritical &&
				(f.Category == finding.CategoryPromptInjection || f.Category == finding.CategoryCredentialExposure) {
				return RecommendationReview
			}
		}
	}
	return rec
}

// summarize renders "2 critical, 1 high, 3 medium findings".
func summarize(findings []finding.Finding) string {
	if len(findings) == 0 {
		return "No findings"
	}
	counts := make(map[finding.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	var parts []string
	for i := len(finding.Severities) - 1; i >= 0; i-- {
		sev := finding.Severities[i]
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}
	suffix := "findings"
	if len(findings) == 1 {
		suffix = "finding"
	}
	return strings.Join(parts, ", ") + " " + suffix
}
