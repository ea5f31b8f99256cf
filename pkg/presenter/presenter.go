// Package presenter renders scan results for the terminal: colored
// severity labels, the score banner and a quiet mode that prints only
// what scripts need.
package presenter

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/report"
	"github.com/clawguard/clawguard/pkg/scoring"
)

// Presenter writes human-readable scan output.
type Presenter struct {
	out   io.Writer
	err   io.Writer
	quiet bool
}

// New builds a presenter on stdout/stderr. Color auto-detection is
// left to the color package.
func New() *Presenter {
	return NewWithWriters(os.Stdout, os.Stderr)
}

// NewWithWriters builds a presenter on custom writers; tests use this.
func NewWithWriters(out, errOut io.Writer) *Presenter {
	return &Presenter{out: out, err: errOut}
}

// SetQuiet restricts output to the score line.
func (p *Presenter) SetQuiet(quiet bool) { p.quiet = quiet }

// Error reports a failure on stderr.
func (p *Presenter) Error(err error, context string) {
	fmt.Fprintf(p.err, "%s %s: %v\n", color.RedString("Error:"), context, err)
}

var severityColors = map[finding.Severity]func(format string, a ...interface{}) string{
	finding.SeverityCritical: color.New(color.FgRed, color.Bold).Sprintf,
	finding.SeverityHigh:     color.RedString,
	finding.SeverityMedium:   color.YellowString,
	finding.SeverityLow:      color.CyanString,
	finding.SeverityInfo:     color.WhiteString,
}

var recommendationColors = map[scoring.Recommendation]func(format string, a ...interface{}) string{
	scoring.RecommendationPass:    color.GreenString,
	scoring.RecommendationCaution: color.YellowString,
	scoring.RecommendationReview:  color.MagentaString,
	scoring.RecommendationBlock:   color.New(color.FgRed, color.Bold).Sprintf,
}

// Report renders a full scan report.
func (p *Presenter) Report(rep report.Report) {
	recColor := recommendationColors[rep.Score.Recommendation]
	if p.quiet {
		fmt.Fprintf(p.out, "%d %s\n", rep.Score.Value, rep.Score.Recommendation)
		return
	}

	fmt.Fprintf(p.out, "\n%s %s\n", color.New(color.Bold).Sprint("Skill:"), rep.SkillRef.Name)
	fmt.Fprintf(p.out, "%s %d/100 (grade %s) - %s\n",
		color.New(color.Bold).Sprint("Trust score:"),
		rep.Score.Value, rep.Score.Grade, recColor("%s", string(rep.Score.Recommendation)))
	fmt.Fprintf(p.out, "%s\n\n", rep.Score.Summary)

	if len(rep.Findings) == 0 {
		fmt.Fprintln(p.out, color.GreenString("No findings."))
	}
	for _, f := range rep.Findings {
		label := severityColors[f.Severity]("%-8s", string(f.Severity))
		location := ""
		if f.File != "" {
			location = " (" + f.File
			if f.Line > 0 {
				location = fmt.Sprintf("%s:%d", location, f.Line)
			}
			location += ")"
		}
		fmt.Fprintf(p.out, "  %s [%s] %s%s\n", label, f.Category, f.Title, location)
	}

	if len(rep.Score.TopRisks) > 0 {
		fmt.Fprintf(p.out, "\n%s\n", color.New(color.Bold).Sprint("Top risks:"))
		for i, risk := range rep.Score.TopRisks {
			fmt.Fprintf(p.out, "  %d. %s\n", i+1, risk)
		}
	}

	fmt.Fprintf(p.out, "\nAnalyzers: %v (%dms)\n", rep.AnalyzersRun, rep.ScanDurationMS)
}

// Rules renders the loaded rule inventory grouped by category.
func (p *Presenter) Rules(byCategory map[string][]string) {
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(p.out, "%s\n", color.New(color.Bold).Sprint(c))
		for _, id := range byCategory[c] {
			fmt.Fprintf(p.out, "  %s\n", id)
		}
	}
}
