package analyzer

import (
	"context"
	"fmt"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/logger"
	"github.com/clawguard/clawguard/pkg/rules"
	"github.com/clawguard/clawguard/pkg/skill"
)

// PatternAnalyzer evaluates the pattern-dialect rules per file. A rule
// whose condition holds yields exactly one finding for that file, not
// one per string hit, so a rule with many anchors does not flood the
// report.
type PatternAnalyzer struct {
	library *rules.Library
}

// NewPatternAnalyzer builds a pattern analyzer over a loaded library.
func NewPatternAnalyzer(library *rules.Library) *PatternAnalyzer {
	return &PatternAnalyzer{library: library}
}

func (a *PatternAnalyzer) Name() string { return "pattern" }

func (a *PatternAnalyzer) Analyze(ctx context.Context, sk *skill.Skill) ([]finding.Finding, error) {
	var findings []finding.Finding
	ruleSet := a.library.Patterns()

	for _, file := range corpus(sk) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, rule := range ruleSet {
			ok, m := rule.Satisfied(file.text)
			if !ok {
				continue
			}
			findings = append(findings, finding.Finding{
				Analyzer:       a.Name(),
				Category:       rule.Category,
				Severity:       rule.Severity,
				Title:          fmt.Sprintf("%s in %s", rule.Description, file.path),
				Detail:         fmt.Sprintf("Pattern rule %s is satisfied by %s.", rule.ID, file.path),
				File:           file.path,
				Line:           lineOfOffset(file.text, m.Start),
				Evidence:       m.Snippet,
				CWE:            rule.CWE,
				Recommendation: rule.Recommendation,
			})
		}
	}

	logger.G(ctx).WithField("findings", len(findings)).Debug("pattern analysis complete")
	return findings, nil
}
