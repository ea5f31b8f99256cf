package analyzer

import (
	"context"
	"fmt"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/logger"
	"github.com/clawguard/clawguard/pkg/rules"
	"github.com/clawguard/clawguard/pkg/skill"
)

// StaticAnalyzer applies the regex-dialect rules line by line across
// the whole skill corpus. One finding per rule per file, anchored at
// the first matching offset.
type StaticAnalyzer struct {
	library *rules.Library
}

// NewStaticAnalyzer builds a static analyzer over a loaded library.
func NewStaticAnalyzer(library *rules.Library) *StaticAnalyzer {
	return &StaticAnalyzer{library: library}
}

func (a *StaticAnalyzer) Name() string { return "static" }

func (a *StaticAnalyzer) Analyze(ctx context.Context, sk *skill.Skill) ([]finding.Finding, error) {
	var findings []finding.Finding
	ruleSet := a.library.Regex()

	for _, file := range corpus(sk) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, rule := range ruleSet {
			matches := rule.MatchText(file.text)
			if len(matches) == 0 {
				continue
			}
			m := matches[0]
			findings = append(findings, finding.Finding{
				Analyzer: a.Name(),
				Category: rule.Category,
				Severity: rule.Severity,
				Title:    fmt.Sprintf("%s in %s", rule.Description, file.path),
				Detail: fmt.Sprintf("Rule %s matched %d time(s) in %s; first match at line %d.",
					rule.ID, len(matches), file.path, lineOfOffset(file.text, m.Start)),
				File:           file.path,
				Line:           lineOfOffset(file.text, m.Start),
				Evidence:       m.Snippet,
				CWE:            rule.CWE,
				Recommendation: rule.Recommendation,
			})
		}
	}

	logger.G(ctx).WithField("findings", len(findings)).Debug("static analysis complete")
	return findings, nil
}
