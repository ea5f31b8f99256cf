package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/logger"
	"github.com/clawguard/clawguard/pkg/skill"
)

// popularSkillNames is the bundled list the typosquat check compares
// against. Kept short on purpose: it only needs the names attackers
// imitate.
var popularSkillNames = []string{
	"github",
	"gitlab",
	"slack",
	"notion",
	"jira",
	"linear",
	"docker",
	"kubernetes",
	"terraform",
	"postgres",
	"weather",
	"calendar",
	"gmail",
	"drive",
	"spotify",
}

// Env var prefixes and names that count as sensitive for the
// excessive-permissions heuristic.
var sensitiveEnvMarkers = []string{"AWS_", "DATABASE_URL", "GITHUB_TOKEN"}

// ASTAnalyzer parses each bundled script with a grammar-backed parser
// (gpython for Python, mvdan/sh for shell) and walks the tree for
// call shapes the text layers cannot see, plus the skill-level
// typosquat and excessive-permissions heuristics.
type ASTAnalyzer struct{}

// NewASTAnalyzer builds the syntactic analyzer.
func NewASTAnalyzer() *ASTAnalyzer { return &ASTAnalyzer{} }

func (a *ASTAnalyzer) Name() string { return "ast" }

func (a *ASTAnalyzer) Analyze(ctx context.Context, sk *skill.Skill) ([]finding.Finding, error) {
	var findings []finding.Finding

	for _, script := range sk.Scripts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch script.Language {
		case skill.LanguagePython:
			findings = append(findings, a.analyzePython(script)...)
		case skill.LanguageBash:
			findings = append(findings, a.analyzeShell(script)...)
		}
	}

	findings = append(findings, a.checkTyposquat(sk)...)
	findings = append(findings, a.checkExcessivePermissions(sk)...)

	logger.G(ctx).WithField("findings", len(findings)).Debug("ast analysis complete")
	return findings, nil
}

// unparseableFinding is the degraded result for a script the grammar
// rejects; analysis continues with the remaining scripts.
func unparseableFinding(name, path string, err error) finding.Finding {
	return finding.Finding{
		Analyzer: name,
		Category: finding.CategoryBestPractices,
		Severity: finding.SeverityLow,
		Title:    "Unparseable script",
		Detail:   fmt.Sprintf("%s could not be parsed: %v. Its contents were not syntactically analyzed.", path, err),
		File:     path,
		Recommendation: "Fix the script so it parses; unparseable code cannot be reviewed " +
			"and is itself a warning sign.",
	}
}

// checkTyposquat flags a skill name within edit distance 1 of a
// popular skill name without being equal to any of them.
func (a *ASTAnalyzer) checkTyposquat(sk *skill.Skill) []finding.Finding {
	name := strings.ToLower(strings.TrimSpace(sk.Name))
	if name == "" {
		return nil
	}
	for _, popular := range popularSkillNames {
		if name == popular {
			return nil
		}
	}
	for _, popular := range popularSkillNames {
		if levenshtein.ComputeDistance(name, popular) == 1 {
			return []finding.Finding{{
				Analyzer: a.Name(),
				Category: finding.CategoryTyposquat,
				Severity: finding.SeverityHigh,
				Title:    fmt.Sprintf("Skill name %q imitates %q", sk.Name, popular),
				Detail: fmt.Sprintf("The skill name %q is one edit away from the popular skill %q; "+
					"near-identical names are how malicious skills catch mistyped installs.", sk.Name, popular),
				File:           skill.ManifestFileName,
				Evidence:       finding.TruncateEvidence(sk.Name),
				Recommendation: "Pick a clearly distinct name, or do not install if you expected the popular skill.",
			}}
		}
	}
	return nil
}

// checkExcessivePermissions flags a broad permission grab paired with
// a short, benign-looking description. Advisory only.
func (a *ASTAnalyzer) checkExcessivePermissions(sk *skill.Skill) []finding.Finding {
	if len(sk.Description) >= 100 {
		return nil
	}

	broad := false
	for _, bin := range sk.Requires.Bins {
		if strings.EqualFold(bin, "sudo") {
			broad = true
		}
	}
	if !broad {
		perms := make(map[string]bool, len(sk.Requires.Permissions))
		for _, p := range sk.Requires.Permissions {
			perms[strings.ToLower(p)] = true
		}
		if perms["admin"] || perms["root"] ||
			(perms["network"] && perms["shell"] && perms["filesystem"]) {
			broad = true
		}
	}
	if !broad {
		return nil
	}

	sensitive := 0
	for _, env := range sk.Requires.Env {
		for _, marker := range sensitiveEnvMarkers {
			if strings.HasPrefix(env, marker) {
				sensitive++
				break
			}
		}
	}
	if sensitive < 3 {
		return nil
	}

	return []finding.Finding{{
		Analyzer: a.Name(),
		Category: finding.CategoryExcessivePermissions,
		Severity: finding.SeverityHigh,
		Title:    "Broad permissions with a thin justification",
		Detail: fmt.Sprintf("The skill requests elevated access plus %d sensitive environment variables, "+
			"but its description (%d chars) does not explain why.", sensitive, len(sk.Description)),
		File:           skill.ManifestFileName,
		Recommendation: "Require only what the skill's stated purpose needs.",
	}}
}
