package analyzer

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/skill"
)

var shellInterpreters = map[string]bool{"sh": true, "bash": true, "zsh": true, "sudo": true}
var downloaders = map[string]bool{"curl": true, "wget": true}

// shellScan accumulates per-file facts for the download/chmod chain
// check.
type shellScan struct {
	path  string
	lines []string

	findings []finding.Finding

	downloadLine int
	chmodLine    int
}

func (a *ASTAnalyzer) analyzeShell(script skill.Script) []finding.Finding {
	parser := syntax.NewParser(syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(script.Text), script.Path)
	if err != nil {
		return []finding.Finding{unparseableFinding(a.Name(), script.Path, err)}
	}

	scan := &shellScan{path: script.Path, lines: strings.Split(script.Text, "\n")}
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			scan.checkCommand(a.Name(), n)
		case *syntax.BinaryCmd:
			if n.Op == syntax.Pipe || n.Op == syntax.PipeAll {
				scan.checkPipeline(a.Name(), n)
			}
		}
		return true
	})
	scan.finishChain(a.Name())

	return scan.findings
}

func (s *shellScan) evidence(line int) string {
	if line >= 1 && line <= len(s.lines) {
		return finding.TruncateEvidence(strings.TrimSpace(s.lines[line-1]))
	}
	return ""
}

func (s *shellScan) checkCommand(analyzer string, call *syntax.CallExpr) {
	if len(call.Args) == 0 {
		return
	}
	name := literalWord(call.Args[0])
	line := int(call.Pos().Line())

	switch name {
	case "curl", "wget":
		if s.downloadLine == 0 {
			s.downloadLine = line
		}
	case "chmod":
		for _, arg := range call.Args[1:] {
			switch literalWord(arg) {
			case "+x", "755", "777":
				if s.chmodLine == 0 {
					s.chmodLine = line
				}
			}
		}
	case "sudo":
		s.findings = append(s.findings, finding.Finding{
			Analyzer:       analyzer,
			Category:       finding.CategoryExcessivePermissions,
			Severity:       finding.SeverityHigh,
			Title:          fmt.Sprintf("Privilege escalation via sudo in %s", s.path),
			Detail:         fmt.Sprintf("%s runs sudo at line %d; skills should not need root.", s.path, line),
			File:           s.path,
			Line:           line,
			Evidence:       s.evidence(line),
			CWE:            "CWE-250",
			Recommendation: "Run without elevated privileges.",
		})
	case "env", "printenv":
		s.findings = append(s.findings, finding.Finding{
			Analyzer:       analyzer,
			Category:       finding.CategoryCredentialExposure,
			Severity:       finding.SeverityMedium,
			Title:          fmt.Sprintf("Environment dump via %s in %s", name, s.path),
			Detail:         fmt.Sprintf("%s dumps the process environment at line %d.", s.path, line),
			File:           s.path,
			Line:           line,
			Evidence:       s.evidence(line),
			CWE:            "CWE-526",
			Recommendation: "Read only the variables the skill needs.",
		})
	case "eval":
		if callHasExpansion(call) {
			s.findings = append(s.findings, finding.Finding{
				Analyzer:       analyzer,
				Category:       finding.CategoryObfuscation,
				Severity:       finding.SeverityHigh,
				Title:          fmt.Sprintf("eval of interpolated string in %s", s.path),
				Detail:         fmt.Sprintf("%s evals a string built from expansions at line %d; the executed command cannot be reviewed.", s.path, line),
				File:           s.path,
				Line:           line,
				Evidence:       s.evidence(line),
				CWE:            "CWE-95",
				Recommendation: "Call the command directly instead of eval.",
			})
		}
	}
}

// checkPipeline flags fetch-into-shell pipes. The left side may itself
// be a pipeline, so the first command is resolved recursively.
func (s *shellScan) checkPipeline(analyzer string, pipe *syntax.BinaryCmd) {
	first := firstCommandName(pipe.X)
	last := firstCommandName(pipe.Y)
	if !downloaders[first] || !shellInterpreters[last] {
		return
	}
	line := int(pipe.Pos().Line())
	s.findings = append(s.findings, finding.Finding{
		Analyzer:       analyzer,
		Category:       finding.CategorySocialEngineering,
		Severity:       finding.SeverityCritical,
		Title:          fmt.Sprintf("Remote script piped to %s in %s", last, s.path),
		Detail:         fmt.Sprintf("%s pipes %s output straight into %s at line %d.", s.path, first, last, line),
		File:           s.path,
		Line:           line,
		Evidence:       s.evidence(line),
		CWE:            "CWE-494",
		Recommendation: "Never pipe remote content directly into a shell interpreter.",
	})
}

func (s *shellScan) finishChain(analyzer string) {
	if s.downloadLine == 0 || s.chmodLine == 0 {
		return
	}
	s.findings = append(s.findings, finding.Finding{
		Analyzer: analyzer,
		Category: finding.CategorySocialEngineering,
		Severity: finding.SeverityHigh,
		Title:    fmt.Sprintf("Download and mark-executable chain in %s", s.path),
		Detail: fmt.Sprintf("%s downloads a file (line %d) and makes one executable (line %d); "+
			"the downloaded content runs without review.", s.path, s.downloadLine, s.chmodLine),
		File:           s.path,
		Line:           s.chmodLine,
		Evidence:       s.evidence(s.chmodLine),
		CWE:            "CWE-494",
		Recommendation: "Ship the executable with the skill so it can be reviewed, or drop it.",
	})
}

// firstCommandName digs through statements and nested pipelines to the
// leading simple command's name.
func firstCommandName(stmt *syntax.Stmt) string {
	if stmt == nil {
		return ""
	}
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		if len(cmd.Args) == 0 {
			return ""
		}
		return literalWord(cmd.Args[0])
	case *syntax.BinaryCmd:
		return firstCommandName(cmd.X)
	}
	return ""
}

// literalWord flattens a word made only of literal parts; words with
// expansions return "".
func literalWord(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		lit, ok := part.(*syntax.Lit)
		if !ok {
			return ""
		}
		sb.WriteString(lit.Value)
	}
	return sb.String()
}

// callHasExpansion reports whether any argument beyond the command
// name contains a parameter or command expansion.
func callHasExpansion(call *syntax.CallExpr) bool {
	for _, word := range call.Args[1:] {
		if wordHasExpansion(word.Parts) {
			return true
		}
	}
	return false
}

func wordHasExpansion(parts []syntax.WordPart) bool {
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.ParamExp, *syntax.CmdSubst:
			return true
		case *syntax.DblQuoted:
			if wordHasExpansion(p.Parts) {
				return true
			}
		}
	}
	return false
}
