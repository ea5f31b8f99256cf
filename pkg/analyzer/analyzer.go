// Package analyzer holds the analyzer contract and the four built-in
// analyzers: static (regex rules), pattern (YARA-style rules), ast
// (syntax-tree inspection) and semantic (external LLM review).
//
// An analyzer is any value with a name that can turn an immutable
// Skill into findings. Analyzers never read each other's output; the
// pipeline relies on that independence to run them concurrently.
package analyzer

import (
	"context"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/skill"
)

// Analyzer is the capability every analysis layer implements.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, sk *skill.Skill) ([]finding.Finding, error)
}

// corpusFile is one analyzable text unit of a skill: the manifest, a
// script, or a readable extra file.
type corpusFile struct {
	path string
	text string
}

// corpus lists every text the rule-driven analyzers scan, manifest
// first, then scripts and extra files in parse order.
func corpus(sk *skill.Skill) []corpusFile {
	files := make([]corpusFile, 0, 1+len(sk.Scripts)+len(sk.ExtraFiles))
	files = append(files, corpusFile{path: skill.ManifestFileName, text: sk.RawManifest})
	for _, s := range sk.Scripts {
		files = append(files, corpusFile{path: s.Path, text: s.Text})
	}
	for _, f := range sk.ExtraFiles {
		if f.IsBinary || f.Text == "" {
			continue
		}
		files = append(files, corpusFile{path: f.Path, text: f.Text})
	}
	return files
}

// lineOfOffset converts a byte offset into a 1-based line number.
func lineOfOffset(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	line := 1
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
		}
	}
	return line
}
