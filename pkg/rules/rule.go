// Package rules loads and evaluates the declarative rule library that
// drives the static and pattern analyzers. Rules live in YAML files,
// one file per category, and come in two dialects: single-regex rules
// applied per line, and YARA-style pattern rules with named strings and
// a boolean condition.
package rules

import (
	"regexp"
	"strings"

	"github.com/clawguard/clawguard/pkg/finding"
)

// Dialect distinguishes the two rule kinds.
type Dialect string

const (
	DialectRegex   Dialect = "regex"
	DialectPattern Dialect = "pattern"
)

// Match is one hit of a rule within a text.
type Match struct {
	Start   int
	Length  int
	Snippet string
}

// namedPattern is one compiled entry from a pattern rule's strings
// block: either a literal or a regular expression.
type namedPattern struct {
	name    string
	literal string
	re      *regexp.Regexp
}

func (p *namedPattern) findAll(text string) []Match {
	var matches []Match
	if p.re != nil {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{
				Start:   loc[0],
				Length:  loc[1] - loc[0],
				Snippet: finding.TruncateEvidence(text[loc[0]:loc[1]]),
			})
		}
		return matches
	}
	for idx := 0; ; {
		rel := strings.Index(text[idx:], p.literal)
		if rel < 0 {
			break
		}
		start := idx + rel
		matches = append(matches, Match{
			Start:   start,
			Length:  len(p.literal),
			Snippet: finding.TruncateEvidence(p.literal),
		})
		idx = start + len(p.literal)
	}
	return matches
}

// Rule is one immutable compiled detection rule.
type Rule struct {
	ID             string
	Category       finding.Category
	Severity       finding.Severity
	Description    string
	CWE            string
	Recommendation string

	dialect Dialect

	// regex dialect; exclude lists exact match texts that do not
	// count (e.g. loopback addresses for the raw-IP rule).
	re      *regexp.Regexp
	exclude map[string]bool

	// pattern dialect
	strings   []namedPattern
	condition condExpr
}

// Dialect reports which matching dialect the rule uses.
func (r *Rule) Dialect() Dialect { return r.dialect }

// MatchText runs a regex-dialect rule over text one line at a time and
// returns every match with its offset into text. Pattern-dialect rules
// return nil here.
func (r *Rule) MatchText(text string) []Match {
	if r.dialect != DialectRegex {
		return nil
	}
	var matches []Match
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		for _, loc := range r.re.FindAllStringIndex(line, -1) {
			matched := line[loc[0]:loc[1]]
			if r.exclude[matched] {
				continue
			}
			matches = append(matches, Match{
				Start:   offset + loc[0],
				Length:  loc[1] - loc[0],
				Snippet: finding.TruncateEvidence(matched),
			})
		}
		offset += len(line) + 1
	}
	return matches
}

// Satisfied evaluates a pattern-dialect rule's condition against text.
// It returns whether the condition holds plus the first match of any
// named string, as evidence. Regex-dialect rules return false.
func (r *Rule) Satisfied(text string) (bool, Match) {
	if r.dialect != DialectPattern {
		return false, Match{}
	}

	counts := make(map[string]int, len(r.strings))
	names := make([]string, 0, len(r.strings))
	first := Match{Start: -1}
	for i := range r.strings {
		p := &r.strings[i]
		names = append(names, p.name)
		hits := p.findAll(text)
		counts[p.name] = len(hits)
		if len(hits) > 0 && (first.Start < 0 || hits[0].Start < first.Start) {
			first = hits[0]
		}
	}

	if !r.condition.eval(counts, names) {
		return false, Match{}
	}
	if first.Start < 0 {
		first = Match{}
	}
	return true, first
}

// Library is the immutable set of loaded rules. It is constructed once
// at startup and shared by reference; nothing mutates it afterwards.
type Library struct {
	rules []*Rule
}

// Rules returns all rules in load order.
func (l *Library) Rules() []*Rule { return l.rules }

// Regex returns the regex-dialect subset in load order.
func (l *Library) Regex() []*Rule {
	return l.subset(DialectRegex)
}

// Patterns returns the pattern-dialect subset in load order.
func (l *Library) Patterns() []*Rule {
	return l.subset(DialectPattern)
}

func (l *Library) subset(d Dialect) []*Rule {
	var out []*Rule
	for _, r := range l.rules {
		if r.dialect == d {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of loaded rules.
func (l *Library) Len() int { return len(l.rules) }
