package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/clawguard/clawguard/pkg/finding"
)

//go:embed rules/*.yaml
var builtinRules embed.FS

// LoadError describes one rule that failed to compile. Loading is
// fail-fast: a library with any bad rule is refused outright.
type LoadError struct {
	RuleID  string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("rule %q: %s", e.RuleID, e.Message)
}

// ruleFile is the YAML schema of one rule file.
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID             string                `yaml:"id"`
	Category       string                `yaml:"category"`
	Severity       string                `yaml:"severity"`
	Description    string                `yaml:"description"`
	CWE            string                `yaml:"cwe"`
	Recommendation string                `yaml:"recommendation"`
	Regex          string                `yaml:"regex"`
	Exclude        []string              `yaml:"exclude"`
	Strings        map[string]stringSpec `yaml:"strings"`
	Condition      string                `yaml:"condition"`
}

type stringSpec struct {
	Text   string `yaml:"text"`
	Regexp string `yaml:"regexp"`
}

// Load compiles the embedded rule set. If dir is non-empty the
// embedded rules are ignored and *.yaml files from dir are loaded
// instead (the CLAWGUARD_RULES_DIR override).
func Load(dir string) (*Library, error) {
	if dir != "" {
		return loadFromDir(dir)
	}
	entries, err := fs.ReadDir(builtinRules, "rules")
	if err != nil {
		return nil, errors.Wrap(err, "reading embedded rules")
	}
	var lib Library
	var result *multierror.Error
	for _, entry := range entries {
		data, err := builtinRules.ReadFile("rules/" + entry.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "reading embedded rule file %s", entry.Name())
		}
		if err := appendRuleFile(&lib, entry.Name(), data); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &lib, nil
}

func loadFromDir(dir string) (*Library, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, errors.Wrapf(err, "listing rules in %s", dir)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no rule files found in %s", dir)
	}
	sort.Strings(paths)

	var lib Library
	var result *multierror.Error
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		if err := appendRuleFile(&lib, filepath.Base(path), data); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &lib, nil
}

func appendRuleFile(lib *Library, name string, data []byte) error {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return &LoadError{RuleID: name, Message: err.Error()}
	}

	var result *multierror.Error
	for _, spec := range file.Rules {
		rule, err := compileRule(spec)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		lib.rules = append(lib.rules, rule)
	}
	return result.ErrorOrNil()
}

func compileRule(spec ruleSpec) (*Rule, error) {
	if spec.ID == "" {
		return nil, &LoadError{RuleID: "(unnamed)", Message: "missing id"}
	}
	fail := func(format string, args ...any) (*Rule, error) {
		return nil, &LoadError{RuleID: spec.ID, Message: fmt.Sprintf(format, args...)}
	}

	category := finding.Category(spec.Category)
	if !category.Valid() {
		return fail("unknown category %q", spec.Category)
	}
	severity := finding.Severity(spec.Severity)
	if !severity.Valid() {
		return fail("unknown severity %q", spec.Severity)
	}

	rule := &Rule{
		ID:             spec.ID,
		Category:       category,
		Severity:       severity,
		Description:    spec.Description,
		CWE:            spec.CWE,
		Recommendation: spec.Recommendation,
	}

	hasRegex := spec.Regex != ""
	hasStrings := len(spec.Strings) > 0
	switch {
	case hasRegex && hasStrings:
		return fail("rule mixes regex and pattern dialects")
	case hasRegex:
		re, err := regexp.Compile(spec.Regex)
		if err != nil {
			return fail("bad regex: %v", err)
		}
		rule.dialect = DialectRegex
		rule.re = re
		if len(spec.Exclude) > 0 {
			rule.exclude = make(map[string]bool, len(spec.Exclude))
			for _, x := range spec.Exclude {
				rule.exclude[x] = true
			}
		}
	case hasStrings:
		if spec.Condition == "" {
			return fail("pattern rule missing condition")
		}
		names := make([]string, 0, len(spec.Strings))
		for n := range spec.Strings {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			s := spec.Strings[n]
			switch {
			case s.Text != "" && s.Regexp != "":
				return fail("string $%s sets both text and regexp", n)
			case s.Text != "":
				rule.strings = append(rule.strings, namedPattern{name: n, literal: s.Text})
			case s.Regexp != "":
				re, err := regexp.Compile(s.Regexp)
				if err != nil {
					return fail("string $%s: bad regexp: %v", n, err)
				}
				rule.strings = append(rule.strings, namedPattern{name: n, re: re})
			default:
				return fail("string $%s is empty", n)
			}
		}
		cond, err := parseCondition(spec.Condition, names)
		if err != nil {
			return fail("bad condition: %v", err)
		}
		rule.dialect = DialectPattern
		rule.condition = cond
	default:
		return fail("rule has neither regex nor strings")
	}

	return rule, nil
}
