package skill

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/clawguard/clawguard/pkg/finding"
)

const ManifestFileName = "SKILL.md"

// Walk bounds. Exceeding any of them aborts the parse with a
// TooLargeError rather than truncating silently.
const (
	maxWalkDepth    = 8
	maxFileCount    = 2000
	maxTotalBytes   = 50 * 1024 * 1024
	maxTextBytes    = 1 * 1024 * 1024
	binarySniffSize = 8 * 1024
)

// Directory names that never contain skill content. Matched against
// the base name with doublestar so ".*" covers .git, .venv and friends.
var skipDirGlobs = []string{".*", "venv", "node_modules", "__pycache__"}

var scriptExtensions = map[string]Language{
	".py":   LanguagePython,
	".sh":   LanguageBash,
	".bash": LanguageBash,
	".js":   LanguageJavaScript,
	".ts":   LanguageTypeScript,
}

// Interpreters recognized in shebang lines for extensionless scripts.
var shebangLanguages = map[string]Language{
	"python":  LanguagePython,
	"python3": LanguagePython,
	"sh":      LanguageBash,
	"bash":    LanguageBash,
	"zsh":     LanguageBash,
	"node":    LanguageJavaScript,
	"deno":    LanguageTypeScript,
}

// Parse reads the skill package rooted at dir and returns the
// normalized Skill plus any parse-time warnings (info findings, e.g.
// oversized text files recorded with empty text). Warnings never fail
// the parse; structural problems do.
func Parse(dir string) (*Skill, []finding.Finding, error) {
	manifestPath := filepath.Join(dir, ManifestFileName)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrap(ErrManifestMissing, dir)
		}
		return nil, nil, errors.Wrapf(err, "reading %s", manifestPath)
	}

	sk, err := parseManifest(string(raw))
	if err != nil {
		return nil, nil, err
	}
	sk.RootPath = dir

	warnings, err := walkPackage(dir, sk)
	if err != nil {
		return nil, nil, err
	}

	return sk, warnings, nil
}

// parseManifest splits the YAML frontmatter from the markdown body and
// decodes the header fields.
func parseManifest(raw string) (*Skill, error) {
	content := strings.TrimLeft(raw, "\n")
	if !strings.HasPrefix(content, "---") {
		return nil, &ManifestInvalidError{Message: "missing frontmatter header"}
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))
	pctx := parser.NewContext()
	var rendered bytes.Buffer
	if err := md.Convert([]byte(content), &rendered, parser.WithContext(pctx)); err != nil {
		return nil, &ManifestInvalidError{Message: err.Error()}
	}

	header := meta.Get(pctx)
	if header == nil {
		return nil, &ManifestInvalidError{Message: "unterminated or unparseable frontmatter"}
	}

	sk := &Skill{
		RawManifest:  raw,
		BodyMarkdown: extractBody(content),
	}

	name, _ := header["name"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, &ManifestInvalidError{Message: "missing required 'name' field"}
	}
	sk.Name = name
	sk.Description, _ = header["description"].(string)
	sk.Version = stringField(header, "version")
	sk.Author = stringField(header, "author")
	sk.License = stringField(header, "license")

	if m, ok := normalizeYAML(header["metadata"]).(map[string]any); ok {
		sk.Metadata = m
	}
	if req, ok := header["requires"]; ok {
		if err := decodeWeak(normalizeYAML(req), &sk.Requires); err != nil {
			return nil, &ManifestInvalidError{Message: fmt.Sprintf("requires: %v", err)}
		}
	}
	if inst, ok := header["install"]; ok {
		steps, err := decodeInstall(normalizeYAML(inst))
		if err != nil {
			return nil, &ManifestInvalidError{Message: fmt.Sprintf("install: %v", err)}
		}
		sk.InstallSteps = steps
	}

	return sk, nil
}

func stringField(header map[string]any, key string) string {
	switch v := header[key].(type) {
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

// normalizeYAML rewrites the interface-keyed maps produced by the
// frontmatter YAML decoder into string-keyed ones.
func normalizeYAML(in any) any {
	switch v := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[fmt.Sprintf("%v", key)] = normalizeYAML(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return in
	}
}

func decodeWeak(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// decodeInstall normalizes the manifest install list. Entries may be
// mappings with description/command or bare command strings.
func decodeInstall(in any) ([]InstallStep, error) {
	items, ok := in.([]any)
	if !ok {
		return nil, errors.New("expected a list")
	}
	steps := make([]InstallStep, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			steps = append(steps, InstallStep{Command: v})
		default:
			var step InstallStep
			if err := decodeWeak(v, &step); err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
	}
	return steps, nil
}

// extractBody returns everything after the closing frontmatter
// delimiter.
func extractBody(content string) string {
	lines := strings.Split(content, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n")
		}
	}
	return content
}

// walkPackage inventories every file under dir into sk.Scripts and
// sk.ExtraFiles, enforcing the walk bounds.
func walkPackage(dir string, sk *Skill) ([]finding.Finding, error) {
	var warnings []finding.Finding
	var fileCount int
	var totalBytes int64

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "walking %s", path)
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			depth := strings.Count(rel, "/") + 1
			if depth > maxWalkDepth {
				return &TooLargeError{Reason: fmt.Sprintf("directory depth exceeds %d at %s", maxWalkDepth, rel)}
			}
			for _, pattern := range skipDirGlobs {
				if ok, _ := doublestar.Match(pattern, d.Name()); ok {
					return fs.SkipDir
				}
			}
			return nil
		}

		// Never follow symlinks.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if rel == ManifestFileName {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return errors.Wrapf(infoErr, "stat %s", rel)
		}

		fileCount++
		if fileCount > maxFileCount {
			return &TooLargeError{Reason: fmt.Sprintf("more than %d files", maxFileCount)}
		}
		totalBytes += info.Size()
		if totalBytes > maxTotalBytes {
			return &TooLargeError{Reason: fmt.Sprintf("cumulative size exceeds %d bytes", int64(maxTotalBytes))}
		}

		entry, warning, readErr := readEntry(path, rel, info.Size())
		if readErr != nil {
			return readErr
		}
		if warning != nil {
			warnings = append(warnings, *warning)
		}

		if lang, text, isScript := classifyScript(rel, entry); isScript {
			sk.Scripts = append(sk.Scripts, Script{
				Path:      rel,
				Language:  lang,
				Text:      text,
				SizeBytes: info.Size(),
			})
			return nil
		}

		sk.ExtraFiles = append(sk.ExtraFiles, entry)
		return nil
	})
	if err != nil {
		var tooLarge *TooLargeError
		if errors.As(err, &tooLarge) {
			return nil, tooLarge
		}
		return nil, err
	}

	return warnings, nil
}

// readEntry loads one file, sniffing for binary content and applying
// the per-file text cap.
func readEntry(path, rel string, size int64) (FileEntry, *finding.Finding, error) {
	entry := FileEntry{Path: rel, SizeBytes: size}

	if size > maxTextBytes {
		f, err := os.Open(path)
		if err != nil {
			return entry, nil, errors.Wrapf(err, "opening %s", rel)
		}
		defer f.Close()
		sniff := make([]byte, binarySniffSize)
		n, _ := io.ReadFull(f, sniff)
		if bytes.IndexByte(sniff[:n], 0) >= 0 {
			entry.IsBinary = true
			return entry, nil, nil
		}
		warning := &finding.Finding{
			Analyzer: "parser",
			Category: finding.CategoryBestPractices,
			Severity: finding.SeverityInfo,
			Title:    fmt.Sprintf("Oversized text file skipped: %s", rel),
			Detail: fmt.Sprintf("%s is %d bytes, above the %d byte analysis cap; its content was not analyzed.",
				rel, size, maxTextBytes),
			File:           rel,
			Recommendation: "Keep bundled text files small enough to be reviewed.",
		}
		return entry, warning, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return entry, nil, errors.Wrapf(err, "reading %s", rel)
	}
	sniff := data
	if len(sniff) > binarySniffSize {
		sniff = sniff[:binarySniffSize]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		entry.IsBinary = true
		return entry, nil, nil
	}
	entry.Text = string(data)
	return entry, nil, nil
}

// classifyScript decides whether a file is an analyzable script, by
// extension first and shebang second.
func classifyScript(rel string, entry FileEntry) (Language, string, bool) {
	if entry.IsBinary {
		return LanguageUnknown, "", false
	}
	if lang, ok := scriptExtensions[strings.ToLower(filepath.Ext(rel))]; ok {
		return lang, entry.Text, true
	}
	if lang, ok := shebangLanguage(entry.Text); ok {
		return lang, entry.Text, true
	}
	return LanguageUnknown, "", false
}

func shebangLanguage(text string) (Language, bool) {
	if !strings.HasPrefix(text, "#!") {
		return LanguageUnknown, false
	}
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}
	fields := strings.Fields(strings.TrimPrefix(firstLine, "#!"))
	if len(fields) == 0 {
		return LanguageUnknown, false
	}
	interp := filepath.Base(fields[0])
	if interp == "env" && len(fields) > 1 {
		interp = filepath.Base(fields[1])
	}
	// Strip version suffixes like python3.12.
	for name, lang := range shebangLanguages {
		if interp == name || strings.HasPrefix(interp, name+".") {
			return lang, true
		}
	}
	return LanguageUnknown, false
}
