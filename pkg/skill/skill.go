// Package skill parses AI-agent skill packages into an immutable
// in-memory representation. A skill package is a directory containing a
// SKILL.md manifest with YAML frontmatter plus optional helper scripts
// and resources.
package skill

// Language tags the scripting language of a bundled script, inferred
// from the file extension or shebang line.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageBash       Language = "bash"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageUnknown    Language = "unknown"
)

// Script is a helper script bundled with a skill.
type Script struct {
	Path      string   `json:"path"`
	Language  Language `json:"language"`
	Text      string   `json:"text"`
	SizeBytes int64    `json:"size_bytes"`
}

// FileEntry is a non-script file bundled with a skill. Text is only
// populated for non-binary files under the per-file size cap.
type FileEntry struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	IsBinary  bool   `json:"is_binary"`
	Text      string `json:"-"`
}

// Requires captures the manifest's declared requirements.
type Requires struct {
	Bins        []string       `json:"bins,omitempty" mapstructure:"bins"`
	Env         []string       `json:"env,omitempty" mapstructure:"env"`
	Permissions []string       `json:"permissions,omitempty" mapstructure:"permissions"`
	Config      map[string]any `json:"config,omitempty" mapstructure:"config"`
}

// InstallStep is one entry from the manifest's install list.
type InstallStep struct {
	Description string `json:"description" mapstructure:"description"`
	Command     string `json:"command" mapstructure:"command"`
}

// Skill is the normalized form of a skill package. It is created by
// Parse and must be treated as read-only for the duration of a scan;
// analyzers share it across goroutines without locking.
type Skill struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version,omitempty"`
	Author      string         `json:"author,omitempty"`
	License     string         `json:"license,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Requires    Requires       `json:"requires"`

	InstallSteps []InstallStep `json:"install_steps,omitempty"`

	// RawManifest is the full SKILL.md text including the header;
	// BodyMarkdown is everything after the closing delimiter.
	RawManifest  string `json:"-"`
	BodyMarkdown string `json:"body_markdown"`

	Scripts    []Script    `json:"scripts"`
	ExtraFiles []FileEntry `json:"extra_files"`

	// RootPath is kept for diagnostics and the report's skill
	// reference; analyzers never read it.
	RootPath string `json:"root_path"`
}
