package skill

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrManifestMissing is returned when the skill directory has no
// SKILL.md at its root.
var ErrManifestMissing = errors.New("SKILL.md not found in skill directory")

// ManifestInvalidError is returned when SKILL.md exists but its header
// cannot be used (no frontmatter, unparseable YAML, missing name).
type ManifestInvalidError struct {
	Message string
}

func (e *ManifestInvalidError) Error() string {
	return fmt.Sprintf("invalid SKILL.md manifest: %s", e.Message)
}

// TooLargeError is returned when the directory walk exceeds one of the
// parser bounds (depth, file count, cumulative size).
type TooLargeError struct {
	Reason string
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("skill package too large: %s", e.Reason)
}
