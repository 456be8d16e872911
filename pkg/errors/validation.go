package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// attrSegment is one component of an attribute path: a bare name (digits
// may lead, as nix-eval-jobs prints them) or a double-quoted name without
// escapes or interpolation.
const attrSegment = `(?:[A-Za-z0-9_][A-Za-z0-9_'-]*|"[^"\\$]+")`

// attrPathRegex matches a dotted Nix attribute path.
var attrPathRegex = regexp.MustCompile(`^` + attrSegment + `(?:\.` + attrSegment + `)*$`)

// ValidateAttrPath validates an attribute path before it is interpolated into
// a Nix expression or used as a worktree key.
//
// The validation rules are intentionally conservative:
//   - No empty paths
//   - No control characters
//   - Maximum length of 256 characters
//   - Dot-separated names, each bare or plainly double-quoted
func ValidateAttrPath(attr string) error {
	if attr == "" {
		return New(ErrCodeInvalidAttrPath, "attribute path cannot be empty")
	}

	if len(attr) > 256 {
		return New(ErrCodeInvalidAttrPath, "attribute path too long (max 256 characters)")
	}

	for _, r := range attr {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidAttrPath, "attribute path contains invalid control characters")
		}
	}

	if !attrPathRegex.MatchString(attr) {
		return New(ErrCodeInvalidAttrPath, "invalid attribute path: %q", attr)
	}

	return nil
}

// groupNameRegex matches group names usable as branch and worktree suffixes.
var groupNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateGroupName validates a batch group name from the groups file.
func ValidateGroupName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidInput, "group name cannot be empty")
	}
	if strings.Contains(name, "..") {
		return New(ErrCodeInvalidInput, "group name cannot contain '..'")
	}
	if !groupNameRegex.MatchString(name) {
		return New(ErrCodeInvalidInput, "invalid group name: %q", name)
	}
	return nil
}

// ValidatePath validates a slash-separated path relative to the repository
// root, such as a recipe file mapped into a worktree.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal sequences (..)
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	if strings.Contains(path, "..") {
		return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}
