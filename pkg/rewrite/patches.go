package rewrite

import (
	"regexp"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/nixparse"
)

var (
	// A patches list holding nothing but whitespace and comments.
	emptyPatchesRE = regexp.MustCompile(`(?ms)^\s*patches\s*=\s*\[\s*(?:#[^\n]*\n?\s*)*\]\s*;`)

	// Same shape as a whole line, so removing it leaves the lines around it
	// (blank ones included) as they were.
	emptyPatchesLineRE = regexp.MustCompile(`(?m)^[ \t]*patches\s*=\s*\[\s*(?:#[^\n]*\n?\s*)*\][ \t]*;[ \t]*\n?`)
)

// HasEmptyPatches reports whether content has a patches attribute whose list
// is empty or holds only comments.
func HasEmptyPatches(content string) bool {
	return emptyPatchesRE.MatchString(content)
}

// RemoveEmptyPatches deletes an empty patches attribute.
func RemoveEmptyPatches(content string) (string, error) {
	if err := validate(content); err != nil {
		return "", err
	}
	loc := emptyPatchesLineRE.FindStringIndex(content)
	if loc == nil {
		return "", nixerrors.New(nixerrors.ErrCodeAttrNotFound, "Empty patches attribute not found")
	}
	return checked(content[:loc[0]]+content[loc[1]:], "removal")
}

// RemovePatch removes the entry for the patch file name from the patches
// list. A plain path entry (./name) is tried first, then a fetchpatch call
// mentioning the name.
func RemovePatch(content, name string) (string, error) {
	if err := validate(content); err != nil {
		return "", err
	}

	quoted := regexp.QuoteMeta(name)
	// Only the entry's own line goes; blank lines around it stay.
	simple := regexp.MustCompile(`(?m)^[ \t]*\./` + quoted + `,?[ \t]*$\n?`)
	if loc := simple.FindStringIndex(content); loc != nil {
		return checked(content[:loc[0]]+content[loc[1]:], "removal")
	}

	fetch := regexp.MustCompile(`(?ms)^[ \t]*\(fetchpatch\s+\{[^}]*` + quoted + `[^}]*\}\)[ \t]*,?[ \t]*\n?`)
	if loc := fetch.FindStringIndex(content); loc != nil {
		return checked(content[:loc[0]]+content[loc[1]:], "removal")
	}

	return "", nixerrors.New(nixerrors.ErrCodePatchNotFound, "Patch '%s' not found in patches array", name)
}

func checked(result, op string) (string, error) {
	if err := nixparse.Validate(result); err != nil {
		return "", nixerrors.Wrap(nixerrors.ErrCodeSyntax, err, "%s would create invalid Nix syntax", op)
	}
	return result, nil
}
