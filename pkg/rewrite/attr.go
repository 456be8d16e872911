package rewrite

import (
	"regexp"
	"strings"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/nixparse"
)

// HashAttrs lists the attribute names that may hold a source hash, in the
// order they are tried.
var HashAttrs = []string{"hash", "sha256", "outputHash", "src-hash"}

// attrPattern matches `name = "value";` bindings. The leading group anchors
// the name so that "version" does not match inside "srcversion".
//
// Groups: 1 boundary, 2 name and opening quote, 3 value, 4 closing quote and semicolon.
func attrPattern(name, value string) *regexp.Regexp {
	v := `[^"]*`
	if value != "" {
		v = regexp.QuoteMeta(value)
	}
	return regexp.MustCompile(`(?m)(^|[\s;{])(` + regexp.QuoteMeta(name) + `\s*=\s*")(` + v + `)("\s*;)`)
}

// HasAttr reports whether content binds name to value. An empty value
// matches any string.
func HasAttr(content, name, value string) bool {
	return attrPattern(name, value).MatchString(content)
}

// ReplaceAttr sets the string attribute name to newValue.
//
// When oldValue is non-empty only bindings currently holding oldValue are
// rewritten. The content must parse before the edit and after it. On any
// error the input is not modified and the returned string is empty.
func ReplaceAttr(content, name, oldValue, newValue string) (string, error) {
	if err := validate(content); err != nil {
		return "", err
	}

	re := attrPattern(name, oldValue)
	if !re.MatchString(content) {
		return "", nixerrors.New(nixerrors.ErrCodeAttrNotFound, "Attribute '%s' not found", name)
	}

	repl := "${1}${2}" + strings.ReplaceAll(newValue, "$", "$$") + "${4}"
	result := re.ReplaceAllString(content, repl)

	if err := nixparse.Validate(result); err != nil {
		return "", nixerrors.Wrap(nixerrors.ErrCodeSyntax, err, "replacement would create invalid Nix syntax")
	}
	return result, nil
}

// ReplaceHash rewrites the first attribute in [HashAttrs] that holds
// oldHash and returns that attribute's name.
func ReplaceHash(content, oldHash, newHash string) (string, string, error) {
	for _, name := range HashAttrs {
		result, err := ReplaceAttr(content, name, oldHash, newHash)
		if err == nil {
			return result, name, nil
		}
		if !nixerrors.Is(err, nixerrors.ErrCodeAttrNotFound) {
			return "", "", err
		}
	}
	return "", "", nixerrors.New(nixerrors.ErrCodeAttrNotFound,
		"Attribute '%s' not found", strings.Join(HashAttrs, "|"))
}

func validate(content string) error {
	if err := nixparse.Validate(content); err != nil {
		return nixerrors.Wrap(nixerrors.ErrCodeSyntax, err, "failed to parse Nix file")
	}
	return nil
}
