package rewrite

import (
	"sort"
	"strings"
	"unicode"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/nixparse"
)

const emptyList = "[ ]"

// PruneMaintainers sets every maintainers binding in content to an empty
// list and reports whether anything changed. Bindings already holding an
// empty list are left alone, as are inherited ones.
//
// Values are located with the parser rather than a pattern, so a value
// spanning lines or containing ";" inside a string is replaced whole.
func PruneMaintainers(content string) (string, bool, error) {
	binds, err := nixparse.Bindings(content)
	if err != nil {
		return "", false, nixerrors.Wrap(nixerrors.ErrCodeSyntax, err, "failed to parse Nix file")
	}
	sort.Slice(binds, func(i, j int) bool { return binds[i].ValueStart < binds[j].ValueStart })

	var (
		b       strings.Builder
		last    int
		changed bool
	)
	for _, bind := range binds {
		if !isMaintainers(bind.Path) || bind.ValueStart < last {
			continue
		}
		value := strings.TrimRightFunc(content[bind.ValueStart:bind.ValueEnd], unicode.IsSpace)
		if strings.Join(strings.Fields(value), "") == "[]" {
			continue
		}
		b.WriteString(content[last:bind.ValueStart])
		b.WriteString(emptyList)
		last = bind.ValueStart + len(value)
		changed = true
	}
	if !changed {
		return content, false, nil
	}
	b.WriteString(content[last:])

	result, err := checked(b.String(), "pruning maintainers")
	if err != nil {
		return "", false, err
	}
	return result, true, nil
}

func isMaintainers(path []string) bool {
	return len(path) > 0 && path[len(path)-1] == "maintainers"
}
