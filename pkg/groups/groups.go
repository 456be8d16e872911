// Package groups loads the optional batch grouping file.
//
// The file maps group names to attribute paths:
//
//	{
//	  "kde-frameworks": ["kdePackages.kcoreaddons", "kdePackages.ki18n"],
//	  "rust-analyzer": ["rust-analyzer-unwrapped", "rust-analyzer"]
//	}
//
// Updates for members of a group are applied together in one worktree and
// proposed as one pull request.
package groups

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
)

// Index maps attribute paths to their group. The zero value has no groups.
type Index struct {
	members map[string][]string
	byAttr  map[string]string
}

// Load reads a grouping file.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grouping file: %w", err)
	}
	return Parse(data)
}

// Parse decodes grouping JSON. Group names must be usable as branch names
// and every attribute may belong to one group only.
func Parse(data []byte) (*Index, error) {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nixerrors.Wrap(nixerrors.ErrCodeInvalidInput, err, "parse grouping file")
	}

	idx := &Index{members: make(map[string][]string, len(raw)), byAttr: make(map[string]string)}
	for _, name := range sortedKeys(raw) {
		if err := nixerrors.ValidateGroupName(name); err != nil {
			return nil, err
		}
		for _, attr := range raw[name] {
			if err := nixerrors.ValidateAttrPath(attr); err != nil {
				return nil, fmt.Errorf("group %s: %w", name, err)
			}
			if other, dup := idx.byAttr[attr]; dup {
				return nil, nixerrors.New(nixerrors.ErrCodeInvalidInput,
					"%s is listed in groups %s and %s", attr, other, name)
			}
			idx.byAttr[attr] = name
		}
		idx.members[name] = raw[name]
	}
	return idx, nil
}

// GroupOf returns the group attr belongs to.
func (idx *Index) GroupOf(attr string) (string, bool) {
	if idx == nil {
		return "", false
	}
	g, ok := idx.byAttr[attr]
	return g, ok
}

// Members returns the attributes listed for group in file order.
func (idx *Index) Members(group string) []string {
	if idx == nil {
		return nil
	}
	return idx.members[group]
}

// Names returns the group names, sorted.
func (idx *Index) Names() []string {
	if idx == nil {
		return nil
	}
	return sortedKeys(idx.members)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
