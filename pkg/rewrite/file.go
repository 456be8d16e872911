package rewrite

import (
	"os"
	"path/filepath"
	"strings"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
)

// Target is the file an update edits.
type Target struct {
	Path string

	// Sibling marks a many-variants data file found next to the package
	// definition. Those files are edited with plain substring replacement
	// since they need not share the definition's shape.
	Sibling bool
}

// ReplaceAttr sets attribute name from oldValue to newValue in the target.
func (t Target) ReplaceAttr(name, oldValue, newValue string) error {
	if t.Sibling {
		return t.replacePlain(oldValue, newValue, name)
	}
	return EditFile(t.Path, func(content string) (string, error) {
		return ReplaceAttr(content, name, oldValue, newValue)
	})
}

// ReplaceHash rewrites the source hash and returns the attribute name that
// held it. For sibling files the name is empty.
func (t Target) ReplaceHash(oldHash, newHash string) (string, error) {
	if t.Sibling {
		return "", t.replacePlain(oldHash, newHash, "hash")
	}
	var used string
	err := EditFile(t.Path, func(content string) (string, error) {
		result, name, err := ReplaceHash(content, oldHash, newHash)
		used = name
		return result, err
	})
	return used, err
}

func (t Target) replacePlain(oldValue, newValue, name string) error {
	if oldValue == "" {
		return nixerrors.New(nixerrors.ErrCodeAttrNotFound, "Attribute '%s' not found", name)
	}
	return EditFile(t.Path, func(content string) (string, error) {
		if !strings.Contains(content, oldValue) {
			return "", nixerrors.New(nixerrors.ErrCodeAttrNotFound, "Attribute '%s' not found", name)
		}
		return strings.ReplaceAll(content, oldValue, newValue), nil
	})
}

// EditFile applies edit to the contents of path. The file is replaced
// atomically, and only when edit succeeds.
func EditFile(path string, edit func(string) (string, error)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	result, err := edit(string(data))
	if err != nil {
		return err
	}
	if result == string(data) {
		return nil
	}
	return writeFile(path, []byte(result))
}

func writeFile(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".nixupdate-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Locate returns the file holding `version = "<version>";` for the package
// defined at path.
//
// If path has no such binding and manyVariants reports true, the immediate
// siblings of path are searched with [FindSibling]. Otherwise the
// ATTR_NOT_FOUND error for path is returned. manyVariants is only called when
// the direct lookup fails and may be nil.
func Locate(path, version, hash string, manyVariants func() (bool, error)) (Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Target{}, err
	}
	content := string(data)
	if err := validate(content); err != nil {
		return Target{}, err
	}
	if HasAttr(content, "version", version) {
		return Target{Path: path}, nil
	}

	notFound := nixerrors.New(nixerrors.ErrCodeAttrNotFound, "Attribute 'version' not found")
	if manyVariants == nil {
		return Target{}, notFound
	}
	ok, err := manyVariants()
	if err != nil {
		return Target{}, err
	}
	if !ok {
		return Target{}, notFound
	}

	sibling, err := FindSibling(path, version, hash)
	if err != nil {
		return Target{}, err
	}
	if sibling == "" {
		return Target{}, notFound
	}
	return Target{Path: sibling, Sibling: true}, nil
}

// FindSibling looks in the directory of path, without descending, for a
// file with the same extension in which version and hash each occur exactly
// once. An empty hash is not checked. It returns "" when nothing matches.
func FindSibling(path, version, hash string) (string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		candidate := filepath.Join(dir, e.Name())
		if filepath.Clean(candidate) == filepath.Clean(path) {
			continue
		}
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		content := string(data)
		if strings.Count(content, version) != 1 {
			continue
		}
		if hash != "" && strings.Count(content, hash) != 1 {
			continue
		}
		return candidate, nil
	}
	return "", nil
}
