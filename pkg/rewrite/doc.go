// Package rewrite edits Nix package recipes as raw text.
//
// Mutation never goes through a syntax tree. Every edit is a regular
// expression substitution on the file contents, which keeps formatting,
// comments and unrelated attributes byte-identical. The parser in
// [github.com/matzehuels/nixupdate/pkg/nixparse] is only used to check that
// the file is valid before the edit and is still valid after it.
//
// # Attributes
//
// [ReplaceAttr] rewrites one string-valued binding such as
//
//	version = "1.2.3";
//
// and fails with an ATTR_NOT_FOUND error when the binding (or the binding
// with the expected old value) does not exist. [ReplaceHash] tries the
// content-hash attribute names in [HashAttrs] in order.
//
// # Patches
//
// [HasEmptyPatches], [RemoveEmptyPatches] and [RemovePatch] maintain the
// patches list while stale patches are dropped during build verification.
//
// # Maintainers
//
// [PruneMaintainers] empties every maintainers list in a file. It is the one
// edit that locates its target through [nixparse.Bindings] instead of a
// pattern, because maintainer lists are arbitrary expressions.
//
// # Files
//
// [Target] applies the same operations to a file on disk. [Locate] resolves
// the file that actually holds a package's version, following the
// many-variants convention where the data lives in a sibling file.
package rewrite
