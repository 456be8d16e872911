// Package nix drives the Nix evaluator and builder as subprocesses.
//
// [Nix] wraps three binaries:
//
//   - nix-instantiate evaluates expressions ([Nix.Evaluate]).
//   - nix-build builds attributes, optionally a sub-attribute such as
//     "src" ([Nix.Build]).
//   - nix-eval-jobs streams every derivation of a package set as JSON lines
//     ([Nix.EvalJobs]).
//
// [LoadMetadata] derives the per-package facts the updater needs (version,
// source URL, hashes, definition position) by evaluating small expressions
// against an entry point such as "./.".
//
// Attribute paths are spliced into expressions as selectors, so callers must
// pass paths that satisfy errors.ValidateAttrPath. [NewQuery] enforces it and
// quotes segments that are not identifiers, such as "1password".
package nix
