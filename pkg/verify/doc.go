// Package verify proves an updated package recipe by building it.
//
// The correct source hash of a new release is not known in advance, so
// [Verifier.Run] writes a deliberately wrong hash, lets Nix reject it and
// reads the real value from the mismatch report:
//
//	error: hash mismatch in fixed-output derivation '/nix/store/...-source.drv':
//	         specified: sha256-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=
//	            got:    sha256-8GRdn5qy1G6ZVAnDXhvMp6JNDH9fIAO5gKoMlS/HjRI=
//
// The same trick recovers cargoHash and vendorHash for Rust and Go
// packages. The final full build retries after dropping patches that no
// longer apply to the new source.
//
// The marker strings ([Sentinel], the "got:" line, the patch messages) are
// a contract with the Nix and patch output formats. When they change,
// verification fails with HASH_NOT_EXTRACTED or BUILD_FAILED rather than
// guessing.
package verify
