// Package nixparse checks Nix expressions for syntax errors.
//
// The source rewriter edits recipe files as raw text and uses [Validate]
// before and after every edit, so that a replacement can never leave a file
// that nix would refuse to parse. The parser covers the full expression
// grammar (lambdas with formals, let/with/assert/if, attribute sets with
// dynamic and quoted names, both string forms with nested interpolation,
// paths, URIs and the operator table) but builds no syntax tree: it only
// answers "does this parse", and where it does not.
package nixparse
