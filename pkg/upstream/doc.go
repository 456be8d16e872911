// Package upstream decides which upstream release a package should move to.
//
// A package's source URL (or, lacking one, its pname) is classified into a
// [Source]: a GitHub repository, a GitLab project or a PyPI package. The
// [Resolver] lists that source's releases, falling back to tags when a
// project publishes no releases, and picks the greatest release that is
// acceptable under a [Policy].
//
// Version handling follows a few fixed rules:
//
//   - Tags are reduced to versions by [ExtractVersion]: everything before the
//     first digit is dropped, and so is any "-unstable" suffix.
//   - Versions with fewer than three numeric components are padded by
//     [NormalizeVersion] so "1.25" orders after "1.9".
//   - When either side is not a semantic version, only [PolicyLatest] and
//     [PolicyMajor] fall back to plain string comparison.
package upstream
