package verify

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/rewrite"
)

// Sentinel is a well-formed SRI hash that never matches real content.
const Sentinel = "sha256-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

const (
	reversedPatchMarker = "Reversed (or previously applied) patch detected!"
	patchScanLines      = 20
)

var (
	gotHashRE       = regexp.MustCompile(`got:\s+(sha256-[A-Za-z0-9+/=]+)`)
	applyingPatchRE = regexp.MustCompile(`applying patch /nix/store/[^-]+-(.+)`)
)

// Request describes one version bump to verify.
type Request struct {
	// Dir is the checkout the builds run in. Entry is resolved against it.
	Dir   string
	Entry string
	Attr  string

	// Target holds the version binding. PackageFile is the package
	// definition, which owns the patches list even when Target is a
	// many-variants sibling.
	Target      rewrite.Target
	PackageFile string

	OldVersion string
	NewVersion string

	// Current hashes. Empty CargoHash or VendorHash means the package has
	// no such attribute.
	SrcHash    string
	CargoHash  string
	VendorHash string
}

// Result reports what verification wrote.
type Result struct {
	SrcHash        string
	HashAttr       string
	CargoHash      string
	VendorHash     string
	RemovedPatches []string
	// EmptyPatchesRemoved is set when the patches list ended up empty
	// and was dropped.
	EmptyPatchesRemoved bool
}

// Verifier drives the rewrite and build steps.
type Verifier struct {
	Builder nix.Builder
	Logger  *log.Logger
}

func (v *Verifier) logger() *log.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return log.Default()
}

// Run rewrites req.Target to the new version and proves it builds.
//
// Steps, each fatal on failure:
//  1. set the version and a sentinel source hash
//  2. build src, expect a mismatch, extract the real hash
//  3. write the real hash and rebuild src
//  4. repeat 1-2 for cargoHash and vendorHash against the full build
//  5. build the package, dropping reversed patches until it succeeds
//
// Files are left in whatever state the failing step produced. Callers run
// Run in a disposable worktree.
func (v *Verifier) Run(ctx context.Context, req Request) (*Result, error) {
	logger := v.logger().With("attr", req.Attr)
	res := &Result{}

	if err := req.Target.ReplaceAttr("version", req.OldVersion, req.NewVersion); err != nil {
		return nil, err
	}
	attrName, err := req.Target.ReplaceHash(req.SrcHash, Sentinel)
	if err != nil {
		return nil, err
	}
	res.HashAttr = attrName
	logger.Debug("set version and sentinel hash", "file", req.Target.Path, "version", req.NewVersion, "hash_attr", attrName)

	hash, err := v.discoverHash(ctx, req, "src", "source hash")
	if err != nil {
		return nil, err
	}
	if _, err := req.Target.ReplaceHash(Sentinel, hash); err != nil {
		return nil, err
	}
	res.SrcHash = hash
	logger.Info("extracted source hash", "hash", hash)

	out, err := v.build(ctx, req, "src")
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, nixerrors.New(nixerrors.ErrCodeBuildFailed,
			"source build failed with the extracted hash %s:\n%s", hash, out.Stderr)
	}

	for _, eco := range []struct {
		name string
		old  string
		dst  *string
	}{
		{"cargoHash", req.CargoHash, &res.CargoHash},
		{"vendorHash", req.VendorHash, &res.VendorHash},
	} {
		if eco.old == "" {
			continue
		}
		if err := req.Target.ReplaceAttr(eco.name, eco.old, Sentinel); err != nil {
			return nil, err
		}
		hash, err := v.discoverHash(ctx, req, "", eco.name)
		if err != nil {
			return nil, err
		}
		if err := req.Target.ReplaceAttr(eco.name, Sentinel, hash); err != nil {
			return nil, err
		}
		*eco.dst = hash
		logger.Info("extracted "+eco.name, "hash", hash)
	}

	if err := v.buildWithPatchRecovery(ctx, req, res, logger); err != nil {
		return nil, err
	}
	return res, nil
}

// discoverHash builds suffix expecting a hash mismatch and returns the
// hash Nix reports.
func (v *Verifier) discoverHash(ctx context.Context, req Request, suffix, what string) (string, error) {
	out, err := v.build(ctx, req, suffix)
	if err != nil {
		return "", err
	}
	if out.Success {
		return "", nixerrors.New(nixerrors.ErrCodeUnexpectedSuccess,
			"Expected hash mismatch error but build succeeded (%s)", what)
	}
	hash := ExtractHash(out.Stderr)
	if hash == "" {
		return "", nixerrors.New(nixerrors.ErrCodeHashNotExtracted,
			"could not extract %s from build error:\n%s", what, out.Stderr)
	}
	return hash, nil
}

func (v *Verifier) build(ctx context.Context, req Request, suffix string) (nix.BuildResult, error) {
	out, err := v.Builder.Build(ctx, req.Dir, req.Entry, req.Attr, suffix)
	if err != nil {
		return out, nixerrors.Wrap(nixerrors.ErrCodeBuildFailed, err, "run nix-build for %s", req.Attr)
	}
	return out, nil
}

func (v *Verifier) buildWithPatchRecovery(ctx context.Context, req Request, res *Result, logger *log.Logger) error {
	for {
		out, err := v.build(ctx, req, "")
		if err != nil {
			return err
		}

		if out.Success {
			data, err := os.ReadFile(req.PackageFile)
			if err == nil && rewrite.HasEmptyPatches(string(data)) {
				if err := rewrite.EditFile(req.PackageFile, rewrite.RemoveEmptyPatches); err != nil {
					logger.Debug("could not remove empty patches attribute", "err", err)
				} else {
					res.EmptyPatchesRemoved = true
					logger.Debug("removed empty patches attribute")
				}
			}
			return nil
		}

		name := DetectReversedPatch(out.Stderr)
		if name == "" {
			logger.Warn("full package build failed")
			return nixerrors.New(nixerrors.ErrCodeBuildFailed,
				"package build failed after update:\n%s", out.Stderr)
		}

		err = rewrite.EditFile(req.PackageFile, func(content string) (string, error) {
			return rewrite.RemovePatch(content, name)
		})
		if err != nil {
			logger.Warn("failed to remove reversed patch", "patch", name, "err", err)
			return nixerrors.Wrap(nixerrors.ErrCodeBuildFailed, err,
				"detected reversed patch %s but could not remove it:\n%s", name, out.Stderr)
		}
		res.RemovedPatches = append(res.RemovedPatches, name)
		logger.Info("removed obsolete patch", "patch", name)
	}
}

// ExtractHash returns the hash from a Nix "got:" line, or "".
func ExtractHash(stderr string) string {
	m := gotHashRE.FindStringSubmatch(stderr)
	if m == nil {
		return ""
	}
	return m[1]
}

// DetectReversedPatch looks for the reversed-patch marker in the last lines
// of a build log and returns the name of the patch being applied when it
// appeared, or "".
func DetectReversedPatch(stderr string) string {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	if len(lines) > patchScanLines {
		lines = lines[len(lines)-patchScanLines:]
	}
	for i, line := range lines {
		if !strings.Contains(line, reversedPatchMarker) {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if m := applyingPatchRE.FindStringSubmatch(lines[j]); m != nil {
				return strings.TrimSpace(m[1])
			}
		}
	}
	return ""
}
