package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/nixparse"
	"github.com/matzehuels/nixupdate/pkg/rewrite"
)

const (
	oldHash   = "sha256-0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0="
	newHash   = "sha256-8GRdn5qy1G6ZVAnDXhvMp6JNDH9fIAO5gKoMlS/HjRI="
	cargoOld  = "sha256-c4rg0c4rg0c4rg0c4rg0c4rg0c4rg0c4rg0c4rg0c4r="
	cargoNew  = "sha256-Qb2zBf9XT7Yx2kW0pVvHnG5sRkJm8uA1cDe3fLh4iNo="
	mismatch  = "error: hash mismatch in fixed-output derivation '/nix/store/x-source.drv':\n  specified: " + Sentinel + "\n     got:    %s\n"
	storePath = "/nix/store/9x8y7z6w5v4u3t2s1r0q-"
)

const recipe = `{ lib, stdenv, fetchurl }:

stdenv.mkDerivation rec {
  pname = "hello";
  version = "1.0.0";

  src = fetchurl {
    url = "https://example.org/hello-${version}.tar.gz";
    hash = "` + oldHash + `";
  };

  patches = [
    ./fix-build.patch
    ./old.patch
  ];
}
`

const rustRecipe = `{ lib, rustPlatform, fetchFromGitHub }:

rustPlatform.buildRustPackage rec {
  pname = "tool";
  version = "1.0.0";

  src = fetchFromGitHub {
    owner = "example";
    repo = "tool";
    rev = "v${version}";
    sha256 = "` + oldHash + `";
  };

  cargoHash = "` + cargoOld + `";
}
`

type buildCall struct {
	suffix  string
	content string
}

// fakeBuilder replays results in order and snapshots the watched file at
// every build.
type fakeBuilder struct {
	file    string
	results []nix.BuildResult
	calls   []buildCall
}

func (f *fakeBuilder) Build(ctx context.Context, dir, entry, attr, suffix string) (nix.BuildResult, error) {
	data, _ := os.ReadFile(f.file)
	f.calls = append(f.calls, buildCall{suffix: suffix, content: string(data)})
	if len(f.calls) > len(f.results) {
		return nix.BuildResult{}, fmt.Errorf("unexpected build #%d", len(f.calls))
	}
	return f.results[len(f.calls)-1], nil
}

func (f *fakeBuilder) suffixes() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.suffix)
	}
	return out
}

func ok() nix.BuildResult { return nix.BuildResult{Success: true} }

func fail(stderr string) nix.BuildResult { return nix.BuildResult{Stderr: stderr} }

func gotHash(h string) nix.BuildResult { return fail(fmt.Sprintf(mismatch, h)) }

func reversed(patch string) nix.BuildResult {
	return fail(strings.Join([]string{
		"Running phase: patchPhase",
		"applying patch " + storePath + "fix-build.patch",
		"patching file src/main.c",
		"applying patch " + storePath + patch,
		"patching file src/util.c",
		reversedPatchMarker + "  Skipping patch.",
		"1 out of 1 hunk ignored",
		"error: builder for '/nix/store/x-hello-1.1.0.drv' failed with exit code 1",
	}, "\n"))
}

func writeRecipe(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func request(path string) Request {
	return Request{
		Dir:         filepath.Dir(path),
		Entry:       "./.",
		Attr:        "hello",
		Target:      rewrite.Target{Path: path},
		PackageFile: path,
		OldVersion:  "1.0.0",
		NewVersion:  "1.1.0",
		SrcHash:     oldHash,
	}
}

func TestRunHappyPath(t *testing.T) {
	path := writeRecipe(t, "package.nix", recipe)
	b := &fakeBuilder{file: path, results: []nix.BuildResult{gotHash(newHash), ok(), ok()}}

	res, err := (&Verifier{Builder: b}).Run(context.Background(), request(path))
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(b.suffixes(), ","); got != "src,src," {
		t.Errorf("build targets = %q, want src,src,<full>", got)
	}
	first := b.calls[0].content
	if !strings.Contains(first, `version = "1.1.0";`) || !strings.Contains(first, `hash = "`+Sentinel+`";`) {
		t.Errorf("first build did not see the new version with the sentinel:\n%s", first)
	}
	if !strings.Contains(b.calls[1].content, `hash = "`+newHash+`";`) {
		t.Error("source rebuild did not see the extracted hash")
	}

	if res.SrcHash != newHash || res.HashAttr != "hash" {
		t.Errorf("result = %+v", res)
	}
	got := readFile(t, path)
	if strings.Contains(got, oldHash) || strings.Contains(got, Sentinel) {
		t.Errorf("stale hash left in file:\n%s", got)
	}
	if err := nixparse.Validate(got); err != nil {
		t.Errorf("result does not parse: %v", err)
	}
	if !strings.Contains(got, "./old.patch") {
		t.Error("patches changed without a reason")
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name     string
		results  []nix.BuildResult
		wantCode nixerrors.Code
		wantText string
	}{
		{
			name:     "sentinel build succeeds",
			results:  []nix.BuildResult{ok()},
			wantCode: nixerrors.ErrCodeUnexpectedSuccess,
			wantText: "Expected hash mismatch error but build succeeded",
		},
		{
			name:     "no hash in output",
			results:  []nix.BuildResult{fail("error: unable to download 'https://example.org/hello-1.1.0.tar.gz': HTTP error 404")},
			wantCode: nixerrors.ErrCodeHashNotExtracted,
			wantText: "HTTP error 404",
		},
		{
			name:     "source rebuild fails",
			results:  []nix.BuildResult{gotHash(newHash), fail("error: hash mismatch again")},
			wantCode: nixerrors.ErrCodeBuildFailed,
			wantText: "hash mismatch again",
		},
		{
			name:     "full build fails",
			results:  []nix.BuildResult{gotHash(newHash), ok(), fail("src/main.c:12: error: unknown type name 'foo_t'")},
			wantCode: nixerrors.ErrCodeBuildFailed,
			wantText: "unknown type name",
		},
		{
			name:     "reversed patch not in list",
			results:  []nix.BuildResult{gotHash(newHash), ok(), reversed("vendored.patch")},
			wantCode: nixerrors.ErrCodeBuildFailed,
			wantText: "vendored.patch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRecipe(t, "package.nix", recipe)
			b := &fakeBuilder{file: path, results: tt.results}

			_, err := (&Verifier{Builder: b}).Run(context.Background(), request(path))
			if !nixerrors.Is(err, tt.wantCode) {
				t.Fatalf("Run() error = %v, want %s", err, tt.wantCode)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantText)
			}
			if len(b.calls) != len(tt.results) {
				t.Errorf("builds = %d, want %d", len(b.calls), len(tt.results))
			}
		})
	}
}

func TestRunVersionMismatchLeavesFile(t *testing.T) {
	path := writeRecipe(t, "package.nix", recipe)
	b := &fakeBuilder{file: path}
	req := request(path)
	req.OldVersion = "0.9.0"

	_, err := (&Verifier{Builder: b}).Run(context.Background(), req)
	if !nixerrors.Is(err, nixerrors.ErrCodeAttrNotFound) {
		t.Fatalf("Run() error = %v, want ATTR_NOT_FOUND", err)
	}
	if readFile(t, path) != recipe {
		t.Error("file modified")
	}
	if len(b.calls) != 0 {
		t.Error("built despite a failed rewrite")
	}
}

func TestRunCargoHash(t *testing.T) {
	path := writeRecipe(t, "package.nix", rustRecipe)
	b := &fakeBuilder{file: path, results: []nix.BuildResult{
		gotHash(newHash), ok(),
		gotHash(cargoNew),
		ok(),
	}}
	req := request(path)
	req.Attr = "tool"
	req.CargoHash = cargoOld

	res, err := (&Verifier{Builder: b}).Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(b.suffixes(), ","); got != "src,src,," {
		t.Errorf("build targets = %q", got)
	}
	if !strings.Contains(b.calls[2].content, `cargoHash = "`+Sentinel+`";`) {
		t.Errorf("cargo build did not see the sentinel:\n%s", b.calls[2].content)
	}
	if res.HashAttr != "sha256" || res.CargoHash != cargoNew || res.VendorHash != "" {
		t.Errorf("result = %+v", res)
	}
	got := readFile(t, path)
	for _, want := range []string{`sha256 = "` + newHash + `";`, `cargoHash = "` + cargoNew + `";`} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %s in:\n%s", want, got)
		}
	}
}

func TestRunRemovesReversedPatches(t *testing.T) {
	path := writeRecipe(t, "package.nix", recipe)
	b := &fakeBuilder{file: path, results: []nix.BuildResult{
		gotHash(newHash), ok(),
		reversed("old.patch"),
		ok(),
	}}

	res, err := (&Verifier{Builder: b}).Run(context.Background(), request(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.RemovedPatches) != 1 || res.RemovedPatches[0] != "old.patch" {
		t.Errorf("removed = %v", res.RemovedPatches)
	}
	if res.EmptyPatchesRemoved {
		t.Error("patches list is not empty")
	}

	got := readFile(t, path)
	if strings.Contains(got, "old.patch") || !strings.Contains(got, "./fix-build.patch") {
		t.Errorf("unexpected patches:\n%s", got)
	}
	if strings.Contains(b.calls[3].content, "old.patch") {
		t.Error("retry built with the reversed patch still listed")
	}
}

func TestRunDropsEmptiedPatchList(t *testing.T) {
	content := strings.Replace(recipe, "    ./fix-build.patch\n", "", 1)
	path := writeRecipe(t, "package.nix", content)
	b := &fakeBuilder{file: path, results: []nix.BuildResult{
		gotHash(newHash), ok(),
		reversed("old.patch"),
		ok(),
	}}

	res, err := (&Verifier{Builder: b}).Run(context.Background(), request(path))
	if err != nil {
		t.Fatal(err)
	}
	if !res.EmptyPatchesRemoved {
		t.Error("empty patches list kept")
	}
	got := readFile(t, path)
	if strings.Contains(got, "patches") {
		t.Errorf("patches attribute still present:\n%s", got)
	}
	if err := nixparse.Validate(got); err != nil {
		t.Errorf("result does not parse: %v", err)
	}
}

func TestRunSiblingTarget(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "package.nix")
	data := filepath.Join(dir, "versions.nix")
	pkgContent := "{ callPackage }:\n\ncallPackage ./generic.nix (import ./versions.nix)\n"
	dataContent := "{\n  version = \"1.0.0\";\n  hash = \"" + oldHash + "\";\n}\n"
	for p, c := range map[string]string{pkg: pkgContent, data: dataContent} {
		if err := os.WriteFile(p, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	b := &fakeBuilder{file: data, results: []nix.BuildResult{gotHash(newHash), ok(), ok()}}
	req := request(pkg)
	req.Target = rewrite.Target{Path: data, Sibling: true}

	if _, err := (&Verifier{Builder: b}).Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	got := readFile(t, data)
	if !strings.Contains(got, `"1.1.0"`) || !strings.Contains(got, newHash) {
		t.Errorf("sibling not updated:\n%s", got)
	}
	if readFile(t, pkg) != pkgContent {
		t.Error("package file modified")
	}
}

func TestExtractHash(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{"mismatch report", fmt.Sprintf(mismatch, newHash), newHash},
		{"spaces", "got:        sha256-abc+/def=", "sha256-abc+/def="},
		{"no match", "error: build failed", ""},
		{"old base32 format", "got: 0v7b3xhdaqbcqz3yj1xpjsd1r5ijn0v0bf1vlvqfdhcr6xh5y4c8", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractHash(tt.stderr); got != tt.want {
				t.Errorf("ExtractHash() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectReversedPatch(t *testing.T) {
	filler := func(n int) []string {
		lines := make([]string, n)
		for i := range lines {
			lines[i] = fmt.Sprintf("make[1]: line %d", i)
		}
		return lines
	}
	join := func(parts ...[]string) string {
		var all []string
		for _, p := range parts {
			all = append(all, p...)
		}
		return strings.Join(all, "\n")
	}

	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{"found", reversed("fix-darwin.patch").Stderr, "fix-darwin.patch"},
		{"nearest applying line wins", reversed("second.patch").Stderr, "second.patch"},
		{"no marker", "applying patch " + storePath + "a.patch\nerror: failed", ""},
		{"marker without applying line", reversedPatchMarker, ""},
		{
			name: "marker too early",
			stderr: join(
				[]string{"applying patch " + storePath + "a.patch", reversedPatchMarker},
				filler(25),
			),
			want: "",
		},
		{
			name: "applying line outside the window",
			stderr: join(
				[]string{"applying patch " + storePath + "a.patch"},
				filler(19),
				[]string{reversedPatchMarker},
			),
			want: "",
		},
		{
			name: "trailing newline keeps the window",
			stderr: join(
				filler(10),
				[]string{"applying patch " + storePath + "a.patch"},
				filler(18),
				[]string{reversedPatchMarker, ""},
			),
			want: "a.patch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectReversedPatch(tt.stderr); got != tt.want {
				t.Errorf("DetectReversedPatch() = %q, want %q", got, tt.want)
			}
		})
	}
}
