package rewrite

import (
	"strings"
	"testing"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/nixparse"
)

func TestHasEmptyPatches(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"spaced", "{\n  patches = [ ];\n}", true},
		{"compact", "{\n  patches = [];\n}", true},
		{"multiline", "{\n  patches = [\n  ];\n}", true},
		{"single comment", "{\n  patches = [\n    # all gone\n  ];\n}", true},
		{"several comments", "{\n  patches = [\n    # one\n\n    # two\n  ];\n}", true},
		{"inline comment", "{\n  patches = [ # dropped\n  ];\n}", true},
		{"mixed whitespace", "{\n  patches = [\n\t# one\n    \n  # two\n];\n}", true},
		{"non-empty", "{\n  patches = [\n    ./fix.patch\n  ];\n}", false},
		{"no patches", "{\n  pname = \"x\";\n}", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasEmptyPatches(tt.content); got != tt.want {
				t.Errorf("HasEmptyPatches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoveEmptyPatches(t *testing.T) {
	t.Run("keeps surrounding layout", func(t *testing.T) {
		content := `{
  pname = "mypackage";
  version = "1.0.0";

  patches = [ ];

  src = fetchurl {
    url = "https://example.com/file.tar.gz";
  };
}`
		got, err := RemoveEmptyPatches(content)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(got, "patches") {
			t.Errorf("patches still present:\n%s", got)
		}
		if !strings.Contains(got, "\"1.0.0\";\n\n\n  src = fetchurl") {
			t.Errorf("blank lines or indentation changed:\n%s", got)
		}
	})

	t.Run("keeps following indentation", func(t *testing.T) {
		content := "{\n  pname = \"mypackage\";\n  patches = [ ];\n  buildInputs = [ pkg1 pkg2 ];\n}"
		got, err := RemoveEmptyPatches(content)
		if err != nil {
			t.Fatal(err)
		}
		want := "{\n  pname = \"mypackage\";\n  buildInputs = [ pkg1 pkg2 ];\n}"
		if got != want {
			t.Errorf("got:\n%q\nwant:\n%q", got, want)
		}
	})

	t.Run("comments go too", func(t *testing.T) {
		content := "{\n  pname = \"mypackage\";\n\n  patches = [\n    # All patches were removed\n  ];\n}"
		got, err := RemoveEmptyPatches(content)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(got, "patches") || strings.Contains(got, "All patches") {
			t.Errorf("got:\n%s", got)
		}
		if err := nixparse.Validate(got); err != nil {
			t.Error(err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := RemoveEmptyPatches("{\n  pname = \"x\";\n}")
		if !nixerrors.Is(err, nixerrors.ErrCodeAttrNotFound) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("non-empty list is kept", func(t *testing.T) {
		_, err := RemoveEmptyPatches("{\n  patches = [\n    ./some.patch\n  ];\n}")
		if err == nil {
			t.Error("expected error")
		}
	})
}

func TestRemovePatch(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		patch    string
		keep     []string
		wantCode nixerrors.Code
	}{
		{
			name:    "middle element",
			content: "{\n  patches = [\n    ./a.patch\n    ./b.patch\n    ./c.patch\n  ];\n}",
			patch:   "b.patch",
			keep:    []string{"    ./a.patch\n    ./c.patch\n  ];"},
		},
		{
			name:    "first element",
			content: "{\n  patches = [\n    ./fix-build.patch\n    ./add-feature.patch\n  ];\n}",
			patch:   "fix-build.patch",
			keep:    []string{"./add-feature.patch"},
		},
		{
			name:    "last element",
			content: "{\n  patches = [\n    ./first.patch\n    ./third.patch\n  ];\n}",
			patch:   "third.patch",
			keep:    []string{"    ./first.patch\n  ];"},
		},
		{
			name: "fetchpatch",
			content: `{
  patches = [
    ./local.patch
    (fetchpatch {
      name = "CVE-2024-0001.patch";
      url = "https://example.com/CVE-2024-0001.patch";
      hash = "sha256-xyz=";
    })
  ];
}`,
			patch: "CVE-2024-0001.patch",
			keep:  []string{"./local.patch\n  ];"},
		},
		{
			name:     "not found",
			content:  "{\n  patches = [\n    ./existing.patch\n  ];\n}",
			patch:    "nonexistent.patch",
			wantCode: nixerrors.ErrCodePatchNotFound,
		},
		{
			name:     "dot in name is literal",
			content:  "{\n  patches = [\n    ./aXpatch\n  ];\n}",
			patch:    "a.patch",
			wantCode: nixerrors.ErrCodePatchNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RemovePatch(tt.content, tt.patch)
			if tt.wantCode != "" {
				if !nixerrors.Is(err, tt.wantCode) {
					t.Fatalf("RemovePatch() error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("RemovePatch() error = %v", err)
			}
			if strings.Contains(got, tt.patch) {
				t.Errorf("patch still present:\n%s", got)
			}
			for _, s := range tt.keep {
				if !strings.Contains(got, s) {
					t.Errorf("result missing %q:\n%s", s, got)
				}
			}
			if err := nixparse.Validate(got); err != nil {
				t.Errorf("result does not parse: %v", err)
			}
		})
	}
}

func TestRemovePatchKeepsBlankLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		patch   string
		want    string
	}{
		{
			name:    "path entry between blank lines",
			content: "{\n  patches = [\n    ./a.patch\n\n    ./b.patch\n\n    ./c.patch\n  ];\n}\n",
			patch:   "b.patch",
			want:    "{\n  patches = [\n    ./a.patch\n\n\n    ./c.patch\n  ];\n}\n",
		},
		{
			name:    "first entry before a blank line",
			content: "{\n  patches = [\n    ./a.patch\n\n    ./b.patch\n  ];\n}\n",
			patch:   "a.patch",
			want:    "{\n  patches = [\n\n    ./b.patch\n  ];\n}\n",
		},
		{
			name:    "fetchpatch between blank lines",
			content: "{\n  patches = [\n    ./a.patch\n\n    (fetchpatch {\n      url = \"https://example.com/fix.patch\";\n    })\n\n    ./c.patch\n  ];\n}\n",
			patch:   "fix.patch",
			want:    "{\n  patches = [\n    ./a.patch\n\n\n    ./c.patch\n  ];\n}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RemovePatch(tt.content, tt.patch)
			if err != nil {
				t.Fatalf("RemovePatch() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("RemovePatch() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestRemovingLastPatchLeavesEmptyList(t *testing.T) {
	content := "{\n  pname = \"x\";\n  patches = [\n    ./only.patch\n  ];\n}"
	got, err := RemovePatch(content, "only.patch")
	if err != nil {
		t.Fatal(err)
	}
	if !HasEmptyPatches(got) {
		t.Fatalf("expected empty patches list:\n%s", got)
	}
	got, err = RemoveEmptyPatches(got)
	if err != nil {
		t.Fatal(err)
	}
	if got != "{\n  pname = \"x\";\n}" {
		t.Errorf("got %q", got)
	}
}
