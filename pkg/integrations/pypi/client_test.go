package pypi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matzehuels/nixupdate/pkg/cache"
	"github.com/matzehuels/nixupdate/pkg/integrations"
)

func TestClient_ListReleases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/my-package/json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"info": {"version": "2.1.0"},
			"releases": {
				"2.0.0": [{"yanked": false}, {"yanked": false}],
				"2.1.0": [{"yanked": false}],
				"2.0.1": [{"yanked": false}, {"yanked": true}],
				"3.0.0rc1": [{"yanked": false}],
				"1.0.0": []
			}
		}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)

	// Name is normalized before the request.
	releases, err := c.ListReleases(context.Background(), "My_Package")
	if err != nil {
		t.Fatalf("ListReleases failed: %v", err)
	}

	want := map[string]bool{
		"1.0.0":    false,
		"2.0.0":    false,
		"2.0.1":    true,
		"2.1.0":    false,
		"3.0.0rc1": true,
	}
	if len(releases) != len(want) {
		t.Fatalf("got %d releases, want %d", len(releases), len(want))
	}
	for _, r := range releases {
		if pre, ok := want[r.Tag]; !ok || pre != r.Prerelease {
			t.Errorf("release %s prerelease = %v, want %v", r.Tag, r.Prerelease, pre)
		}
	}
	if releases[0].Tag != "1.0.0" {
		t.Errorf("releases should be sorted, first = %s", releases[0].Tag)
	}
}

func TestClient_ListReleases_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := testClient(t, server.URL)

	_, err := c.ListReleases(context.Background(), "nonexistent")
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIsPreVersion(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"1.0.0", false},
		{"1.0.post1", false},
		{"2.0.0rc1", true},
		{"1.0a1", true},
		{"3.0b2", true},
		{"1.5.dev3", true},
		{"1.5.0.dev0", true},
		{"2024.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			if got := IsPreVersion(tt.version); got != tt.want {
				t.Errorf("IsPreVersion(%q) = %v, want %v", tt.version, got, tt.want)
			}
		})
	}
}

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return &Client{
		Client:  integrations.NewClient(cache.NewNullCache(), "pypi:", time.Hour, nil),
		baseURL: serverURL,
	}
}
