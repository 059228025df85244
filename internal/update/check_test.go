package update

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// ///////////////////////////////////////////////
// Version Comparison
// ///////////////////////////////////////////////

func TestSemverLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"0.1.0", "0.2.0", true},
		{"0.2.0", "0.1.0", false},
		{"1.0.0", "1.0.0", false},
		{"v1.2.3", "1.2.4", true},
		{"1.2.3", "2.0.0", true},
		{"0.1.0-dev", "0.1.0", true},
		{"0.1.0", "0.1.0-dev", false},
		{"0.1.0-dev", "0.1.0-rc1", false},
		{"dev", "1.0.0", false},
		{"1.0.0", "dev+abc1234", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := semverLess(tt.a, tt.b); got != tt.want {
			t.Errorf("semverLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseSemver(t *testing.T) {
	if got, ok := parseSemver("v1.2.3"); !ok || got != [3]int{1, 2, 3} {
		t.Errorf("parseSemver(v1.2.3) = %v, %v", got, ok)
	}
	if got, ok := parseSemver("0.1.0-dev+abc"); !ok || got != [3]int{0, 1, 0} {
		t.Errorf("parseSemver(0.1.0-dev+abc) = %v, %v", got, ok)
	}
	for _, bad := range []string{"", "1.2", "a.b.c", "1..3", "dev+abc1234"} {
		if _, ok := parseSemver(bad); ok {
			t.Errorf("parseSemver(%q) unexpectedly parsed", bad)
		}
	}
}

// ///////////////////////////////////////////////
// Manifest Fetch
// ///////////////////////////////////////////////

// withManifestURL points the checker at a test server for one test.
func withManifestURL(t *testing.T, url string) {
	t.Helper()
	old := manifestURL
	manifestURL = url
	t.Cleanup(func() { manifestURL = old })
}

func TestCheckReportsNewer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{".": "9.9.9"}`))
	}))
	defer srv.Close()
	withManifestURL(t, srv.URL)

	latest, newer := Check("0.1.0")
	if !newer {
		t.Error("expected 0.1.0 < 9.9.9 to report newer")
	}
	if latest != "9.9.9" {
		t.Errorf("latest = %q, want 9.9.9", latest)
	}

	if _, newer := Check("10.0.0"); newer {
		t.Error("expected 10.0.0 to not be behind 9.9.9")
	}
}

func TestCheckSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	withManifestURL(t, srv.URL)

	if latest, newer := Check("0.1.0"); newer || latest != "" {
		t.Errorf("Check against a failing server = (%q, %v), want empty", latest, newer)
	}
}

func TestCheckSwallowsBadManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()
	withManifestURL(t, srv.URL)

	if _, newer := Check("0.1.0"); newer {
		t.Error("malformed manifest reported a newer version")
	}
}
