// Package update checks for newer versions of pidlock via the release
// manifest.
package update

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// manifestURL is where the release manifest lives. Overridable at build
// time via:
//
//	-X tools.zach/dev/pidlock/internal/update.manifestURL=...
var manifestURL = "https://raw.githubusercontent.com/zachthedev/pidlock/main/.release-manifest.json"

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Check fetches the release manifest and reports the latest version if
// it is newer than current. Failures are non-fatal: the second return
// is false and the caller moves on.
func Check(current string) (latest string, newer bool) {
	latest, err := fetchLatest()
	if err != nil || latest == "" {
		return "", false
	}
	return latest, semverLess(current, latest)
}

// ///////////////////////////////////////////////
// Manifest Fetch
// ///////////////////////////////////////////////

// fetchLatest downloads the release manifest and returns the version
// stored under the "." key, which is the latest stable release.
func fetchLatest() (string, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil // suppress retryablehttp's default logging

	resp, err := client.Get(manifestURL)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", manifestURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("GET %s: status %d", manifestURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var manifest map[string]string
	if err := json.Unmarshal(body, &manifest); err != nil {
		return "", fmt.Errorf("parsing manifest: %w", err)
	}
	return manifest["."], nil
}

// ///////////////////////////////////////////////
// Version Comparison
// ///////////////////////////////////////////////

// semverLess reports whether a < b by numeric major.minor.patch
// comparison. Strings that are not semver never compare. A pre-release
// version is less than the same version without one ("0.1.0-dev" <
// "0.1.0").
func semverLess(a, b string) bool {
	pa, okA := parseSemver(a)
	pb, okB := parseSemver(b)
	if !okA || !okB {
		return false
	}
	for i := range 3 {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return hasPreRelease(a) && !hasPreRelease(b)
}

// hasPreRelease reports whether a version string carries a pre-release
// suffix (e.g. "0.1.0-dev").
func hasPreRelease(s string) bool {
	return strings.Contains(strings.TrimPrefix(s, "v"), "-")
}

// parseSemver splits "v1.2.3" or "0.1.0-dev" into [major, minor,
// patch], stripping pre-release and build suffixes.
func parseSemver(s string) ([3]int, bool) {
	var out [3]int
	s = strings.TrimPrefix(s, "v")
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return out, false
	}
	for i, p := range parts {
		if idx := strings.IndexAny(p, "-+"); idx >= 0 {
			p = p[:idx]
		}
		if p == "" {
			return out, false
		}
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return out, false
			}
			n = n*10 + int(c-'0')
		}
		out[i] = n
	}
	return out, true
}
