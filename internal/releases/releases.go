// Package releases resolves installer assets from GitHub Releases. The
// service never stores installers itself; it maps an OS key and optional
// version to the matching published asset.
package releases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrReleaseNotFound indicates the requested release does not exist.
	ErrReleaseNotFound = errors.New("release not found")
	// ErrNoAsset indicates the release has no asset for the requested OS.
	ErrNoAsset = errors.New("no asset for requested platform")
)

// Release is the subset of the GitHub release payload we read.
type Release struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Resolver queries the GitHub API for release assets.
type Resolver struct {
	owner   string
	repo    string
	token   string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewResolver creates a resolver for the given repository. token may be
// empty for public repositories.
func NewResolver(owner, repo, token string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		owner:   owner,
		repo:    repo,
		token:   token,
		baseURL: "https://api.github.com",
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With().Str("component", "releases").Logger(),
	}
}

// SetBaseURL points the resolver at a different API endpoint. Intended for
// tests.
func (r *Resolver) SetBaseURL(url string) {
	r.baseURL = strings.TrimRight(url, "/")
}

// Resolve finds the asset for osKey in the given release. An empty or
// "latest" version resolves against the latest published release.
func (r *Resolver) Resolve(ctx context.Context, osKey, version string) (Asset, error) {
	rel, err := r.fetchRelease(ctx, version)
	if err != nil {
		return Asset{}, err
	}

	asset, ok := matchAsset(rel.Assets, osKey)
	if !ok {
		r.logger.Warn().Str("os", osKey).Str("tag", rel.TagName).Msg("no matching release asset")
		return Asset{}, ErrNoAsset
	}
	return asset, nil
}

// DirectURL builds a release download link for a known asset name without
// consulting the API. An empty version targets the latest release.
func (r *Resolver) DirectURL(assetName, version string) string {
	if version != "" {
		return fmt.Sprintf("https://github.com/%s/%s/releases/download/v%s/%s",
			r.owner, r.repo, strings.TrimPrefix(version, "v"), assetName)
	}
	return fmt.Sprintf("https://github.com/%s/%s/releases/latest/download/%s",
		r.owner, r.repo, assetName)
}

// Download streams an asset body. The caller must close the reader.
func (r *Resolver) Download(ctx context.Context, asset Asset) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.BrowserDownloadURL, nil)
	if err != nil {
		return nil, err
	}
	r.setHeaders(req)

	// Installer downloads can be large; do not reuse the API client timeout.
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download asset %s: %w", asset.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download asset %s: unexpected status %d", asset.Name, resp.StatusCode)
	}
	return resp.Body, nil
}

func (r *Resolver) fetchRelease(ctx context.Context, version string) (*Release, error) {
	url := r.baseURL + "/repos/" + r.owner + "/" + r.repo + "/releases/latest"
	if version != "" && version != "latest" {
		url = r.baseURL + "/repos/" + r.owner + "/" + r.repo + "/releases/tags/v" + strings.TrimPrefix(version, "v")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrReleaseNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch release: unexpected status %d", resp.StatusCode)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &rel, nil
}

func (r *Resolver) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "quantiv-server")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}

// matchAsset picks the asset for an OS key. Windows installers are .exe
// files split by architecture suffix; macOS installers are .dmg files split
// by Apple Silicon markers in the name.
func matchAsset(assets []Asset, osKey string) (Asset, bool) {
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		switch osKey {
		case "windows-x86":
			if strings.HasSuffix(name, ".exe") && strings.Contains(name, "x86") {
				return a, true
			}
		case "windows-x64":
			if strings.HasSuffix(name, ".exe") && !strings.Contains(name, "x86") {
				return a, true
			}
		case "macos-apple":
			if strings.HasSuffix(name, ".dmg") && containsAny(name, "arm64", "apple", "aarch64") {
				return a, true
			}
		case "macos-intel":
			if strings.HasSuffix(name, ".dmg") && !containsAny(name, "arm64", "apple", "aarch64") {
				return a, true
			}
		default:
			// Coarse keys from user-agent detection fall back on extension.
			if strings.HasPrefix(osKey, "mac") {
				if strings.HasSuffix(name, ".dmg") {
					return a, true
				}
			} else if strings.HasSuffix(name, ".exe") || strings.HasSuffix(name, ".msi") {
				return a, true
			}
		}
	}
	return Asset{}, false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DetectOS maps a browser user agent to an OS key. Architecture is not
// reliably present in user agents, so Windows defaults to x64 and macOS to
// Intel unless the agent says otherwise.
func DetectOS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "windows"):
		if strings.Contains(ua, "win64") || strings.Contains(ua, "wow64") || strings.Contains(ua, "x64") {
			return "windows-x64"
		}
		return "windows-x86"
	case strings.Contains(ua, "mac os x"), strings.Contains(ua, "macintosh"):
		if containsAny(ua, "arm64", "apple silicon", "aarch64") {
			return "macos-apple"
		}
		return "macos-intel"
	default:
		return "windows-x64"
	}
}

// ValidOS reports whether osKey is a supported platform key. The coarse
// "windows" and "macos" keys select an asset by file extension alone.
func ValidOS(osKey string) bool {
	switch osKey {
	case "windows-x86", "windows-x64", "macos-apple", "macos-intel", "windows", "macos":
		return true
	}
	return false
}
