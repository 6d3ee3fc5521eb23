package releases

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

var testAssets = []Asset{
	{Name: "Quantiv-Setup-1.2.0.exe", BrowserDownloadURL: "https://example.com/x64.exe"},
	{Name: "Quantiv-Setup-1.2.0-x86.exe", BrowserDownloadURL: "https://example.com/x86.exe"},
	{Name: "Quantiv-1.2.0-arm64.dmg", BrowserDownloadURL: "https://example.com/apple.dmg"},
	{Name: "Quantiv-1.2.0.dmg", BrowserDownloadURL: "https://example.com/intel.dmg"},
}

func TestMatchAsset(t *testing.T) {
	tests := []struct {
		osKey string
		want  string
	}{
		{"windows-x64", "Quantiv-Setup-1.2.0.exe"},
		{"windows-x86", "Quantiv-Setup-1.2.0-x86.exe"},
		{"macos-apple", "Quantiv-1.2.0-arm64.dmg"},
		{"macos-intel", "Quantiv-1.2.0.dmg"},
	}
	for _, tt := range tests {
		t.Run(tt.osKey, func(t *testing.T) {
			asset, ok := matchAsset(testAssets, tt.osKey)
			if !ok {
				t.Fatal("expected a match")
			}
			if asset.Name != tt.want {
				t.Errorf("got %q, want %q", asset.Name, tt.want)
			}
		})
	}

	if _, ok := matchAsset(nil, "windows-x64"); ok {
		t.Error("empty asset list should not match")
	}
}

func TestMatchAssetCoarseFallback(t *testing.T) {
	asset, ok := matchAsset(testAssets, "macos")
	if !ok || asset.Name != "Quantiv-1.2.0-arm64.dmg" {
		t.Errorf("coarse mac key should match first dmg, got %v %v", asset.Name, ok)
	}
	asset, ok = matchAsset(testAssets, "windows")
	if !ok || asset.Name != "Quantiv-Setup-1.2.0.exe" {
		t.Errorf("coarse windows key should match first exe, got %v %v", asset.Name, ok)
	}
}

func TestDirectURL(t *testing.T) {
	r := NewResolver("quantivhq", "quantiv-app", "", zerolog.Nop())

	got := r.DirectURL("Quantiv-Setup-1.2.0.exe", "1.2.0")
	want := "https://github.com/quantivhq/quantiv-app/releases/download/v1.2.0/Quantiv-Setup-1.2.0.exe"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = r.DirectURL("Quantiv-Setup-1.2.0.exe", "")
	want = "https://github.com/quantivhq/quantiv-app/releases/latest/download/Quantiv-Setup-1.2.0.exe"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDetectOS(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"windows x64", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "windows-x64"},
		{"windows x86", "Mozilla/5.0 (Windows NT 10.0)", "windows-x86"},
		{"mac intel", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", "macos-intel"},
		{"unknown defaults to windows x64", "curl/8.0", "windows-x64"},
		{"empty", "", "windows-x64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectOS(tt.ua); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidOS(t *testing.T) {
	for _, key := range []string{"windows-x86", "windows-x64", "macos-apple", "macos-intel", "windows", "macos"} {
		if !ValidOS(key) {
			t.Errorf("%q should be valid", key)
		}
	}
	for _, key := range []string{"", "linux-x64", "WINDOWS", "macintosh"} {
		if ValidOS(key) {
			t.Errorf("%q should be invalid", key)
		}
	}
}

func newTestResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	r := NewResolver("quantivhq", "quantiv-app", "test-token", zerolog.Nop())
	r.SetBaseURL(srv.URL)
	return r
}

func TestResolveLatest(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/repos/quantivhq/quantiv-app/releases/latest" {
			t.Errorf("unexpected path %q", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{"tag_name":"v1.2.0","assets":[
			{"name":"Quantiv-Setup-1.2.0.exe","size":1024,"browser_download_url":"https://example.com/x64.exe"}
		]}`))
	})

	asset, err := r.Resolve(context.Background(), "windows-x64", "latest")
	if err != nil {
		t.Fatal(err)
	}
	if asset.Name != "Quantiv-Setup-1.2.0.exe" {
		t.Errorf("unexpected asset %q", asset.Name)
	}
}

func TestResolvePinnedVersion(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/repos/quantivhq/quantiv-app/releases/tags/v1.1.0" {
			t.Errorf("unexpected path %q", req.URL.Path)
		}
		w.Write([]byte(`{"tag_name":"v1.1.0","assets":[
			{"name":"Quantiv-1.1.0.dmg","browser_download_url":"https://example.com/intel.dmg"}
		]}`))
	})

	asset, err := r.Resolve(context.Background(), "macos-intel", "1.1.0")
	if err != nil {
		t.Fatal(err)
	}
	if asset.BrowserDownloadURL != "https://example.com/intel.dmg" {
		t.Errorf("unexpected url %q", asset.BrowserDownloadURL)
	}
}

func TestResolveReleaseNotFound(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := r.Resolve(context.Background(), "windows-x64", "9.9.9")
	if !errors.Is(err, ErrReleaseNotFound) {
		t.Errorf("expected ErrReleaseNotFound, got %v", err)
	}
}

func TestResolveNoAsset(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"tag_name":"v1.2.0","assets":[]}`))
	})

	_, err := r.Resolve(context.Background(), "windows-x64", "")
	if !errors.Is(err, ErrNoAsset) {
		t.Errorf("expected ErrNoAsset, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("installer-bytes"))
	}))
	defer srv.Close()

	r := NewResolver("quantivhq", "quantiv-app", "", zerolog.Nop())
	body, err := r.Download(context.Background(), Asset{Name: "setup.exe", BrowserDownloadURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "installer-bytes" {
		t.Errorf("unexpected body %q", data)
	}
}
