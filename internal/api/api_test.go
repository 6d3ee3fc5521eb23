package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quantivhq/quantiv/internal/config"
	"github.com/quantivhq/quantiv/internal/license"
	"github.com/quantivhq/quantiv/internal/releases"
	"github.com/quantivhq/quantiv/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubResolver struct {
	asset      releases.Asset
	resolveErr error
	body       string
}

func (s *stubResolver) Resolve(_ context.Context, _, _ string) (releases.Asset, error) {
	if s.resolveErr != nil {
		return releases.Asset{}, s.resolveErr
	}
	return s.asset, nil
}

func (s *stubResolver) DirectURL(assetName, version string) string {
	if version != "" {
		return "https://github.com/quantivhq/quantiv-app/releases/download/v" + version + "/" + assetName
	}
	return "https://github.com/quantivhq/quantiv-app/releases/latest/download/" + assetName
}

func (s *stubResolver) Download(_ context.Context, _ releases.Asset) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func newTestRouter(t *testing.T, st store.Store, resolver AssetResolver) *gin.Engine {
	t.Helper()
	if resolver == nil {
		resolver = &stubResolver{
			asset: releases.Asset{
				Name:               "Quantiv-Setup-1.2.0.exe",
				BrowserDownloadURL: "https://example.com/Quantiv-Setup-1.2.0.exe",
			},
			body: "installer-bytes",
		}
	}
	r, err := NewRouter(RouterConfig{
		Store:       st,
		Resolver:    resolver,
		Metrics:     NewMetrics(),
		Logger:      zerolog.Nop(),
		Environment: config.EnvDevelopment,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)

	w := doJSON(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decode(t, w); resp["ok"] != true {
		t.Errorf("unexpected body: %v", resp)
	}
}

func TestIssue(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)

	w := doJSON(r, http.MethodPost, "/issue", gin.H{"name": "Test Customer", "email": "customer@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	key, _ := resp["licenseKey"].(string)
	if !license.ValidateIssuedKeyFormat(key) {
		t.Errorf("issued key has bad format: %q", key)
	}
	if _, ok := resp["downloadUrl"]; ok {
		t.Error("downloadUrl should be absent without assetName")
	}

	// Issuance is deterministic for the same customer.
	w2 := doJSON(r, http.MethodPost, "/issue", gin.H{"name": "Test Customer", "email": "customer@example.com"})
	if got := decode(t, w2)["licenseKey"]; got != key {
		t.Errorf("re-issue returned a different key: %v vs %v", got, key)
	}
}

func TestIssueWithAssetName(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)

	w := doJSON(r, http.MethodPost, "/issue", gin.H{
		"name": "Test Customer", "email": "customer@example.com",
		"assetName": "Quantiv-Setup-1.2.0.exe", "version": "1.2.0",
	})
	resp := decode(t, w)
	want := "https://github.com/quantivhq/quantiv-app/releases/download/v1.2.0/Quantiv-Setup-1.2.0.exe"
	if resp["downloadUrl"] != want {
		t.Errorf("got downloadUrl %v, want %q", resp["downloadUrl"], want)
	}
}

func TestIssueMissingFields(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)

	for _, body := range []any{nil, gin.H{"name": "x"}, gin.H{"email": "x@y.com"}} {
		w := doJSON(r, http.MethodPost, "/issue", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d", body, w.Code)
		}
		if resp := decode(t, w); resp["reason"] != "missing_name_or_email" {
			t.Errorf("unexpected reason: %v", resp["reason"])
		}
	}
}

func TestAuto(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)

	body, _ := json.Marshal(gin.H{"name": "Test Customer", "email": "customer@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/auto", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["os"] != "windows-x64" {
		t.Errorf("expected windows-x64, got %v", resp["os"])
	}
	if resp["assetName"] != "Quantiv-Setup-1.2.0.exe" {
		t.Errorf("unexpected asset: %v", resp["assetName"])
	}
	if key, _ := resp["licenseKey"].(string); !license.ValidateIssuedKeyFormat(key) {
		t.Errorf("bad key: %v", resp["licenseKey"])
	}
}

func TestAutoResolverFailure(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), &stubResolver{resolveErr: errors.New("github down")})

	w := doJSON(r, http.MethodPost, "/auto", gin.H{"name": "Test", "email": "t@example.com"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if resp := decode(t, w); resp["reason"] != "server_error" {
		t.Errorf("unexpected reason: %v", resp["reason"])
	}
}

func TestLicenseFile(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)

	w := doJSON(r, http.MethodGet, "/license-file?key=ABTK-AAAA-BBBB-CCCC-DDDD&email=customer%40example.com", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Quantiv-license.json") {
		t.Errorf("unexpected disposition: %q", cd)
	}
	var payload map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["licenseKey"] != "ABTK-AAAA-BBBB-CCCC-DDDD" || payload["customerEmail"] != "customer@example.com" {
		t.Errorf("unexpected payload: %v", payload)
	}

	w = doJSON(r, http.MethodGet, "/license-file?key=ABTK-AAAA-BBBB-CCCC-DDDD", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing email, got %d", w.Code)
	}
}

func issueKey(t *testing.T, r *gin.Engine, name, email string) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/issue", gin.H{"name": name, "email": email})
	if w.Code != http.StatusOK {
		t.Fatalf("issue failed: %d %s", w.Code, w.Body.String())
	}
	key, _ := decode(t, w)["licenseKey"].(string)
	return key
}

func TestActivateLifecycle(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)
	key := issueKey(t, r, "Test Customer", "customer@example.com")

	// Verify before activation.
	w := doJSON(r, http.MethodPost, "/verify", gin.H{"key": key, "device": "dev-1"})
	if resp := decode(t, w); resp["ok"] != false || resp["reason"] != "not_activated" {
		t.Errorf("expected not_activated, got %v", resp)
	}

	// First activation wins.
	w = doJSON(r, http.MethodPost, "/activate", gin.H{"key": key, "email": "customer@example.com", "device": "dev-1"})
	if w.Code != http.StatusOK || decode(t, w)["ok"] != true {
		t.Fatalf("activation failed: %d %s", w.Code, w.Body.String())
	}

	// Same device re-activation is idempotent.
	w = doJSON(r, http.MethodPost, "/activate", gin.H{"key": key, "email": "customer@example.com", "device": "dev-1"})
	if resp := decode(t, w); resp["ok"] != true || resp["reason"] != "already_activated" {
		t.Errorf("expected already_activated, got %v", resp)
	}

	// A different device is rejected.
	w = doJSON(r, http.MethodPost, "/activate", gin.H{"key": key, "email": "customer@example.com", "device": "dev-2"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	if resp := decode(t, w); resp["reason"] != "device_mismatch_existing_activation" {
		t.Errorf("unexpected reason: %v", resp["reason"])
	}

	// Verification outcomes after activation.
	w = doJSON(r, http.MethodPost, "/verify", gin.H{"key": key, "device": "dev-1"})
	resp := decode(t, w)
	if resp["ok"] != true || resp["email"] != "customer@example.com" {
		t.Errorf("expected verified, got %v", resp)
	}
	if resp["activatedAt"] == "" {
		t.Error("expected activatedAt timestamp")
	}

	w = doJSON(r, http.MethodPost, "/verify", gin.H{"key": key, "device": "dev-2"})
	if resp := decode(t, w); resp["ok"] != false || resp["reason"] != "device_mismatch" {
		t.Errorf("expected device_mismatch, got %v", resp)
	}
}

func TestActivateEmailCaseInsensitive(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)
	key := issueKey(t, r, "Test Customer", "Customer@Example.com")

	w := doJSON(r, http.MethodPost, "/activate", gin.H{"key": key, "email": "customer@example.com", "device": "dev-1"})
	if w.Code != http.StatusOK {
		t.Errorf("case-different email should activate, got %d: %s", w.Code, w.Body.String())
	}
}

func TestActivateRejections(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)
	key := issueKey(t, r, "Test Customer", "customer@example.com")

	tests := []struct {
		name   string
		body   gin.H
		status int
		reason string
	}{
		{"missing fields", gin.H{"key": key}, http.StatusBadRequest, "missing_fields"},
		{"bad key format", gin.H{"key": "not-a-key", "email": "customer@example.com", "device": "d"}, http.StatusBadRequest, "invalid_key_format"},
		{"unknown key", gin.H{"key": "ABTK-0000-0000-0000-0000", "email": "customer@example.com", "device": "d"}, http.StatusNotFound, "license_not_found_or_email_mismatch"},
		{"email mismatch", gin.H{"key": key, "email": "other@example.com", "device": "d"}, http.StatusNotFound, "license_not_found_or_email_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/activate", tt.body)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			if resp := decode(t, w); resp["reason"] != tt.reason {
				t.Errorf("expected %q, got %v", tt.reason, resp["reason"])
			}
		})
	}
}

func TestResolveEndpoint(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)

	w := doJSON(r, http.MethodPost, "/resolve", gin.H{"os": "windows-x64"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["assetName"] != "Quantiv-Setup-1.2.0.exe" {
		t.Errorf("unexpected asset: %v", resp)
	}

	w = doJSON(r, http.MethodPost, "/resolve", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if resp := decode(t, w); resp["reason"] != "missing_os" {
		t.Errorf("unexpected reason: %v", resp["reason"])
	}

	w = doJSON(r, http.MethodPost, "/resolve", gin.H{"os": "linux-x64"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown os, got %d", w.Code)
	}
	if resp := decode(t, w); resp["reason"] != "invalid_os" {
		t.Errorf("unexpected reason: %v", resp["reason"])
	}
}

func TestTokenDownloadFlow(t *testing.T) {
	st := store.NewMemoryStore()
	r := newTestRouter(t, st, nil)

	w := doJSON(r, http.MethodPost, "/token/create", gin.H{
		"name": "Test Customer", "email": "customer@example.com", "os": "windows-x64", "version": "1.2.0",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("token create failed: %d %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	downloadURL, _ := resp["downloadUrl"].(string)
	if !strings.HasPrefix(downloadURL, "/download?") {
		t.Fatalf("unexpected download url: %q", downloadURL)
	}

	// First redemption streams a full client package.
	w = doJSON(r, http.MethodGet, downloadURL, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download failed: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("unexpected content type %q", ct)
	}

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	found := map[string]bool{}
	for _, f := range zr.File {
		found[f.Name] = true
	}
	for _, name := range []string{"Quantiv-Setup-1.2.0.exe", "Quantiv-license.json", "README-INSTALL.txt", "SHA256SUMS.txt"} {
		if !found[name] {
			t.Errorf("zip missing %q (has %v)", name, found)
		}
	}

	// Second redemption of the same token is gone.
	w = doJSON(r, http.MethodGet, downloadURL, nil)
	if w.Code != http.StatusGone {
		t.Errorf("expected 410 on reuse, got %d", w.Code)
	}
	if resp := decode(t, w); resp["reason"] != "token_used" {
		t.Errorf("unexpected reason: %v", resp["reason"])
	}
}

func TestDownloadRejections(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)

	w := doJSON(r, http.MethodGet, "/download?token=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing fields, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/download?token=deadbeef&name=T&email=t%40example.com&os=windows-x64", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown token, got %d", w.Code)
	}
	if resp := decode(t, w); resp["reason"] != "invalid_token" {
		t.Errorf("unexpected reason: %v", resp["reason"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, store.NewMemoryStore(), nil)
	issueKey(t, r, "Test Customer", "customer@example.com")

	w := doJSON(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "quantiv_licenses_issued_total 1") {
		t.Error("expected issuance counter in metrics output")
	}
}
