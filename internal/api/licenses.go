// Package api implements the HTTP surface of the license issuance service.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quantivhq/quantiv/internal/license"
	"github.com/quantivhq/quantiv/internal/releases"
	"github.com/quantivhq/quantiv/internal/store"
)

// AssetResolver locates installer assets for the distribution endpoints.
type AssetResolver interface {
	Resolve(ctx context.Context, osKey, version string) (releases.Asset, error)
	DirectURL(assetName, version string) string
	Download(ctx context.Context, asset releases.Asset) (io.ReadCloser, error)
}

// LicenseHandler serves issuance, activation, and verification.
type LicenseHandler struct {
	store    store.Store
	resolver AssetResolver
	metrics  *Metrics
	logger   zerolog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(st store.Store, resolver AssetResolver, metrics *Metrics, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		store:    st,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger.With().Str("component", "licenses").Logger(),
	}
}

// RegisterRoutes registers license endpoints on the router.
func (h *LicenseHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/issue", h.Issue)
	r.POST("/auto", h.Auto)
	r.GET("/license-file", h.LicenseFile)
	r.POST("/activate", h.Activate)
	r.POST("/verify", h.Verify)
}

type issueRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AssetName string `json:"assetName"`
	Version   string `json:"version"`
}

// Issue handles POST /issue.
func (h *LicenseHandler) Issue(c *gin.Context) {
	var req issueRequest
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "missing_name_or_email"})
		return
	}

	key, err := license.GenerateIssuedKey(req.Name, req.Email)
	if err != nil {
		h.serverError(c, err, "issue license")
		return
	}
	lic := store.IssuedLicense{
		Key:           string(key),
		CustomerName:  req.Name,
		CustomerEmail: req.Email,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.PutIssued(c.Request.Context(), lic); err != nil {
		h.serverError(c, err, "store issued license")
		return
	}
	h.metrics.LicensesIssued.Inc()

	resp := gin.H{
		"ok":         true,
		"licenseKey": string(key),
		"message":    "License issued. Use this key during activation.",
	}
	if req.AssetName != "" {
		resp["downloadUrl"] = h.resolver.DirectURL(req.AssetName, req.Version)
	}
	c.JSON(http.StatusOK, resp)
}

type autoRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Version string `json:"version"`
}

// Auto handles POST /auto: detect the caller's OS, resolve the matching
// installer, and issue a key in one step.
func (h *LicenseHandler) Auto(c *gin.Context) {
	var req autoRequest
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "missing_name_or_email"})
		return
	}

	osKey := releases.DetectOS(c.GetHeader("User-Agent"))
	asset, err := h.resolver.Resolve(c.Request.Context(), osKey, req.Version)
	if err != nil {
		h.serverError(c, err, "resolve asset")
		return
	}

	key, err := license.GenerateIssuedKey(req.Name, req.Email)
	if err != nil {
		h.serverError(c, err, "issue license")
		return
	}
	lic := store.IssuedLicense{
		Key:           string(key),
		CustomerName:  req.Name,
		CustomerEmail: req.Email,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.PutIssued(c.Request.Context(), lic); err != nil {
		h.serverError(c, err, "store issued license")
		return
	}
	h.metrics.LicensesIssued.Inc()

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"licenseKey":  string(key),
		"downloadUrl": asset.BrowserDownloadURL,
		"os":          osKey,
		"assetName":   asset.Name,
	})
}

// LicenseFile handles GET /license-file: streams a delivery file consumable
// by the desktop auto-activation scanner.
func (h *LicenseHandler) LicenseFile(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	email := strings.TrimSpace(c.Query("email"))
	if key == "" || email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "missing_key_or_email"})
		return
	}

	payload, err := json.MarshalIndent(map[string]string{
		"licenseKey":    key,
		"customerEmail": email,
	}, "", "  ")
	if err != nil {
		h.serverError(c, err, "marshal license file")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="Quantiv-license.json"`)
	c.Data(http.StatusOK, "application/json", payload)
}

type activateRequest struct {
	Key    string `json:"key"`
	Email  string `json:"email"`
	Device string `json:"device"`
}

// Activate handles POST /activate: bind a key to a device fingerprint.
// First activation wins; re-activation from the same device is idempotent.
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req activateRequest
	_ = c.ShouldBindJSON(&req)
	if req.Key == "" || req.Email == "" || req.Device == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "missing_fields"})
		return
	}
	if !license.ValidateIssuedKeyFormat(req.Key) {
		h.metrics.Activations.WithLabelValues("invalid_key_format").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "invalid_key_format"})
		return
	}

	ctx := c.Request.Context()
	lic, err := h.store.GetIssued(ctx, req.Key)
	if err != nil && err != store.ErrNotFound {
		h.serverError(c, err, "load issued license")
		return
	}
	if err == store.ErrNotFound || !strings.EqualFold(lic.CustomerEmail, req.Email) {
		h.metrics.Activations.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "reason": "license_not_found_or_email_mismatch"})
		return
	}

	if prev, err := h.store.GetActivation(ctx, req.Key); err == nil {
		if prev.Device != req.Device {
			h.metrics.Activations.WithLabelValues("device_mismatch").Inc()
			c.JSON(http.StatusConflict, gin.H{"ok": false, "reason": "device_mismatch_existing_activation"})
			return
		}
		h.metrics.Activations.WithLabelValues("already_activated").Inc()
		c.JSON(http.StatusOK, gin.H{"ok": true, "reason": "already_activated"})
		return
	} else if err != store.ErrNotFound {
		h.serverError(c, err, "load activation")
		return
	}

	act := store.Activation{
		Key:         req.Key,
		Email:       req.Email,
		Device:      req.Device,
		ActivatedAt: time.Now().UTC(),
	}
	if err := h.store.PutActivation(ctx, act); err != nil {
		h.serverError(c, err, "store activation")
		return
	}
	h.metrics.Activations.WithLabelValues("activated").Inc()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type verifyRequest struct {
	Key    string `json:"key"`
	Device string `json:"device"`
}

// Verify handles POST /verify: report the activation state of a key for a
// device. Negative outcomes are 200s; only malformed requests are errors.
func (h *LicenseHandler) Verify(c *gin.Context) {
	var req verifyRequest
	_ = c.ShouldBindJSON(&req)
	if req.Key == "" || req.Device == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "missing_fields"})
		return
	}

	act, err := h.store.GetActivation(c.Request.Context(), req.Key)
	if err == store.ErrNotFound {
		h.metrics.Verifications.WithLabelValues("not_activated").Inc()
		c.JSON(http.StatusOK, gin.H{"ok": false, "reason": "not_activated"})
		return
	}
	if err != nil {
		h.serverError(c, err, "load activation")
		return
	}
	if act.Device != req.Device {
		h.metrics.Verifications.WithLabelValues("device_mismatch").Inc()
		c.JSON(http.StatusOK, gin.H{"ok": false, "reason": "device_mismatch"})
		return
	}
	h.metrics.Verifications.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"email":       act.Email,
		"activatedAt": act.ActivatedAt.Format(time.RFC3339),
	})
}

func (h *LicenseHandler) serverError(c *gin.Context, err error, msg string) {
	h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "reason": "server_error", "detail": err.Error()})
}
