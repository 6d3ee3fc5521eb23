package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quantivhq/quantiv/internal/activation"
	"github.com/quantivhq/quantiv/internal/bundle"
	"github.com/quantivhq/quantiv/internal/license"
	"github.com/quantivhq/quantiv/internal/releases"
	"github.com/quantivhq/quantiv/internal/store"
)

// DownloadHandler serves installer resolution and the token-gated client
// package download.
type DownloadHandler struct {
	store    store.Store
	resolver AssetResolver
	metrics  *Metrics
	logger   zerolog.Logger
}

// NewDownloadHandler creates a download handler.
func NewDownloadHandler(st store.Store, resolver AssetResolver, metrics *Metrics, logger zerolog.Logger) *DownloadHandler {
	return &DownloadHandler{
		store:    st,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger.With().Str("component", "downloads").Logger(),
	}
}

// RegisterRoutes registers distribution endpoints on the router.
func (h *DownloadHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/resolve", h.Resolve)
	r.POST("/token/create", h.CreateToken)
	r.GET("/download", h.Download)
}

type resolveRequest struct {
	OS      string `json:"os"`
	Version string `json:"version"`
}

// Resolve handles POST /resolve: map an OS key to the matching installer
// asset of a published release.
func (h *DownloadHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	_ = c.ShouldBindJSON(&req)
	if req.OS == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "missing_os"})
		return
	}
	if !releases.ValidOS(req.OS) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "invalid_os"})
		return
	}

	asset, err := h.resolver.Resolve(c.Request.Context(), req.OS, req.Version)
	if err != nil {
		h.serverError(c, err, "resolve asset")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"assetName":   asset.Name,
		"downloadUrl": asset.BrowserDownloadURL,
	})
}

type tokenRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	OS      string `json:"os"`
	Version string `json:"version"`
}

// CreateToken handles POST /token/create: mint a single-use download token
// and return the URL that redeems it.
func (h *DownloadHandler) CreateToken(c *gin.Context) {
	var req tokenRequest
	_ = c.ShouldBindJSON(&req)

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		h.serverError(c, err, "generate token")
		return
	}
	token := hex.EncodeToString(buf)

	tok := store.DownloadToken{
		Token:     token,
		Name:      req.Name,
		Email:     req.Email,
		OS:        req.OS,
		Version:   req.Version,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateToken(c.Request.Context(), tok); err != nil {
		h.serverError(c, err, "store token")
		return
	}
	h.metrics.TokensCreated.Inc()

	q := url.Values{}
	q.Set("token", token)
	if req.Name != "" {
		q.Set("name", req.Name)
	}
	if req.Email != "" {
		q.Set("email", req.Email)
	}
	if req.OS != "" {
		q.Set("os", req.OS)
	}
	if req.Version != "" {
		q.Set("version", req.Version)
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"token":       token,
		"downloadUrl": "/download?" + q.Encode(),
	})
}

// Download handles GET /download: redeem a token for a ZIP containing the
// installer and a ready-to-use license delivery file. The token is marked
// used only after the archive has been fully written, so a client that
// disconnects mid-stream can retry with the same token.
func (h *DownloadHandler) Download(c *gin.Context) {
	token := c.Query("token")
	name := c.Query("name")
	email := c.Query("email")
	osKey := c.Query("os")
	version := c.Query("version")
	if token == "" || name == "" || email == "" || osKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "reason": "missing_fields"})
		return
	}

	ctx := c.Request.Context()
	tok, err := h.store.GetToken(ctx, token)
	if err == store.ErrNotFound {
		h.metrics.Downloads.WithLabelValues("invalid_token").Inc()
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "reason": "invalid_token"})
		return
	}
	if err != nil {
		h.serverError(c, err, "load token")
		return
	}
	if tok.Used {
		h.metrics.Downloads.WithLabelValues("token_used").Inc()
		c.JSON(http.StatusGone, gin.H{"ok": false, "reason": "token_used"})
		return
	}

	key, err := license.GenerateIssuedKey(name, email)
	if err != nil {
		h.serverError(c, err, "issue license")
		return
	}
	lic := store.IssuedLicense{
		Key:           string(key),
		CustomerName:  name,
		CustomerEmail: email,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.store.PutIssued(ctx, lic); err != nil {
		h.serverError(c, err, "store issued license")
		return
	}
	h.metrics.LicensesIssued.Inc()

	asset, err := h.resolver.Resolve(ctx, osKey, version)
	if err != nil {
		h.serverError(c, err, "resolve asset")
		return
	}
	installer, err := h.resolver.Download(ctx, asset)
	if err != nil {
		h.serverError(c, err, "download installer")
		return
	}
	defer installer.Close()

	displayVersion := version
	if displayVersion == "" {
		displayVersion = "latest"
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="`+bundle.Filename(email, displayVersion)+`"`)
	c.Status(http.StatusOK)

	err = bundle.Write(c.Writer, bundle.Options{
		Installer:     installer,
		InstallerName: asset.Name,
		Version:       displayVersion,
		License: activation.LicenseFile{
			CustomerName:  name,
			CustomerEmail: email,
			LicenseKey:    string(key),
		},
	})
	if err != nil {
		// Headers are already out; all we can do is log and leave the
		// token unused so the client can retry.
		h.metrics.Downloads.WithLabelValues("stream_failed").Inc()
		h.logger.Error().Err(err).Str("token", token).Msg("client package stream failed")
		return
	}

	if err := h.store.ConsumeToken(ctx, token); err != nil {
		h.logger.Error().Err(err).Str("token", token).Msg("could not mark token used")
	}
	h.metrics.Downloads.WithLabelValues("ok").Inc()
}

func (h *DownloadHandler) serverError(c *gin.Context, err error, msg string) {
	h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "reason": "server_error", "detail": err.Error()})
}
