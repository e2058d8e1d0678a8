package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spritemill/spritemill"
	"github.com/spritemill/spritemill/config"
	"github.com/spritemill/spritemill/store"
)

// Response is the JSON envelope every endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BundleResult is one resolution bundle with base64-encoded PNGs keyed by
// size ("128", "280x200", ...).
type BundleResult struct {
	Palette  []string          `json:"palette"`
	Degraded bool              `json:"degraded"`
	Images   map[string]string `json:"images"`
}

type CutoutResult struct {
	Available bool   `json:"available"`
	Image     string `json:"image"`
	Matte     string `json:"matte"`
}

type AssetResult struct {
	ID              string                  `json:"id,omitempty"`
	Palette         []string                `json:"palette"`
	Degraded        bool                    `json:"degraded"`
	CutoutAvailable bool                    `json:"cutout_available"`
	Variants        map[string]BundleResult `json:"variants"`
}

type Handler struct {
	cfg      *config.Config
	log      *zap.Logger
	pipeline *spritemill.Pipeline
	cache    *Cache       // nil disables caching
	assets   *store.Store // nil disables persistence
}

func NewHandler(cfg *config.Config, log *zap.Logger, pipeline *spritemill.Pipeline, cache *Cache, assets *store.Store) *Handler {
	return &Handler{
		cfg:      cfg,
		log:      log,
		pipeline: pipeline,
		cache:    cache,
		assets:   assets,
	}
}

// Register mounts the API routes.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/pixelate", h.Pixelate)
		api.POST("/cutout", h.Cutout)
		api.POST("/composite", h.Composite)
		api.POST("/assets", h.CreateAsset)
		api.GET("/assets/:id", h.GetAsset)
		api.DELETE("/assets/:id", h.DeleteAsset)
	}
}

// Pixelate converts one uploaded image into a multi-resolution pixel-art
// bundle.
func (h *Handler) Pixelate(c *gin.Context) {
	data, ok := h.readUpload(c, "image")
	if !ok {
		return
	}

	opt := spritemill.DefaultBundleOptions()
	opt.GridSize = h.cfg.Pipeline.GridSize
	opt.MaxColors = h.cfg.Pipeline.MaxColors
	if v, err := strconv.Atoi(c.DefaultPostForm("grid_size", "0")); err == nil && v > 0 {
		opt.GridSize = v
	}
	if v, err := strconv.Atoi(c.DefaultPostForm("max_colors", "0")); err == nil && v > 0 {
		opt.MaxColors = v
	}
	opt.PreserveFullImage = c.DefaultPostForm("preserve_full_image", "false") == "true"

	cacheKey := ContentKey("pixelate", data, fmt.Sprintf("g%d:c%d:p%t", opt.GridSize, opt.MaxColors, opt.PreserveFullImage))
	var cached BundleResult
	if h.cacheGet(c, cacheKey, &cached) {
		c.JSON(http.StatusOK, Response{Success: true, Message: "cache hit", Data: cached})
		return
	}

	bundle, err := h.pipeline.BuildPixelArtBundle(data, opt)
	if err != nil {
		h.fail(c, "pixelate failed", err)
		return
	}
	result, err := encodeBundle(bundle)
	if err != nil {
		h.fail(c, "encode failed", err)
		return
	}
	h.cacheSet(c, cacheKey, result)
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// Cutout removes the background from one uploaded image.
func (h *Handler) Cutout(c *gin.Context) {
	data, ok := h.readUpload(c, "image")
	if !ok {
		return
	}

	opt := spritemill.MatteOptions{
		Threshold:            h.cfg.Pipeline.Threshold,
		BorderSize:           h.cfg.Pipeline.BorderSize,
		VarianceTolerance:    h.cfg.Pipeline.VarianceTolerance,
		UseEdgeRefinement:    c.DefaultPostForm("edge_refinement", "true") == "true",
		PreserveAntiAliasing: c.DefaultPostForm("preserve_antialiasing", "true") == "true",
	}
	if v, err := strconv.ParseFloat(c.DefaultPostForm("threshold", "0"), 64); err == nil && v > 0 {
		opt.Threshold = v
	}

	cacheKey := ContentKey("cutout", data, fmt.Sprintf("t%g:e%t:a%t", opt.Threshold, opt.UseEdgeRefinement, opt.PreserveAntiAliasing))
	var cached CutoutResult
	if h.cacheGet(c, cacheKey, &cached) {
		c.JSON(http.StatusOK, Response{Success: true, Message: "cache hit", Data: cached})
		return
	}

	cutout, err := h.pipeline.RemoveBackground(data, opt)
	if err != nil {
		h.fail(c, "background removal failed", err)
		return
	}
	imgPNG, err := cutout.Image.EncodePNG()
	if err != nil {
		h.fail(c, "encode failed", err)
		return
	}
	mattePNG, err := cutout.Matte.EncodePNG()
	if err != nil {
		h.fail(c, "encode failed", err)
		return
	}
	result := CutoutResult{
		Available: cutout.Available,
		Image:     base64.StdEncoding.EncodeToString(imgPNG),
		Matte:     base64.StdEncoding.EncodeToString(mattePNG),
	}
	h.cacheSet(c, cacheKey, result)
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// Composite blends an uploaded cutout over an uploaded background.
func (h *Handler) Composite(c *gin.Context) {
	bg, ok := h.readUpload(c, "background")
	if !ok {
		return
	}
	fg, ok := h.readUpload(c, "cutout")
	if !ok {
		return
	}

	opt := spritemill.CompositeOptions{
		Scale:    h.cfg.Pipeline.CompositeScale,
		PixelArt: c.DefaultPostForm("pixel_art", "false") == "true",
	}
	if v, err := strconv.ParseFloat(c.DefaultPostForm("scale", "0"), 64); err == nil && v > 0 {
		opt.Scale = v
	}
	if c.DefaultPostForm("anchor", "center") == "bottom" {
		opt.Anchor = spritemill.AnchorBottom
	}

	out, err := h.pipeline.CompositeOntoBackground(bg, fg, opt)
	if err != nil {
		h.fail(c, "composite failed", err)
		return
	}
	png, err := out.EncodePNG()
	if err != nil {
		h.fail(c, "encode failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"image": base64.StdEncoding.EncodeToString(png),
	}})
}

// CreateAsset runs the full flow for a subject+background pair and persists
// the result.
func (h *Handler) CreateAsset(c *gin.Context) {
	bg, ok := h.readUpload(c, "background")
	if !ok {
		return
	}
	subject, ok := h.readUpload(c, "subject")
	if !ok {
		return
	}

	opt := spritemill.DefaultAssetOptions()
	opt.Bundle.GridSize = h.cfg.Pipeline.GridSize
	opt.Bundle.MaxColors = h.cfg.Pipeline.MaxColors
	opt.Matte.Threshold = h.cfg.Pipeline.Threshold
	opt.Matte.BorderSize = h.cfg.Pipeline.BorderSize
	opt.Matte.VarianceTolerance = h.cfg.Pipeline.VarianceTolerance
	opt.Composite.Scale = h.cfg.Pipeline.CompositeScale

	asset, err := h.pipeline.BuildAsset(bg, subject, opt)
	if err != nil {
		h.fail(c, "asset build failed", err)
		return
	}

	result := AssetResult{
		Palette:         asset.Palette.Hex(),
		Degraded:        asset.Degraded,
		CutoutAvailable: asset.CutoutAvailable,
		Variants:        make(map[string]BundleResult, len(asset.Variants)),
	}
	rec := &store.Record{Palette: asset.Palette.Hex()}
	for variant, bundle := range asset.Variants {
		encoded, err := encodeBundle(bundle)
		if err != nil {
			h.fail(c, "encode failed", err)
			return
		}
		result.Variants[variant.String()] = encoded
		for _, img := range bundle.Images {
			png, err := img.EncodePNG()
			if err != nil {
				h.fail(c, "encode failed", err)
				return
			}
			rec.Images = append(rec.Images, store.Image{
				Variant: variant.String(),
				Width:   img.W,
				Height:  img.H,
				PNG:     png,
			})
		}
	}

	if h.assets != nil {
		id, err := h.assets.Create(c.Request.Context(), rec)
		if err != nil {
			h.fail(c, "persist failed", err)
			return
		}
		result.ID = id
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// GetAsset returns a persisted asset record.
func (h *Handler) GetAsset(c *gin.Context) {
	if h.assets == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Message: "asset store disabled"})
		return
	}
	rec, err := h.assets.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{Success: false, Message: "asset not found"})
		return
	}
	if err != nil {
		h.fail(c, "asset lookup failed", err)
		return
	}

	images := make([]gin.H, 0, len(rec.Images))
	for _, img := range rec.Images {
		images = append(images, gin.H{
			"variant": img.Variant,
			"width":   img.Width,
			"height":  img.Height,
			"png":     base64.StdEncoding.EncodeToString(img.PNG),
		})
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"id":         rec.ID,
		"created_at": rec.CreatedAt,
		"palette":    rec.Palette,
		"images":     images,
	}})
}

// DeleteAsset removes a persisted asset record.
func (h *Handler) DeleteAsset(c *gin.Context) {
	if h.assets == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Message: "asset store disabled"})
		return
	}
	err := h.assets.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{Success: false, Message: "asset not found"})
		return
	}
	if err != nil {
		h.fail(c, "asset delete failed", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// readUpload fetches and validates one multipart file field, answering the
// request itself on failure.
func (h *Handler) readUpload(c *gin.Context, field string) ([]byte, bool) {
	file, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: fmt.Sprintf("missing %q file field", field),
			Error:   err.Error(),
		})
		return nil, false
	}
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: fmt.Sprintf("file exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return nil, false
	}
	if !h.isAllowedType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: "unsupported file type, JPEG or PNG only",
		})
		return nil, false
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, "read upload failed", err)
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, "read upload failed", err)
		return nil, false
	}
	return data, true
}

func (h *Handler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

// fail maps pipeline errors onto HTTP status codes: contract violations are
// caller errors, everything else is a server error.
func (h *Handler) fail(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, spritemill.ErrInvalidImage) || errors.Is(err, spritemill.ErrDimensionMismatch) {
		status = http.StatusBadRequest
	}
	h.log.Error(message, zap.Error(err))
	c.JSON(status, Response{Success: false, Message: message, Error: err.Error()})
}

func (h *Handler) cacheGet(c *gin.Context, key string, v any) bool {
	if h.cache == nil {
		return false
	}
	hit, err := h.cache.Get(c.Request.Context(), key, v)
	if err != nil {
		h.log.Warn("cache get failed", zap.Error(err))
		return false
	}
	return hit
}

func (h *Handler) cacheSet(c *gin.Context, key string, v any) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(c.Request.Context(), key, v); err != nil {
		h.log.Warn("cache set failed", zap.Error(err))
	}
}

func encodeBundle(b *spritemill.Bundle) (BundleResult, error) {
	result := BundleResult{
		Palette:  b.Palette.Hex(),
		Degraded: b.Degraded,
		Images:   make(map[string]string, len(b.Images)),
	}
	for res, img := range b.Images {
		png, err := img.EncodePNG()
		if err != nil {
			return BundleResult{}, err
		}
		result.Images[res.String()] = base64.StdEncoding.EncodeToString(png)
	}
	return result, nil
}
