package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/example/faceme-bridge/internal/auth"
	"github.com/example/faceme-bridge/internal/faceme"
	"github.com/example/faceme-bridge/internal/logging"
	"github.com/example/faceme-bridge/internal/usecase"
)

// MaxUploadSize bounds a whole request body, all files included.
const MaxUploadSize = 10 << 20

type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func badRequest(format string, args ...any) *httpError {
	return &httpError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

type handler struct {
	uc      *usecase.BridgeUseCase
	metrics *usecase.MetricsUseCase
}

// RegisterRoutes wires the gateway endpoints to the Gin router. Everything
// under /v1 requires authMiddleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.BridgeUseCase, metrics *usecase.MetricsUseCase, authMiddleware gin.HandlerFunc) {
	h := &handler{uc: uc, metrics: metrics}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", authMiddleware)
	v1.GET("/health", h.faceMeHealth)
	v1.GET("/status", h.engineStatus)
	v1.POST("/enrollments", h.enroll)
	v1.DELETE("/enrollments/:id", h.deleteEnrollment)
	v1.POST("/comparisons", h.compareImages)
	v1.POST("/comparisons/:id", h.compareByID)
	v1.POST("/templates/comparisons", h.compareTemplates)
	v1.POST("/searches", h.searchFaces)
	v1.POST("/spoofing", h.checkSpoofing)
	v1.POST("/spoofing/second-stage", h.checkSpoofingSecondStage)
	v1.POST("/quality", h.checkQuality)
	v1.GET("/results/:id", h.getResult)
	v1.GET("/metrics", h.getMetrics)
	v1.GET("/metrics/:operation/calls", h.recentCalls)
}

func (h *handler) faceMeHealth(c *gin.Context) {
	h.run(c, faceme.OpHealthCheck, nil, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return nil, b.HealthCheck(ctx)
	})
}

func (h *handler) engineStatus(c *gin.Context) {
	h.run(c, faceme.OpEngineStatus, nil, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return b.EngineStatus(ctx)
	})
}

func (h *handler) enroll(c *gin.Context) {
	up, ok := readUploads(c)
	if !ok {
		return
	}
	imageID := strings.TrimSpace(c.PostForm("image_id"))
	if imageID == "" {
		abort(c, badRequest("image_id is required"))
		return
	}
	image, herr := up.single("image", true)
	features, ferr := formFeatures(c, "features", nil)
	if abortOn(c, herr, ferr) {
		return
	}
	h.run(c, faceme.OpEnroll, up.fs, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return b.Enroll(ctx, imageID, image, features)
	})
}

func (h *handler) deleteEnrollment(c *gin.Context) {
	imageID := c.Param("id")
	h.run(c, faceme.OpDeleteEnrollment, nil, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return b.DeleteEnrollment(ctx, imageID)
	})
}

func (h *handler) compareImages(c *gin.Context) {
	up, ok := readUploads(c)
	if !ok {
		return
	}
	image1, err1 := up.single("image1", true)
	image2, err2 := up.single("image2", true)
	features, ferr := formFeatures(c, "features", nil)
	if abortOn(c, err1, err2, ferr) {
		return
	}
	h.run(c, faceme.OpCompareImages, up.fs, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return b.CompareImages(ctx, image1, image2, features)
	})
}

func (h *handler) compareByID(c *gin.Context) {
	up, ok := readUploads(c)
	if !ok {
		return
	}
	criteria := faceme.SearchCriteria{ImageID: c.Param("id")}
	image, herr := up.single("image1", true)
	features, ferr := formFeatures(c, "features", faceme.DefaultComparisonFeatures())
	if abortOn(c, herr, ferr) {
		return
	}
	h.run(c, faceme.OpCompareByID, up.fs, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return b.CompareByID(ctx, image, criteria, features)
	})
}

func (h *handler) compareTemplates(c *gin.Context) {
	up, ok := readUploads(c)
	if !ok {
		return
	}
	face1, err1 := up.single("face1_template", false)
	face2, err2 := up.single("face2_template", false)
	var facesInfo faceme.FacesInfo
	ierr := formJSON(c, "faces_info", &facesInfo, true)
	if abortOn(c, err1, err2, ierr) {
		return
	}
	h.run(c, faceme.OpCompareTemplates, up.fs, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return b.CompareTemplates(ctx, face1, face2, facesInfo)
	})
}

func (h *handler) searchFaces(c *gin.Context) {
	up, ok := readUploads(c)
	if !ok {
		return
	}
	image, herr := up.single("image1", true)
	features, ferr := formFeatures(c, "features", faceme.DefaultComparisonFeatures())
	var criteria map[string]any
	cerr := formJSON(c, "search_criteria", &criteria, true)
	if abortOn(c, herr, ferr, cerr) {
		return
	}
	h.run(c, faceme.OpSearchFaces, up.fs, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return b.SearchFaces(ctx, image, features, criteria)
	})
}

func (h *handler) checkSpoofing(c *gin.Context) {
	h.spoofing(c, faceme.OpCheckSpoofing, (*faceme.Client).CheckSpoofing)
}

func (h *handler) checkSpoofingSecondStage(c *gin.Context) {
	h.spoofing(c, faceme.OpCheckSpoofingStage2, (*faceme.Client).CheckSpoofingSecondStage)
}

type spoofingCall func(b *faceme.Client, ctx context.Context, images []string, detail any) (*faceme.Result, error)

func (h *handler) spoofing(c *gin.Context, operation string, call spoofingCall) {
	up, ok := readUploads(c)
	if !ok {
		return
	}
	images, herr := up.many("images")
	var detail map[string]any
	derr := formJSON(c, "detail", &detail, true)
	if abortOn(c, herr, derr) {
		return
	}
	h.run(c, operation, up.fs, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return call(b, ctx, images, detail)
	})
}

func (h *handler) checkQuality(c *gin.Context) {
	up, ok := readUploads(c)
	if !ok {
		return
	}
	image, herr := up.single("image", true)
	features, ferr := formFeatures(c, "features", faceme.Features{"qualityCheck": true})
	if abortOn(c, herr, ferr) {
		return
	}
	h.run(c, faceme.OpCheckQuality, up.fs, func(ctx context.Context, b *faceme.Client) (*faceme.Result, error) {
		return b.CheckQuality(ctx, image, features)
	})
}

func (h *handler) getResult(c *gin.Context) {
	caller, _ := auth.CallerID(c.Request.Context())
	stored, err := h.uc.GetResult(c.Request.Context(), caller, c.Param("id"))
	if errors.Is(err, usecase.ErrResultNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *handler) getMetrics(c *gin.Context) {
	summary, err := h.metrics.GetMetricsSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) recentCalls(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			abort(c, badRequest("limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	calls, err := h.metrics.RecentCalls(c.Request.Context(), c.Param("operation"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list calls"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operation": c.Param("operation"), "calls": calls})
}

func (h *handler) run(c *gin.Context, operation string, fs afero.Fs, call usecase.BridgeCall) {
	caller, _ := auth.CallerID(c.Request.Context())
	outcome, err := h.uc.Execute(c.Request.Context(), caller, operation, fs, call)
	if err != nil {
		writeBridgeError(c, outcome, err)
		return
	}

	body := gin.H{
		"request_id": outcome.RequestID,
		"operation":  outcome.Operation,
	}
	if outcome.Result.Empty() {
		body["result"] = nil
	} else {
		body["result"] = outcome.Result.Raw
	}
	c.JSON(http.StatusOK, body)
}

// writeBridgeError maps a failed call onto an HTTP status. Failures of the
// gateway itself, before or after the bridge ran, are reported as 500.
func writeBridgeError(c *gin.Context, outcome *usecase.CallOutcome, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}
	if outcome != nil {
		body["request_id"] = outcome.RequestID
		body["error_kind"] = faceme.ErrorKind(err)
		switch {
		case errors.Is(err, faceme.ErrFileAccess):
			status = http.StatusBadRequest
		case errors.Is(err, faceme.ErrServiceUnhealthy):
			status = http.StatusServiceUnavailable
		case errors.Is(err, faceme.ErrDecode):
			status = http.StatusBadGateway
		default:
			if te, ok := faceme.AsTransportError(err); ok {
				status = http.StatusBadGateway
				if te.StatusCode != 0 {
					body["upstream_status"] = te.StatusCode
				}
			}
		}
	} else {
		body["error"] = "gateway failure"
		if stage, ok := logging.OperationOf(err); ok {
			body["stage"] = stage
		}
	}
	c.JSON(status, body)
}

type uploads struct {
	fs    afero.Fs
	files map[string][]*multipart.FileHeader
}

// readUploads parses the multipart body. It writes the error response
// itself and returns false when the body is unusable.
func readUploads(c *gin.Context) (*uploads, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, &httpError{status: http.StatusRequestEntityTooLarge, message: "upload too large"})
			return nil, false
		}
		abort(c, badRequest("multipart form expected"))
		return nil, false
	}
	return &uploads{fs: afero.NewMemMapFs(), files: form.File}, true
}

func (u *uploads) single(field string, image bool) (string, *httpError) {
	headers := u.files[field]
	if len(headers) != 1 {
		return "", badRequest("exactly one %s file is required", field)
	}
	return u.store(field, 0, headers[0], image)
}

func (u *uploads) many(field string) ([]string, *httpError) {
	headers := u.files[field]
	if len(headers) == 0 {
		return nil, badRequest("at least one %s file is required", field)
	}
	paths := make([]string, 0, len(headers))
	for i, fh := range headers {
		p, herr := u.store(field, i, fh, true)
		if herr != nil {
			return nil, herr
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// store copies an upload into the in-memory filesystem, keeping its base
// name so FaceMe sees the uploaded file name.
func (u *uploads) store(field string, index int, fh *multipart.FileHeader, image bool) (string, *httpError) {
	if image && !strings.HasPrefix(fh.Header.Get("Content-Type"), "image/") {
		return "", &httpError{status: http.StatusUnsupportedMediaType, message: field + " must be an image"}
	}

	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = field
	}
	dst := path.Join("/uploads", field, fmt.Sprint(index), name)

	src, err := fh.Open()
	if err != nil {
		return "", badRequest("unable to open %s", field)
	}
	defer src.Close()

	if err := u.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return "", &httpError{status: http.StatusInternalServerError, message: "failed to buffer upload"}
	}
	out, err := u.fs.Create(dst)
	if err != nil {
		return "", &httpError{status: http.StatusInternalServerError, message: "failed to buffer upload"}
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", badRequest("failed to read %s", field)
	}
	return dst, nil
}

func formJSON(c *gin.Context, field string, dst any, required bool) *httpError {
	raw, ok := c.GetPostForm(field)
	if !ok || strings.TrimSpace(raw) == "" {
		if required {
			return badRequest("%s is required", field)
		}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return badRequest("%s must be valid JSON", field)
	}
	return nil
}

// formFeatures decodes an optional features field. fallback is used when the
// field is absent; a nil fallback lets the bridge pick its own default.
func formFeatures(c *gin.Context, field string, fallback faceme.Features) (faceme.Features, *httpError) {
	var features faceme.Features
	if herr := formJSON(c, field, &features, false); herr != nil {
		return nil, herr
	}
	if features == nil {
		return fallback, nil
	}
	return features, nil
}

func abortOn(c *gin.Context, errs ...*httpError) bool {
	for _, e := range errs {
		if e != nil {
			abort(c, e)
			return true
		}
	}
	return false
}

func abort(c *gin.Context, e *httpError) {
	c.AbortWithStatusJSON(e.status, gin.H{"error": e.message})
}
