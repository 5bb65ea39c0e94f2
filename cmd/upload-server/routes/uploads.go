package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/tusgate/cmd/upload-server/middleware"
	"github.com/lgulliver/tusgate/internal/upload"
	"github.com/lgulliver/tusgate/pkg/types"
	"github.com/lgulliver/tusgate/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Options configures the upload endpoints
type Options struct {
	// Prefix is the URL path the endpoints are mounted under
	Prefix string
	// FragmentSize bounds a single read from a request body
	FragmentSize int
}

type uploadHandlers struct {
	uploads UploadServiceInterface
	base    string
	opts    Options
}

// UploadRoutes sets up the resumable upload endpoints
func UploadRoutes(router gin.IRouter, uploads UploadServiceInterface, authService middleware.AuthServiceInterface, opts Options) {
	base := "/" + strings.Trim(opts.Prefix, "/")
	h := &uploadHandlers{uploads: uploads, base: base, opts: opts}

	files := router.Group(base)
	files.Use(middleware.AuthMiddleware(authService), tusResumable())

	roots := []string{"/"}
	if base != "/" {
		roots = append(roots, "")
	}
	for _, root := range roots {
		files.OPTIONS(root, h.handleOptions)
		files.POST(root, h.handleCreate)
	}

	files.HEAD("/:id", h.handleHead)
	files.PATCH("/:id", h.handlePatch)
	files.DELETE("/:id", h.handleDelete)
	files.POST("/:id", h.handleMethodOverride)
}

// tusResumable stamps every response with the protocol version and rejects
// requests speaking a version the server doesn't support
func tusResumable() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Tus-Resumable", TusVersion)

		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		requested := c.GetHeader("Tus-Resumable")
		if _, ok := utils.MatchVersion(requested, SupportedVersions); !ok {
			log.Debug().Str("tus_resumable", requested).Msg("unsupported protocol version")
			c.Header("Tus-Version", strings.Join(utils.SortVersions(SupportedVersions), ","))
			c.AbortWithStatusJSON(http.StatusPreconditionFailed, types.ErrorResponse{Error: "unsupported protocol version"})
			return
		}

		c.Next()
	}
}

func (h *uploadHandlers) handleOptions(c *gin.Context) {
	c.Header("Tus-Version", strings.Join(utils.SortVersions(SupportedVersions), ","))
	c.Header("Tus-Extension", TusExtensions)
	c.Header("Tus-Max-Size", strconv.FormatInt(h.uploads.MaxSize(), 10))
	c.Status(http.StatusNoContent)
}

func (h *uploadHandlers) handleHead(c *gin.Context) {
	id := c.Param("id")
	if !upload.IsValidID(id) {
		c.Status(http.StatusNotFound)
		return
	}

	session, err := h.uploads.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	metadata, err := encodeMetadata(session.Metadata)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Upload-Metadata", metadata)
	if session.Size != nil {
		c.Header("Upload-Length", strconv.FormatInt(*session.Size, 10))
	} else {
		c.Header("Upload-Defer-Length", "1")
	}
	setOffsetHeaders(c, session)
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
}

func (h *uploadHandlers) handleCreate(c *gin.Context) {
	ctx := c.Request.Context()

	req := upload.CreateRequest{}

	if raw := c.GetHeader("Upload-Defer-Length"); raw != "" {
		if raw != "1" {
			h.writeError(c, errInvalid("Upload-Defer-Length must be 1"))
			return
		}
		req.DeferLength = true
	}

	length, ok, err := parseLength(c, "Upload-Length")
	if err != nil {
		h.writeError(c, err)
		return
	}
	if ok {
		if req.DeferLength {
			h.writeError(c, errInvalid("Upload-Length and Upload-Defer-Length are exclusive"))
			return
		}
		req.Size = &length
	}

	req.Metadata, err = parseMetadata(c.GetHeader("Upload-Metadata"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	session, err := h.uploads.Create(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Location", location(c, h.base, session.ID))

	if c.ContentType() == offsetContentType {
		session, err = h.uploads.Upload(ctx, upload.UploadRequest{
			ID:            session.ID,
			ClaimedOffset: 0,
			ContentLength: c.Request.ContentLength,
			Source:        upload.NewReaderSource(c.Request.Body, h.opts.FragmentSize),
			Creation:      true,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}
		setOffsetHeaders(c, session)
	}

	c.Status(http.StatusCreated)
}

func (h *uploadHandlers) handlePatch(c *gin.Context) {
	id := c.Param("id")
	if !upload.IsValidID(id) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "upload not found"})
		return
	}

	if c.ContentType() != offsetContentType {
		c.JSON(http.StatusUnsupportedMediaType, types.ErrorResponse{Error: "Content-Type must be " + offsetContentType})
		return
	}

	offset, ok, err := parseLength(c, "Upload-Offset")
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !ok {
		h.writeError(c, errInvalid("Upload-Offset is required"))
		return
	}

	req := upload.UploadRequest{
		ID:            id,
		ClaimedOffset: offset,
		ContentLength: c.Request.ContentLength,
		Source:        upload.NewReaderSource(c.Request.Body, h.opts.FragmentSize),
	}

	length, ok, err := parseLength(c, "Upload-Length")
	if err != nil {
		h.writeError(c, err)
		return
	}
	if ok {
		req.Length = &length
	}

	session, err := h.uploads.Upload(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	setOffsetHeaders(c, session)
	c.Status(http.StatusNoContent)
}

func (h *uploadHandlers) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if !upload.IsValidID(id) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "upload not found"})
		return
	}

	if err := h.uploads.Terminate(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handleMethodOverride serves clients that can only send POST
func (h *uploadHandlers) handleMethodOverride(c *gin.Context) {
	switch strings.ToUpper(c.GetHeader("X-HTTP-Method-Override")) {
	case http.MethodPatch:
		h.handlePatch(c)
	case http.MethodDelete:
		h.handleDelete(c)
	case http.MethodHead:
		h.handleHead(c)
	default:
		c.JSON(http.StatusMethodNotAllowed, types.ErrorResponse{Error: "method not allowed"})
	}
}

func errInvalid(msg string) error {
	return fmt.Errorf("%w: %s", upload.ErrInvalidRequest, msg)
}

// writeError maps upload failures to protocol status codes
func (h *uploadHandlers) writeError(c *gin.Context, err error) {
	id := c.Param("id")

	var sizeErr *upload.SizeExceededError
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, upload.ErrClientDisconnected):
		if c.Request.Context().Err() != nil {
			log.Info().Err(err).Str("upload_id", id).Msg("client disconnected during upload")
			c.Abort()
			return
		}
		// the body broke off but the client is still listening
		log.Warn().Err(err).Str("upload_id", id).Msg("failed to read request body")
		status = http.StatusBadRequest
	case errors.As(err, &sizeErr):
		status = http.StatusBadRequest
		if sizeErr.Limit == upload.LimitGlobal {
			status = http.StatusRequestEntityTooLarge
		}
	case errors.Is(err, upload.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, upload.ErrOffsetConflict):
		status = http.StatusConflict
	case errors.Is(err, upload.ErrLocked):
		status = http.StatusLocked
	case errors.Is(err, upload.ErrInvalidMetadata),
		errors.Is(err, upload.ErrInvalidRequest),
		errors.Is(err, upload.ErrInvalidState):
		status = http.StatusBadRequest
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("upload_id", id).Str("method", c.Request.Method).Msg("upload request failed")
		message = "internal server error"
	}

	c.AbortWithStatusJSON(status, types.ErrorResponse{Error: message})
}
