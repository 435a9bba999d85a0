package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"sharebox/internal/server/auth"
	"sharebox/internal/server/database"
	"sharebox/internal/server/events"
	"sharebox/internal/server/service"
	"sharebox/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the file sharing API.
type Handler struct {
	svc      *service.FileService
	sessions *auth.Sessions
	hub      *events.Hub
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(svc *service.FileService, sessions *auth.Sessions, hub *events.Hub) *Handler {
	return &Handler{svc: svc, sessions: sessions, hub: hub}
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// HandleLogin handles POST /api/admin/login.
// Accepts form or JSON credentials and sets the session cookie.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username and password are required"})
	}

	token, err := h.sessions.Login(req.Username, req.Password)
	if err != nil {
		slog.Warn("admin login failed", "username", req.Username, "ip", c.RealIP())
		return mapServiceError(c, err)
	}

	expires := time.Now().Add(h.sessions.TTL())
	c.SetCookie(&http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.Scheme() == "https",
	})

	slog.Info("admin logged in", "username", req.Username, "ip", c.RealIP())
	return c.JSON(http.StatusOK, echo.Map{
		"token":      token,
		"expires_at": expires.UTC(),
	})
}

// HandleLogout handles POST /api/admin/logout.
func (h *Handler) HandleLogout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// HandleUpload handles POST /api/admin/upload.
// Accepts a multipart form with a "file" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	var uploadedBy string
	if claims := auth.ClaimsFrom(c); claims != nil {
		uploadedBy = claims.Subject
	}

	result, err := h.svc.Upload(
		c.Request().Context(),
		fileHeader.Filename,
		src,
		fileHeader.Size,
		uploadedBy,
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleList handles GET /api/files.
func (h *Handler) HandleList(c echo.Context) error {
	files, err := h.svc.List(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleInfo handles GET /api/files/:id.
func (h *Handler) HandleInfo(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}

	info, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDownload handles GET /d/:id.
// Streams the file as an attachment named after its display name.
func (h *Handler) HandleDownload(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}

	err = h.svc.Download(c.Request().Context(), id, c.RealIP(), func(f *database.File, r io.Reader) error {
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, contentType(f.OriginalName))
		res.Header().Set(echo.HeaderContentDisposition,
			mime.FormatMediaType("attachment", map[string]string{"filename": f.OriginalName}))
		res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(f.Size, 10))
		res.WriteHeader(http.StatusOK)

		_, err := io.Copy(res, r)
		return err
	})
	if err != nil {
		if c.Response().Committed {
			// Headers are gone; the client sees a truncated body.
			return nil
		}
		return mapServiceError(c, err)
	}
	return nil
}

// HandleDelete handles DELETE /api/admin/files/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}

	result, err := h.svc.Delete(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type downloadView struct {
	ID            int64     `json:"id"`
	ClientAddress string    `json:"client_address"`
	DownloadedAt  time.Time `json:"downloaded_at"`
}

// HandleHistory handles GET /api/admin/files/:id/downloads.
func (h *Handler) HandleHistory(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}

	downloads, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]downloadView, 0, len(downloads))
	for _, d := range downloads {
		out = append(out, downloadView{ID: d.ID, ClientAddress: d.ClientAddress, DownloadedAt: d.DownloadedAt})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleEvents handles GET /ws.
func (h *Handler) HandleEvents(c echo.Context) error {
	h.hub.ServeWS(c.Response(), c.Request())
	return nil
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.svc.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":    status,
		"database":  dbStatus,
		"observers": h.hub.ClientCount(),
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}
	return c.JSON(http.StatusOK, stats)
}

func fileID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid file id")
	}
	return id, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return echo.MIMEOctetStream
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, storage.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, storage.ErrInvalidFileType),
		errors.Is(err, storage.ErrEmptyFilename),
		errors.Is(err, storage.ErrEmptyFile),
		errors.Is(err, storage.ErrIncompleteWrite),
		errors.Is(err, storage.ErrInvalidArchive),
		errors.Is(err, storage.ErrDangerousArchive):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	default:
		slog.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
