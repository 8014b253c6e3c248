package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"excelanalyst/internal/models"
	"excelanalyst/internal/service/ai"
	"excelanalyst/internal/sheet"
	"excelanalyst/internal/workspace"
)

const multipartOverhead = 1 << 20

// Handler wires HTTP routes to the workspace.
type Handler struct {
	ws             *workspace.Workspace
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(ws *workspace.Workspace, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ws: ws, maxUploadBytes: maxUploadBytes, logger: logger.Named("api")}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.GET("/state", h.state)
	api.POST("/upload", h.upload)
	api.POST("/messages", h.sendMessage)
	api.POST("/reset", h.reset)
	api.GET("/preview", h.preview)
	api.GET("/messages/:id/images/:index", h.messageImage)
}

type imageView struct {
	MIMEType string `json:"mime_type"`
	URL      string `json:"url"`
}

type messageView struct {
	ID        string      `json:"id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	Format    string      `json:"format"`
	Timestamp time.Time   `json:"timestamp"`
	Images    []imageView `json:"images,omitempty"`
}

type stateView struct {
	State       workspace.State `json:"state"`
	Pending     bool            `json:"pending"`
	FileName    string          `json:"file_name,omitempty"`
	Headers     []string        `json:"headers,omitempty"`
	RowCount    int             `json:"row_count"`
	ContextRows int             `json:"context_rows"`
	Messages    []messageView   `json:"messages"`
	Notice      string          `json:"notice,omitempty"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func newMessageView(m models.ChatMessage) messageView {
	view := messageView{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Format:    "text",
		Timestamp: m.Timestamp,
	}
	if m.Role == models.RoleAssistant {
		view.Format = "markdown"
	}
	for i, img := range m.Images {
		view.Images = append(view.Images, imageView{
			MIMEType: img.MIMEType,
			URL:      fmt.Sprintf("/api/messages/%s/images/%d", m.ID, i),
		})
	}
	return view
}

func newStateView(s workspace.Snapshot) stateView {
	view := stateView{
		State:       s.State,
		Pending:     s.Pending,
		FileName:    s.FileName,
		Headers:     s.Headers,
		RowCount:    s.RowCount,
		ContextRows: s.ContextRows,
		Messages:    make([]messageView, 0, len(s.Messages)),
		Notice:      s.Notice,
	}
	for _, m := range s.Messages {
		view.Messages = append(view.Messages, newMessageView(m))
	}
	return view
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, newStateView(h.ws.Snapshot()))
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}

	fileName := filepath.Base(file.Filename)
	if err := h.ws.Upload(c.Request.Context(), fileName, data); err != nil {
		snap := h.ws.Snapshot()
		if errors.Is(err, workspace.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": "a dataset is already loaded or being processed", "state": newStateView(snap)})
			return
		}
		h.logger.Info("upload rejected", zap.String("file", fileName), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": snap.Notice, "state": newStateView(snap)})
		return
	}
	c.JSON(http.StatusCreated, newStateView(h.ws.Snapshot()))
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, assistant, err := h.ws.Send(c.Request.Context(), req.Content)
	if err != nil {
		status, msg := sendErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("turn failed", zap.Int("status", status), zap.Error(err))
			msg = h.ws.Snapshot().Notice
		}
		body := gin.H{"error": msg}
		if user.ID != "" {
			body["user_message"] = newMessageView(user)
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_message":      newMessageView(user),
		"assistant_message": newMessageView(*assistant),
	})
}

func sendErrorStatus(err error) (int, string) {
	var sendErr *ai.SendError
	switch {
	case errors.Is(err, workspace.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, workspace.ErrNotReady), errors.Is(err, workspace.ErrTurnPending):
		return http.StatusConflict, err.Error()
	case errors.Is(err, workspace.ErrStaleReply):
		return http.StatusGone, err.Error()
	case ai.IsTimeout(err):
		return http.StatusGatewayTimeout, err.Error()
	case errors.As(err, &sendErr):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (h *Handler) reset(c *gin.Context) {
	if err := h.ws.Reset(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no dataset loaded"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) preview(c *gin.Context) {
	table := h.ws.Table()
	if table == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no dataset loaded"})
		return
	}
	cols := queryInt(c, "cols", sheet.DefaultPreviewColumns)
	rows := queryInt(c, "rows", sheet.DefaultPreviewRows)
	pv := sheet.NewPreview(table, cols, rows)

	if c.Query("format") == "msgpack" {
		payload, err := msgpack.Marshal(pv)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode preview failed"})
			return
		}
		c.Data(http.StatusOK, "application/msgpack", payload)
		return
	}
	c.JSON(http.StatusOK, pv)
}

func (h *Handler) messageImage(c *gin.Context) {
	msg, ok := h.ws.Message(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 || idx >= len(msg.Images) {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	img := msg.Images[idx]
	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decode image failed"})
		return
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, mime, data)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
