package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chauhan112/MyAIChat/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// Store is the conversation store surface exposed over HTTP.
type Store interface {
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	RenameConversation(ctx context.Context, id int64, title string) error
	DeleteConversation(ctx context.Context, id int64) error
}

// Asker runs one question/answer turn.
type Asker interface {
	Ask(ctx context.Context, question string, conversationID int64) (string, error)
}

type Handler struct {
	db     Store
	qa     Asker
	logger *zap.Logger
}

func NewHandler(database Store, qa Asker, logger *zap.Logger) *Handler {
	return &Handler{
		db:     database,
		qa:     qa,
		logger: logger,
	}
}

type ConversationRequest struct {
	Title string `json:"title"`
}

type AskRequest struct {
	Question string `json:"question"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

// NewRouter wires the handler and middleware onto a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(h.requestID, h.accessLog, gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/conversations", h.ListConversations)
	api.POST("/conversations", h.CreateConversation)
	api.GET("/conversations/:id", h.GetConversation)
	api.PUT("/conversations/:id", h.UpdateConversation)
	api.DELETE("/conversations/:id", h.DeleteConversation)
	api.GET("/conversations/:id/messages", h.GetMessages)
	api.POST("/conversations/:id/ask", h.Ask)
	return r
}

func (h *Handler) requestID(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("requestId", id)
	c.Header(requestIDHeader, id)
	c.Next()
}

func (h *Handler) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.logger.Debug("request",
		zap.String("request_id", c.GetString("requestId")),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)))
}

func (h *Handler) ListConversations(c *gin.Context) {
	conversations, err := h.db.ListConversations(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to get conversations", err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var req ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	conversation, err := h.db.CreateConversation(c.Request.Context(), req.Title)
	if err != nil {
		h.fail(c, "Failed to create conversation", err)
		return
	}
	c.JSON(http.StatusCreated, conversation)
}

func (h *Handler) GetConversation(c *gin.Context) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}

	conversation, err := h.db.GetConversation(c.Request.Context(), convID)
	if err != nil {
		h.fail(c, "Failed to get conversation", err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *Handler) UpdateConversation(c *gin.Context) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}

	var req ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if err := h.db.RenameConversation(ctx, convID, req.Title); err != nil {
		h.fail(c, "Failed to update conversation", err)
		return
	}
	conversation, err := h.db.GetConversation(ctx, convID)
	if err != nil {
		h.fail(c, "Failed to get conversation", err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}

	if err := h.db.DeleteConversation(c.Request.Context(), convID); err != nil {
		h.fail(c, "Failed to delete conversation", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetMessages(c *gin.Context) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}

	messages, err := h.db.ListMessages(c.Request.Context(), convID)
	if err != nil {
		h.fail(c, "Failed to get messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) Ask(c *gin.Context) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	answer, err := h.qa.Ask(c.Request.Context(), req.Question, convID)
	if err != nil {
		h.fail(c, "Failed to process message", err)
		return
	}
	c.JSON(http.StatusOK, AskResponse{Answer: answer})
}

func conversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return 0, false
	}
	return id, true
}

// fail writes err with the status matching its kind. Only server-side
// failures are logged as errors.
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.Error(err),
		zap.String("request_id", c.GetString("requestId")),
		zap.String("path", c.Request.URL.Path),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, fields...)
	} else {
		h.logger.Warn(msg, fields...)
	}

	body := err.Error()
	if status == http.StatusInternalServerError {
		body = "Internal server error"
	}
	c.JSON(status, gin.H{"error": body})
}

func statusFor(err error) int {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		model      *models.ModelError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &model):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
