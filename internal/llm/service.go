package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chauhan112/MyAIChat/internal/config"
	"github.com/chauhan112/MyAIChat/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

const (
	SystemPrompt   = "You are a helpful AI assistant."
	DefaultTimeout = 30 * time.Second
)

// Store is the part of the conversation store a QA turn needs.
type Store interface {
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	AppendMessage(ctx context.Context, conversationID int64, role, content string) (*models.Message, error)
	TouchConversation(ctx context.Context, id int64) error
}

type Service struct {
	llm     llms.Model
	store   Store
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewModel builds the model client for the configured provider.
func NewModel(cfg config.LLM) (llms.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		llm, err := openai.New(
			openai.WithToken(cfg.Token),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// New returns a QA service. A zero timeout selects DefaultTimeout and a nil
// logger disables logging.
func New(model llms.Model, store Store, modelName string, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		llm:     model,
		store:   store,
		model:   modelName,
		timeout: timeout,
		logger:  logger,
	}
}

// BuildContext renders the history as "role: content" lines, oldest first.
func BuildContext(history []models.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return strings.Join(lines, "\n")
}

// Prompt returns the messages sent to the model for one turn.
func Prompt(history, question string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf("Context:\n%s\n\nQuestion: %s", history, question)),
	}
}

// Ask runs one question/answer turn against the conversation. The question
// and answer are stored only after the model has answered.
func (s *Service) Ask(ctx context.Context, question string, conversationID int64) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", &models.ValidationError{Message: "question must not be empty"}
	}

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return "", err
	}

	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return "", err
	}

	messages := Prompt(BuildContext(history), question)
	log := s.logger.With(zap.Int64("conversation_id", conversationID))
	// Token counting may load encodings, so only pay for it when debugging.
	if ce := log.Check(zap.DebugLevel, "assembled context"); ce != nil {
		ce.Write(
			zap.Int("history_messages", len(history)),
			zap.Int("estimated_tokens", estimateTokens(s.model, messages)))
	}

	answer, err := s.complete(ctx, messages)
	if err != nil {
		log.Error("model call failed", zap.String("model", s.model), zap.Error(err))
		return "", err
	}

	if _, err := s.store.AppendMessage(ctx, conversationID, models.RoleHuman, question); err != nil {
		return "", fmt.Errorf("failed to save question: %w", err)
	}
	if _, err := s.store.AppendMessage(ctx, conversationID, models.RoleAI, answer); err != nil {
		return "", fmt.Errorf("failed to save answer: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conversationID); err != nil {
		return "", fmt.Errorf("failed to touch conversation: %w", err)
	}

	log.Info("turn completed", zap.Int("answer_length", len(answer)))
	return answer, nil
}

func (s *Service) complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var opts []llms.CallOption
	if s.model != "" {
		opts = append(opts, llms.WithModel(s.model))
	}

	resp, err := s.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &models.ModelError{Message: fmt.Sprintf("model call timed out after %s", s.timeout), Err: err}
		}
		return "", &models.ModelError{Message: "failed to generate completion", Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", &models.ModelError{Message: "model returned no choices"}
	}
	return resp.Choices[0].Content, nil
}

func estimateTokens(model string, messages []llms.MessageContent) int {
	total := 0
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				total += llms.CountTokens(model, text.Text)
			}
		}
	}
	return total
}
