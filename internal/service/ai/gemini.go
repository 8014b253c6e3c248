package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"excelanalyst/internal/models"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type chatSender interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator func(ctx context.Context, model string, cfg *genai.GenerateContentConfig) (chatSender, error)

// geminiInitializer opens native Gemini chats with the code execution tool,
// so analysis and charts run on the remote side.
type geminiInitializer struct {
	model  string
	create chatCreator
	logger *zap.Logger
}

func newGeminiInitializer(ctx context.Context, apiKey, baseURL, modelName string, logger *zap.Logger) (*geminiInitializer, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	create := func(ctx context.Context, model string, cfg *genai.GenerateContentConfig) (chatSender, error) {
		return client.Chats.Create(ctx, model, cfg, nil)
	}
	return &geminiInitializer{model: modelName, create: create, logger: logger}, nil
}

func (g *geminiInitializer) Initialize(ctx context.Context, ds Dataset) (Session, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(ds, false), genai.RoleUser),
		Tools: []*genai.Tool{
			{CodeExecution: &genai.ToolCodeExecution{}},
		},
	}
	chat, err := g.create(ctx, g.model, cfg)
	if err != nil {
		return nil, &InitError{Provider: "gemini", Err: err}
	}
	g.logger.Info("gemini chat created",
		zap.String("model", g.model),
		zap.String("file", ds.FileName),
		zap.Int("context_bytes", len(ds.Context)))
	return &geminiSession{chat: chat, logger: g.logger}, nil
}

type geminiSession struct {
	mu     sync.Mutex // one turn at a time; the chat keeps its own history
	chat   chatSender
	closed atomic.Bool
	logger *zap.Logger
}

func (s *geminiSession) Send(ctx context.Context, userText string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, &SendError{Reason: ReasonStale, Err: errSessionClosed}
	}

	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: userText})
	if s.closed.Load() {
		return nil, &SendError{Reason: ReasonStale, Err: errSessionClosed}
	}
	if err != nil {
		return nil, classifySendError(ctx, err)
	}
	reply, err := extractReply(resp)
	if err != nil {
		return nil, &SendError{Reason: ReasonRemote, Err: err}
	}
	s.logger.Debug("gemini reply",
		zap.Int("text_len", len(reply.Text)),
		zap.Int("images", len(reply.Images)))
	return reply, nil
}

// Close marks the session closed without waiting for a turn in flight.
func (s *geminiSession) Close() error {
	s.closed.Store(true)
	return nil
}

// extractReply collects the visible text and inline images of the first
// candidate. Thought parts are dropped; image order is preserved.
func extractReply(resp *genai.GenerateContentResponse) (*Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, errors.New("prompt blocked: " + string(resp.PromptFeedback.BlockReason))
		}
		return nil, errors.New("empty response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		if cand.FinishReason != "" {
			return nil, errors.New("no content, finish reason " + string(cand.FinishReason))
		}
		return nil, errors.New("no content")
	}

	var (
		text   strings.Builder
		images []models.Image
	)
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "image/") && len(part.InlineData.Data) > 0 {
			images = append(images, models.Image{
				MIMEType: part.InlineData.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
			})
		}
	}
	return &Reply{Text: strings.TrimSpace(text.String()), Images: images}, nil
}
