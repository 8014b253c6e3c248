package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const einoMaxSteps = 8

type generator interface {
	Generate(ctx context.Context, input []*schema.Message) (*schema.Message, error)
}

type modelGenerator struct {
	model model.BaseChatModel
}

func (m modelGenerator) Generate(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
	return m.model.Generate(ctx, input)
}

type agentGenerator struct {
	agent *react.Agent
}

func (a agentGenerator) Generate(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
	return a.agent.Generate(ctx, input)
}

// einoInitializer serves providers reached through eino chat models. These
// have no remote code execution, so the table is exposed through local tools
// and the conversation history is kept in the session.
type einoInitializer struct {
	provider string
	model    model.ToolCallingChatModel
	logger   *zap.Logger
}

func (e *einoInitializer) Initialize(ctx context.Context, ds Dataset) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InitError{Provider: e.provider, Err: err}
	}
	key := uuid.NewString()
	tools := tableTools(ds.Table, key)

	var gen generator = modelGenerator{model: e.model}
	if len(tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: e.model,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
			MaxStep: einoMaxSteps,
		})
		if err != nil {
			return nil, &InitError{Provider: e.provider, Err: err}
		}
		gen = agentGenerator{agent: agent}
	}

	e.logger.Info("eino session created",
		zap.String("provider", e.provider),
		zap.String("file", ds.FileName),
		zap.Int("tools", len(tools)))
	return &einoSession{
		gen:        gen,
		limiterKey: key,
		history:    []*schema.Message{schema.SystemMessage(systemPrompt(ds, len(tools) > 0))},
		logger:     e.logger,
	}, nil
}

type einoSession struct {
	turn       sync.Mutex // serializes Send
	mu         sync.Mutex // guards history
	gen        generator
	limiterKey string
	history    []*schema.Message
	closed     atomic.Bool
	logger     *zap.Logger
}

func (s *einoSession) Send(ctx context.Context, userText string) (*Reply, error) {
	s.turn.Lock()
	defer s.turn.Unlock()
	if s.closed.Load() {
		return nil, &SendError{Reason: ReasonStale, Err: errSessionClosed}
	}

	s.mu.Lock()
	input := make([]*schema.Message, 0, len(s.history)+1)
	input = append(input, s.history...)
	s.mu.Unlock()
	input = append(input, schema.UserMessage(userText))

	out, err := s.gen.Generate(ctx, input)
	if s.closed.Load() {
		return nil, &SendError{Reason: ReasonStale, Err: errSessionClosed}
	}
	if err != nil {
		return nil, classifySendError(ctx, err)
	}
	if out == nil {
		return nil, &SendError{Reason: ReasonRemote, Err: errors.New("empty response")}
	}
	text := strings.TrimSpace(out.Content)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, &SendError{Reason: ReasonStale, Err: errSessionClosed}
	}
	s.history = append(input, schema.AssistantMessage(text, nil))
	s.logger.Debug("eino reply",
		zap.Int("text_len", len(text)),
		zap.Int("history", len(s.history)))
	return &Reply{Text: text}, nil
}

// Close marks the session closed and drops its history. A turn in flight is
// not waited for; its reply is discarded.
func (s *einoSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	tableToolLimiter.Forget(s.limiterKey)
	return nil
}
