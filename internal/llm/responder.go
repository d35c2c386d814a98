package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/pkg/logger"
	"github.com/capitalize-ai/support-widget/pkg/metrics"
)

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// ResponderConfig tunes reply generation.
type ResponderConfig struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	HistoryLimit int
	// Timeout bounds one completion call; zero means no bound beyond ctx.
	Timeout      time.Duration
}

// Responder answers visitor messages on behalf of a chatbot.
type Responder struct {
	client Client
	cfg    ResponderConfig
	logger *logger.Logger
}

// NewResponder creates a responder on top of an LLM client.
func NewResponder(client Client, cfg ResponderConfig, log *logger.Logger) *Responder {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Responder{client: client, cfg: cfg, logger: log}
}

// Reply generates the agent answer to content, given the earlier messages of
// the session in display order.
func (r *Responder) Reply(ctx context.Context, chatbot *model.Chatbot, visitorName string, history []model.Message, content string) (*CompletionResponse, error) {
	req := &CompletionRequest{
		Model:       r.cfg.Model,
		System:      SystemPrompt(chatbot, visitorName),
		Messages:    Transcript(history, r.cfg.HistoryLimit, content),
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := r.client.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		metrics.RecordCompletion(r.client.Name(), "error", elapsed, 0, 0)
		r.logger.Error("reply generation failed",
			zap.String("provider", r.client.Name()),
			zap.Int64("chatbot_id", chatbot.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	metrics.RecordCompletion(r.client.Name(), "ok", elapsed, resp.TokensIn, resp.TokensOut)
	r.logger.Debug("reply generated",
		zap.String("provider", r.client.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	resp.Content = strings.TrimSpace(resp.Content)
	return resp, nil
}

// SystemPrompt builds the instructions for a chatbot from its characteristics.
func SystemPrompt(chatbot *model.Chatbot, visitorName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a helpful customer support assistant.", chatbot.Name)
	if visitorName != "" {
		fmt.Fprintf(&b, " You are talking to %s.", visitorName)
	}
	b.WriteString(" Keep answers short and friendly.")

	facts := lo.FilterMap(chatbot.Characteristics, func(c model.Characteristic, _ int) (string, bool) {
		text := strings.TrimSpace(c.Content)
		return text, text != ""
	})
	if len(facts) == 0 {
		b.WriteString(" If you do not know the answer, say so and suggest contacting support.")
		return b.String()
	}

	b.WriteString(" Answer only from the following information; if the answer is not there, say so and suggest contacting support.\n")
	for _, fact := range facts {
		b.WriteString("- ")
		b.WriteString(fact)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Transcript maps the last limit history messages to chat turns and appends
// content as the final user turn.
func Transcript(history []model.Message, limit int, content string) []ChatMessage {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	turns := lo.Map(history, func(m model.Message, _ int) ChatMessage {
		role := RoleUser
		if m.Sender == model.SenderAgent {
			role = RoleAssistant
		}
		return ChatMessage{Role: role, Content: m.Content}
	})
	return append(turns, ChatMessage{Role: RoleUser, Content: content})
}
