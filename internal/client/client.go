// Package client talks to the support chat backend on behalf of the widget.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/pkg/tracing"
)

const maxResponseBytes = 4 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Client is the REST client for the support chat API. It serves the widget
// as session creator, message reader, chatbot reader and deliverer.
type Client struct {
	baseURL     string
	deliveryURL string
	http        *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDeliveryURL posts messages to url instead of {baseURL}/api/send-message.
func WithDeliveryURL(url string) Option {
	return func(c *Client) { c.deliveryURL = url }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:     baseURL,
		deliveryURL: baseURL + "/api/send-message",
		http:        &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateChatSession creates a session for a visitor.
func (c *Client) CreateChatSession(ctx context.Context, req model.CreateChatSessionRequest) (*model.ChatSession, error) {
	var session model.ChatSession
	if err := c.do(ctx, "CreateChatSession", http.MethodPost, c.baseURL+"/api/chat-sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetMessagesByChatSessionID lists a session's messages.
func (c *Client) GetMessagesByChatSessionID(ctx context.Context, sessionID int64) ([]model.Message, error) {
	url := c.baseURL + "/api/chat-sessions/" + strconv.FormatInt(sessionID, 10) + "/messages"
	var resp model.ListMessagesResponse
	if err := c.do(ctx, "GetMessagesByChatSessionID", http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []model.Message{}
	}
	return resp.Messages, nil
}

// GetChatbotByID loads a chatbot.
func (c *Client) GetChatbotByID(ctx context.Context, id int64) (*model.Chatbot, error) {
	var bot model.Chatbot
	url := c.baseURL + "/api/chatbots/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, "GetChatbotByID", http.MethodGet, url, nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// Deliver posts a visitor message and returns the agent reply.
func (c *Client) Deliver(ctx context.Context, req model.DeliveryRequest) (*model.DeliveryReply, error) {
	var reply model.DeliveryReply
	if err := c.do(ctx, "Deliver", http.MethodPost, c.deliveryURL, req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) do(ctx context.Context, op, method, url string, body, out interface{}) error {
	ctx, span := tracing.Tracer("client").Start(ctx, "client."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	)

	err := sendJSON(ctx, c.http, method, url, nil, body, out, span.SetAttributes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// sendJSON encodes body, sends the request and decodes a 2xx response into out.
func sendJSON(
	ctx context.Context,
	hc *http.Client,
	method, url string,
	header http.Header,
	body, out interface{},
	annotate func(...attribute.KeyValue),
) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	annotate(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
