package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"toolchat/internal/message"
)

const (
	DefaultBaseURL     = "https://api.anthropic.com"
	DefaultAPIVersion  = "2023-06-01"
	ExtendedOutputBeta = "output-128k-2025-02-19"

	maxResponseBytes = 8 * 1024 * 1024
)

type AnthropicProvider struct {
	baseURL        string
	apiKey         string
	version        string
	httpClient     *http.Client
	requestTimeout time.Duration
	log            *zap.Logger
}

func NewAnthropicProvider(baseURL, apiKey, version string, timeout time.Duration, log *zap.Logger) *AnthropicProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version = strings.TrimSpace(version)
	if version == "" {
		version = DefaultAPIVersion
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AnthropicProvider{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(apiKey),
		version:        version,
		httpClient:     &http.Client{},
		requestTimeout: timeout,
		log:            log,
	}
}

func (p *AnthropicProvider) HasAPIKey() bool {
	return p.apiKey != ""
}

type apiContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Thinking    *apiThinking `json:"thinking,omitempty"`
	Tools       []ToolSpec   `json:"tools,omitempty"`
}

type apiResponse struct {
	ID         string       `json:"id"`
	Model      string       `json:"model"`
	StopReason string       `json:"stop_reason"`
	Content    []apiContent `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Send(ctx context.Context, req Request) (message.Response, error) {
	if p.apiKey == "" {
		return message.Response{}, errors.New("ANTHROPIC_API_KEY is required")
	}
	body, err := buildRequest(req)
	if err != nil {
		return message.Response{}, err
	}
	rawBody, err := json.Marshal(body)
	if err != nil {
		return message.Response{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(rawBody))
	if err != nil {
		return message.Response{}, err
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.version)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.ExtendedOutput {
		httpReq.Header.Set("anthropic-beta", ExtendedOutputBeta)
	}

	started := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		err = classifyTransportError(err)
		p.log.Warn("send failed", zap.String("model", req.Model), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return message.Response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return message.Response{}, classifyTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		var parsed apiError
		if json.Unmarshal(raw, &parsed) == nil {
			statusErr.Type = parsed.Error.Type
			statusErr.Message = parsed.Error.Message
		}
		p.log.Warn("send rejected", zap.String("model", req.Model), zap.Int("status", resp.StatusCode), zap.String("type", statusErr.Type))
		return message.Response{}, statusErr
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return message.Response{}, fmt.Errorf("%w: decode messages response: %v", ErrMalformedResponse, err)
	}
	p.log.Debug("send complete",
		zap.String("model", req.Model),
		zap.Int("turns", len(req.Turns)),
		zap.Int("tools", len(req.Tools)),
		zap.Bool("deliberation", body.Thinking != nil),
		zap.String("stop_reason", parsed.StopReason),
		zap.Int("input_tokens", parsed.Usage.InputTokens),
		zap.Int("output_tokens", parsed.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(started)),
	)
	return decodeContent(parsed.Content, req.Deliberation)
}

func buildRequest(req Request) (apiRequest, error) {
	if strings.TrimSpace(req.Model) == "" {
		return apiRequest{}, errors.New("model is required")
	}
	if req.MaxTokens <= 0 {
		return apiRequest{}, errors.New("max tokens must be positive")
	}
	messages := encodeTurns(req.Turns)
	if len(messages) == 0 {
		return apiRequest{}, errors.New("messages cannot be empty")
	}
	out := apiRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      strings.TrimSpace(req.System),
		Messages:    messages,
		Tools:       req.Tools,
	}
	if req.Deliberation {
		if budget := DeliberationBudget(req.DeliberationBudget, req.MaxTokens); budget > 0 {
			out.Thinking = &apiThinking{Type: "enabled", BudgetTokens: budget}
			out.Temperature = DeliberationTemperature
		}
	}
	return out, nil
}

// encodeTurns maps history onto API messages. Tool results are sent as user
// text because the requesting assistant turn is not part of history, and
// consecutive messages of one role are merged.
func encodeTurns(turns []message.Turn) []apiMessage {
	out := make([]apiMessage, 0, len(turns))
	for _, turn := range turns {
		var role string
		var content []apiContent
		switch turn.Role {
		case message.RoleUser:
			role = "user"
			if strings.TrimSpace(turn.Text) != "" {
				content = append(content, apiContent{Type: "text", Text: turn.Text})
			}
		case message.RoleToolResult:
			if turn.Result == nil {
				continue
			}
			role = "user"
			content = append(content, apiContent{
				Type: "text",
				Text: fmt.Sprintf("[tool result %s] %s", turn.Result.CallID, turn.PlainText()),
			})
		case message.RoleAssistant:
			role = "assistant"
			content = encodeAssistant(turn)
		default:
			continue
		}
		if len(content) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, content...)
			continue
		}
		out = append(out, apiMessage{Role: role, Content: content})
	}
	return out
}

func encodeAssistant(turn message.Turn) []apiContent {
	if !turn.Structured() {
		if strings.TrimSpace(turn.Text) == "" {
			return nil
		}
		return []apiContent{{Type: "text", Text: turn.Text}}
	}
	var content []apiContent
	for _, b := range turn.Blocks {
		switch b.Kind {
		case message.KindThinking:
			if b.Signature != "" {
				content = append(content, apiContent{Type: "thinking", Thinking: b.Body, Signature: b.Signature})
			}
		case message.KindText:
			if strings.TrimSpace(b.Body) != "" {
				content = append(content, apiContent{Type: "text", Text: b.Body})
			}
		}
	}
	hasText := false
	for _, c := range content {
		if c.Type == "text" {
			hasText = true
			break
		}
	}
	if !hasText {
		return nil
	}
	return content
}

// decodeContent returns the full block sequence when deliberation is on or the
// reply requests tools, and the first text body otherwise.
func decodeContent(content []apiContent, deliberation bool) (message.Response, error) {
	blocks := make([]message.Block, 0, len(content))
	hasToolUse := false
	for _, c := range content {
		switch c.Type {
		case "thinking":
			blocks = append(blocks, message.Thinking(c.Thinking, c.Signature))
		case "text":
			blocks = append(blocks, message.Text(c.Text))
		case "tool_use":
			hasToolUse = true
			args := map[string]any{}
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &args); err != nil {
					return message.Response{}, fmt.Errorf("%w: tool_use %s input: %v", ErrMalformedResponse, c.ID, err)
				}
			}
			call := message.ToolCall{ID: c.ID, Name: c.Name, Arguments: args}
			if n := len(blocks); n > 0 && blocks[n-1].Kind == message.KindToolRequest {
				blocks[n-1].Calls = append(blocks[n-1].Calls, call)
				continue
			}
			blocks = append(blocks, message.ToolRequest(call))
		}
	}
	if deliberation || hasToolUse {
		return message.StructuredResponse(blocks), nil
	}
	for _, b := range blocks {
		if b.Kind == message.KindText {
			return message.PlainResponse(b.Body), nil
		}
	}
	return message.PlainResponse(""), nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request canceled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}
