package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool"
)

type BlockKind string

const (
	KindThinking    BlockKind = "thinking"
	KindText        BlockKind = "text"
	KindToolRequest BlockKind = "tool_request"
)

// Block is one typed fragment of an assistant response. Body is set for
// thinking and text blocks, Calls for tool requests.
type Block struct {
	Kind      BlockKind  `json:"kind"`
	Body      string     `json:"body,omitempty"`
	Signature string     `json:"signature,omitempty"`
	Calls     []ToolCall `json:"calls,omitempty"`
}

func Thinking(body, signature string) Block {
	return Block{Kind: KindThinking, Body: body, Signature: signature}
}

func Text(body string) Block {
	return Block{Kind: KindText, Body: body}
}

func ToolRequest(calls ...ToolCall) Block {
	return Block{Kind: KindToolRequest, Calls: calls}
}

type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult correlates an outcome with the call that produced it. Outcome is
// either the capability payload or {"error": "..."}.
type ToolResult struct {
	CallID  string         `json:"call_id"`
	Outcome map[string]any `json:"outcome"`
}

func (r ToolResult) Failed() bool {
	_, ok := r.Outcome["error"]
	return ok
}

// Turn is one role-tagged entry of a conversation. Content is either Text or
// Blocks; a turn with Blocks set is structured even if Text is also non-empty.
type Turn struct {
	Role      Role        `json:"role"`
	Text      string      `json:"text,omitempty"`
	Blocks    []Block     `json:"blocks,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text, CreatedAt: time.Now().UTC()}
}

func AssistantText(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text, CreatedAt: time.Now().UTC()}
}

func AssistantBlocks(blocks []Block) Turn {
	return Turn{Role: RoleAssistant, Blocks: append([]Block(nil), blocks...), CreatedAt: time.Now().UTC()}
}

func ToolResultTurn(result ToolResult) Turn {
	r := result
	return Turn{Role: RoleToolResult, Result: &r, CreatedAt: time.Now().UTC()}
}

func (t Turn) Structured() bool {
	return len(t.Blocks) > 0
}

// PlainText renders the visible text of a turn: the raw text, the joined text
// blocks of an assistant turn, or the encoded outcome of a tool result.
func (t Turn) PlainText() string {
	switch {
	case t.Result != nil:
		raw, _ := json.Marshal(t.Result.Outcome)
		return string(raw)
	case len(t.Blocks) > 0:
		parts := make([]string, 0, len(t.Blocks))
		for _, b := range t.Blocks {
			if b.Kind == KindText && strings.TrimSpace(b.Body) != "" {
				parts = append(parts, b.Body)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return t.Text
	}
}

func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser, RoleAssistant:
		return nil
	case RoleToolResult:
		if t.Result == nil {
			return errors.New("tool result turn without result")
		}
		if strings.TrimSpace(t.Result.CallID) == "" {
			return errors.New("tool result turn without call id")
		}
		return nil
	default:
		return fmt.Errorf("unknown role %q", t.Role)
	}
}

// Response is what a transport returns for one send: either a bare answer
// string or an ordered sequence of content blocks.
type Response struct {
	plain      string
	blocks     []Block
	structured bool
}

func PlainResponse(text string) Response {
	return Response{plain: text}
}

func StructuredResponse(blocks []Block) Response {
	return Response{blocks: append([]Block(nil), blocks...), structured: true}
}

func (r Response) IsStructured() bool {
	return r.structured
}

func (r Response) Plain() string {
	return r.plain
}

func (r Response) Blocks() []Block {
	return append([]Block(nil), r.blocks...)
}
