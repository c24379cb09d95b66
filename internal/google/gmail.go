package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

type Email struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

type Draft struct {
	To      string
	Subject string
	Body    string
	Cc      string
	Bcc     string
}

type DraftSummary struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
}

type Gmail struct {
	api
}

func NewGmail(client *http.Client, baseURL string, log *zap.Logger) *Gmail {
	return &Gmail{api: newAPI(client, baseURL, log)}
}

// Search lists messages matching a Gmail query and fetches their headers.
func (g *Gmail) Search(ctx context.Context, query string, maxResults int) ([]Email, error) {
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(maxResults))
	if strings.TrimSpace(query) != "" {
		q.Set("q", query)
	}
	raw, err := g.getJSON(ctx, "/gmail/v1/users/me/messages?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var ids []string
	gjson.GetBytes(raw, "messages.#.id").ForEach(func(_, v gjson.Result) bool {
		ids = append(ids, v.String())
		return true
	})

	out := make([]Email, 0, len(ids))
	for _, id := range ids {
		meta := url.Values{}
		meta.Set("format", "metadata")
		for _, h := range []string{"From", "Subject", "Date"} {
			meta.Add("metadataHeaders", h)
		}
		msg, err := g.getJSON(ctx, "/gmail/v1/users/me/messages/"+url.PathEscape(id)+"?"+meta.Encode())
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", id, err)
		}
		out = append(out, Email{
			ID:      id,
			From:    header(msg, "From"),
			Subject: header(msg, "Subject"),
			Date:    header(msg, "Date"),
			Snippet: gjson.GetBytes(msg, "snippet").String(),
		})
	}
	g.log.Debug("gmail search", zap.String("query", query), zap.Int("results", len(out)))
	return out, nil
}

func header(msg []byte, name string) string {
	var value string
	gjson.GetBytes(msg, "payload.headers").ForEach(func(_, h gjson.Result) bool {
		if strings.EqualFold(h.Get("name").String(), name) {
			value = h.Get("value").String()
			return false
		}
		return true
	})
	return value
}

// CreateDraft stores a plain text draft and returns its id.
func (g *Gmail) CreateDraft(ctx context.Context, d Draft) (string, error) {
	raw, err := BuildMIME(d)
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"message": map[string]string{"raw": base64.URLEncoding.EncodeToString(raw)},
	}
	resp, err := g.sendJSON(ctx, http.MethodPost, "/gmail/v1/users/me/drafts", payload)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(resp, "id").String()
	if id == "" {
		return "", errors.New("draft response has no id")
	}
	g.log.Info("gmail draft created", zap.String("draft_id", id))
	return id, nil
}

// ListDrafts returns the most recent drafts with their recipient and subject.
func (g *Gmail) ListDrafts(ctx context.Context, maxResults int) ([]DraftSummary, error) {
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(maxResults))
	raw, err := g.getJSON(ctx, "/gmail/v1/users/me/drafts?"+q.Encode())
	if err != nil {
		return nil, err
	}
	drafts := gjson.GetBytes(raw, "drafts.#.id").Array()
	out := make([]DraftSummary, 0, len(drafts))
	for _, v := range drafts {
		id := v.String()
		meta := url.Values{}
		meta.Set("format", "metadata")
		d, err := g.getJSON(ctx, "/gmail/v1/users/me/drafts/"+url.PathEscape(id)+"?"+meta.Encode())
		if err != nil {
			return nil, fmt.Errorf("get draft %s: %w", id, err)
		}
		msg := []byte(gjson.GetBytes(d, "message").Raw)
		out = append(out, DraftSummary{ID: id, To: header(msg, "To"), Subject: header(msg, "Subject")})
	}
	g.log.Debug("gmail drafts listed", zap.Int("results", len(out)))
	return out, nil
}

// BuildMIME renders a draft as an RFC 5322 message.
func BuildMIME(d Draft) ([]byte, error) {
	to := splitAddresses(d.To)
	if len(to) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	msg := mail.NewMsg()
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	if cc := splitAddresses(d.Cc); len(cc) > 0 {
		if err := msg.Cc(cc...); err != nil {
			return nil, fmt.Errorf("invalid cc address: %w", err)
		}
	}
	bcc := splitAddresses(d.Bcc)
	if len(bcc) > 0 {
		if err := msg.Bcc(bcc...); err != nil {
			return nil, fmt.Errorf("invalid bcc address: %w", err)
		}
	}
	msg.Subject(d.Subject)
	msg.SetBodyString(mail.TypeTextPlain, d.Body)

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render draft: %w", err)
	}
	raw := buf.Bytes()
	// the writer leaves Bcc out of the headers; Gmail reads it from the draft
	if len(bcc) > 0 && !bytes.Contains(raw, []byte("\r\nBcc:")) && !bytes.HasPrefix(raw, []byte("Bcc:")) {
		raw = append([]byte("Bcc: "+strings.Join(bcc, ", ")+"\r\n"), raw...)
	}
	return raw, nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
