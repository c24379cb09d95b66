package google

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"
)

const (
	mimeGoogleDoc = "application/vnd.google-apps.document"
	fileFields    = "files(id,name,mimeType,size,modifiedTime,createdTime,webViewLink)"
)

type File struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         string `json:"size,omitempty"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
	CreatedTime  string `json:"createdTime,omitempty"`
	WebViewLink  string `json:"webViewLink,omitempty"`
}

type Document struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WebViewLink string `json:"webViewLink,omitempty"`
}

type Drive struct {
	api
	markdown goldmark.Markdown
}

func NewDrive(client *http.Client, baseURL string, log *zap.Logger) *Drive {
	return &Drive{api: newAPI(client, baseURL, log), markdown: goldmark.New()}
}

// Search lists files newest first. Plain words are turned into a full text
// query; input that already uses Drive query syntax is passed through.
func (d *Drive) Search(ctx context.Context, query string, maxResults int) ([]File, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(maxResults))
	q.Set("fields", fileFields)
	q.Set("orderBy", "modifiedTime desc")
	if dq := DriveQuery(query); dq != "" {
		q.Set("q", dq)
	}
	raw, err := d.getJSON(ctx, "/drive/v3/files?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var out []File
	gjson.GetBytes(raw, "files").ForEach(func(_, f gjson.Result) bool {
		out = append(out, File{
			ID:           f.Get("id").String(),
			Name:         f.Get("name").String(),
			MimeType:     f.Get("mimeType").String(),
			Size:         f.Get("size").String(),
			ModifiedTime: f.Get("modifiedTime").String(),
			CreatedTime:  f.Get("createdTime").String(),
			WebViewLink:  f.Get("webViewLink").String(),
		})
		return true
	})
	d.log.Debug("drive search", zap.String("query", query), zap.Int("results", len(out)))
	return out, nil
}

func DriveQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	for _, op := range []string{" contains ", "=", " in ", " has "} {
		if strings.Contains(query, op) {
			return query
		}
	}
	escaped := strings.ReplaceAll(strings.ReplaceAll(query, `\`, `\\`), `'`, `\'`)
	return fmt.Sprintf("fullText contains '%s' and trashed = false", escaped)
}

// CreateDocument creates a Google Doc and uploads content, rendered from
// markdown to HTML, as its body.
func (d *Drive) CreateDocument(ctx context.Context, title, content string) (Document, error) {
	meta := map[string]any{"name": title, "mimeType": mimeGoogleDoc}
	raw, err := d.sendJSON(ctx, http.MethodPost, "/drive/v3/files?fields="+url.QueryEscape("id,name,mimeType,webViewLink"), meta)
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		ID:          gjson.GetBytes(raw, "id").String(),
		Name:        gjson.GetBytes(raw, "name").String(),
		WebViewLink: gjson.GetBytes(raw, "webViewLink").String(),
	}
	if doc.ID == "" {
		return Document{}, errors.New("create document response has no id")
	}
	if strings.TrimSpace(content) != "" {
		html, err := d.renderHTML(content)
		if err != nil {
			return Document{}, err
		}
		path := "/upload/drive/v3/files/" + url.PathEscape(doc.ID) + "?uploadType=media"
		if _, err := d.do(ctx, http.MethodPatch, path, "text/html", bytes.NewReader(html)); err != nil {
			return Document{}, fmt.Errorf("upload document content: %w", err)
		}
	}
	d.log.Info("drive document created", zap.String("document_id", doc.ID))
	return doc, nil
}

func (d *Drive) renderHTML(content string) ([]byte, error) {
	var body bytes.Buffer
	if err := d.markdown.Convert([]byte(content), &body); err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	var out bytes.Buffer
	out.WriteString("<html><body>")
	out.Write(body.Bytes())
	out.WriteString("</body></html>")
	return out.Bytes(), nil
}
