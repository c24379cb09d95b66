package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"toolchat/internal/brave"
	"toolchat/internal/google"
)

type WebSearcher interface {
	Search(ctx context.Context, query string, count, offset int) ([]brave.Result, error)
}

type Mailbox interface {
	Search(ctx context.Context, query string, maxResults int) ([]google.Email, error)
	CreateDraft(ctx context.Context, d google.Draft) (string, error)
}

type FileStore interface {
	Search(ctx context.Context, query string, maxResults int) ([]google.File, error)
	CreateDocument(ctx context.Context, title, content string) (google.Document, error)
}

// Services are the external collaborators behind the capabilities. A nil
// service, or one reporting Available() == false, is treated as not set up.
type Services struct {
	Web   WebSearcher
	Mail  Mailbox
	Files FileStore
}

// ServiceSet holds the Services the capabilities call. Store swaps them
// for every later invocation, so collaborators can be rebuilt after
// authorization without rebuilding the registry.
type ServiceSet struct {
	mu  sync.RWMutex
	svc Services
}

func NewServiceSet(svc Services) *ServiceSet {
	return &ServiceSet{svc: svc}
}

func (s *ServiceSet) Load() Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc
}

func (s *ServiceSet) Store(svc Services) {
	s.mu.Lock()
	s.svc = svc
	s.mu.Unlock()
}

// UnavailableError is returned when the collaborator for a capability has
// not been configured or authenticated.
type UnavailableError struct {
	Service string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s service not initialized. Run setup first.", e.Service)
}

func available(svc any) bool {
	if svc == nil {
		return false
	}
	if a, ok := svc.(interface{ Available() bool }); ok {
		return a.Available()
	}
	return true
}

const (
	NameSearchWeb        = "search_web"
	NameSearchEmails     = "search_emails"
	NameSearchFiles      = "search_files"
	NameCreateDraftEmail = "create_draft_email"
	NameCreateDocument   = "create_document"
)

// NewServiceRegistry declares the five capabilities over set.
func NewServiceRegistry(set *ServiceSet) (*Registry, error) {
	reg := NewRegistry()
	for _, c := range []Capability{
		&searchWeb{set: set},
		&searchEmails{set: set},
		&searchFiles{set: set},
		&createDraftEmail{set: set},
		&createDocument{set: set},
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

type searchWeb struct{ set *ServiceSet }

func (c *searchWeb) Name() string        { return NameSearchWeb }
func (c *searchWeb) Description() string { return "Search the web for information using Brave Search" }
func (c *searchWeb) Mutating() bool      { return false }
func (c *searchWeb) Schema() []byte {
	lo, hi := intRange(1, 20)
	return mustSchema(map[string]property{
		"query": {Type: "string", Description: "The search query"},
		"count": {Type: "integer", Description: "Number of results to return (max 20)", Default: 5, Minimum: lo, Maximum: hi},
	}, "query")
}

func (c *searchWeb) Invoke(ctx context.Context, raw json.RawMessage) (Outcome, error) {
	var in struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	svc := c.set.Load().Web
	if !available(svc) {
		return nil, &UnavailableError{Service: "Brave Search"}
	}
	if err := decodeArgs(NameSearchWeb, raw, &in, map[string]*string{"query": &in.Query}); err != nil {
		return nil, err
	}
	results, err := svc.Search(ctx, in.Query, clampInt(in.Count, 5, 1, 20), 0)
	if err != nil {
		return nil, fmt.Errorf("Error performing web search: %v", err)
	}
	if results == nil {
		results = []brave.Result{}
	}
	return Outcome{"results": results}, nil
}

type searchEmails struct{ set *ServiceSet }

func (c *searchEmails) Name() string        { return NameSearchEmails }
func (c *searchEmails) Description() string { return "Search for emails in Gmail" }
func (c *searchEmails) Mutating() bool      { return false }
func (c *searchEmails) Schema() []byte {
	lo, hi := intRange(1, 50)
	return mustSchema(map[string]property{
		"query":       {Type: "string", Description: "The search query for emails, Gmail search syntax is supported"},
		"max_results": {Type: "integer", Description: "Maximum number of emails to return", Default: 5, Minimum: lo, Maximum: hi},
	}, "query")
}

func (c *searchEmails) Invoke(ctx context.Context, raw json.RawMessage) (Outcome, error) {
	var in struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	svc := c.set.Load().Mail
	if !available(svc) {
		return nil, &UnavailableError{Service: "Gmail"}
	}
	if err := decodeArgs(NameSearchEmails, raw, &in, map[string]*string{"query": &in.Query}); err != nil {
		return nil, err
	}
	emails, err := svc.Search(ctx, in.Query, clampInt(in.MaxResults, 5, 1, 50))
	if err != nil {
		return nil, fmt.Errorf("Error searching emails: %v", err)
	}
	if emails == nil {
		emails = []google.Email{}
	}
	return Outcome{"emails": emails}, nil
}

type searchFiles struct{ set *ServiceSet }

func (c *searchFiles) Name() string        { return NameSearchFiles }
func (c *searchFiles) Description() string { return "Search for files in Google Drive" }
func (c *searchFiles) Mutating() bool      { return false }
func (c *searchFiles) Schema() []byte {
	lo, hi := intRange(1, 100)
	return mustSchema(map[string]property{
		"query":       {Type: "string", Description: "The search query for files"},
		"max_results": {Type: "integer", Description: "Maximum number of files to return", Default: 10, Minimum: lo, Maximum: hi},
	}, "query")
}

func (c *searchFiles) Invoke(ctx context.Context, raw json.RawMessage) (Outcome, error) {
	var in struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	svc := c.set.Load().Files
	if !available(svc) {
		return nil, &UnavailableError{Service: "Drive"}
	}
	if err := decodeArgs(NameSearchFiles, raw, &in, map[string]*string{"query": &in.Query}); err != nil {
		return nil, err
	}
	files, err := svc.Search(ctx, in.Query, clampInt(in.MaxResults, 10, 1, 100))
	if err != nil {
		return nil, fmt.Errorf("Error searching files: %v", err)
	}
	if files == nil {
		files = []google.File{}
	}
	return Outcome{"files": files}, nil
}

type createDraftEmail struct{ set *ServiceSet }

func (c *createDraftEmail) Name() string        { return NameCreateDraftEmail }
func (c *createDraftEmail) Description() string { return "Create a draft email in Gmail" }
func (c *createDraftEmail) Mutating() bool      { return true }
func (c *createDraftEmail) Schema() []byte {
	return mustSchema(map[string]property{
		"to":      {Type: "string", Description: "Email recipient(s), comma separated"},
		"subject": {Type: "string", Description: "Email subject"},
		"body":    {Type: "string", Description: "Email body content"},
		"cc":      {Type: "string", Description: "CC recipients"},
		"bcc":     {Type: "string", Description: "BCC recipients"},
	}, "to", "subject", "body")
}

func (c *createDraftEmail) Invoke(ctx context.Context, raw json.RawMessage) (Outcome, error) {
	var in struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
		Cc      string `json:"cc"`
		Bcc     string `json:"bcc"`
	}
	required := map[string]*string{"to": &in.To, "subject": &in.Subject, "body": &in.Body}
	svc := c.set.Load().Mail
	if !available(svc) {
		return nil, &UnavailableError{Service: "Gmail"}
	}
	if err := decodeArgs(NameCreateDraftEmail, raw, &in, required); err != nil {
		return nil, err
	}
	id, err := svc.CreateDraft(ctx, google.Draft{To: in.To, Subject: in.Subject, Body: in.Body, Cc: in.Cc, Bcc: in.Bcc})
	if err != nil {
		return nil, fmt.Errorf("Error creating email draft: %v", err)
	}
	return Outcome{"draft_id": id, "status": "success"}, nil
}

type createDocument struct{ set *ServiceSet }

func (c *createDocument) Name() string        { return NameCreateDocument }
func (c *createDocument) Description() string { return "Create a new Google Doc with content" }
func (c *createDocument) Mutating() bool      { return true }
func (c *createDocument) Schema() []byte {
	return mustSchema(map[string]property{
		"title":   {Type: "string", Description: "Document title"},
		"content": {Type: "string", Description: "Document content, markdown is rendered"},
	}, "title", "content")
}

func (c *createDocument) Invoke(ctx context.Context, raw json.RawMessage) (Outcome, error) {
	var in struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	svc := c.set.Load().Files
	if !available(svc) {
		return nil, &UnavailableError{Service: "Drive"}
	}
	if err := decodeArgs(NameCreateDocument, raw, &in, map[string]*string{"title": &in.Title, "content": &in.Content}); err != nil {
		return nil, err
	}
	doc, err := svc.CreateDocument(ctx, in.Title, in.Content)
	if err != nil {
		return nil, fmt.Errorf("Error creating document: %v", err)
	}
	link := doc.WebViewLink
	if link == "" {
		link = "Not available"
	}
	title := doc.Name
	if title == "" {
		title = in.Title
	}
	return Outcome{"document_id": doc.ID, "title": title, "link": link, "status": "success"}, nil
}
