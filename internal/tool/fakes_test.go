package tool

import (
	"context"
	"sync"

	"toolchat/internal/brave"
	"toolchat/internal/google"
)

type fakeWeb struct {
	mu      sync.Mutex
	results []brave.Result
	err     error
	queries []string
	counts  []int
}

func (f *fakeWeb) Search(_ context.Context, query string, count, _ int) ([]brave.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.counts = append(f.counts, count)
	return f.results, f.err
}

type fakeMailbox struct {
	mu       sync.Mutex
	emails   []google.Email
	err      error
	drafts   []google.Draft
	draftErr error
}

func (f *fakeMailbox) Search(context.Context, string, int) ([]google.Email, error) {
	return f.emails, f.err
}

func (f *fakeMailbox) CreateDraft(_ context.Context, d google.Draft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draftErr != nil {
		return "", f.draftErr
	}
	f.drafts = append(f.drafts, d)
	return "draft-1", nil
}

type fakeFiles struct {
	files  []google.File
	err    error
	doc    google.Document
	docErr error
	max    int
}

func (f *fakeFiles) Search(_ context.Context, _ string, maxResults int) ([]google.File, error) {
	f.max = maxResults
	return f.files, f.err
}

func (f *fakeFiles) CreateDocument(context.Context, string, string) (google.Document, error) {
	return f.doc, f.docErr
}

type offlineWeb struct{ fakeWeb }

func (o *offlineWeb) Available() bool { return false }

func newRegistry(svc Services) (*Registry, error) {
	return NewServiceRegistry(NewServiceSet(svc))
}
