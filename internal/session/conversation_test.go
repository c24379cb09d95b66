package session

import (
	"fmt"
	"sync"
	"testing"

	"toolchat/internal/message"
)

func TestConversationKeepsAppendOrder(t *testing.T) {
	c := NewConversation()
	for i := 0; i < 5; i++ {
		c.Append(message.UserTurn(fmt.Sprintf("turn-%d", i)))
	}
	c.Append(message.AssistantText("a"), message.AssistantText("b"))

	got := c.All()
	if len(got) != 7 {
		t.Fatalf("expected 7 turns, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[i].Text != fmt.Sprintf("turn-%d", i) {
			t.Fatalf("turn %d out of order: %q", i, got[i].Text)
		}
	}
	if got[5].Text != "a" || got[6].Text != "b" {
		t.Fatalf("multi-append out of order: %q %q", got[5].Text, got[6].Text)
	}
}

func TestConversationAllReturnsCopy(t *testing.T) {
	c := NewConversation()
	c.Append(message.UserTurn("hello"))
	got := c.All()
	got[0].Text = "mutated"
	if c.All()[0].Text != "hello" {
		t.Fatal("All must not expose internal storage")
	}
}

func TestConversationReplaceDiscardsPriorTurns(t *testing.T) {
	c := NewConversation()
	c.Append(message.UserTurn("old-1"), message.AssistantText("old-2"))

	c.Replace([]message.Turn{message.UserTurn("new-1"), message.AssistantText("new-2"), message.UserTurn("new-3")})
	got := c.All()
	if len(got) != 3 {
		t.Fatalf("expected 3 turns after replace, got %d", len(got))
	}
	for i, want := range []string{"new-1", "new-2", "new-3"} {
		if got[i].Text != want {
			t.Fatalf("turn %d: got %q want %q", i, got[i].Text, want)
		}
	}

	c.Replace(nil)
	if c.Len() != 0 {
		t.Fatalf("replace with nil should empty the store, got %d", c.Len())
	}
}

func TestConversationClearIsIdempotent(t *testing.T) {
	c := NewConversation()
	c.Append(message.UserTurn("hello"))
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty store after first clear, got %d", c.Len())
	}
	c.Clear()
	if c.Len() != 0 || len(c.All()) != 0 {
		t.Fatal("expected empty store after second clear")
	}
}

func TestConversationConcurrentAppend(t *testing.T) {
	c := NewConversation()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Append(message.UserTurn(fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()
	if c.Len() != 20 {
		t.Fatalf("expected 20 turns, got %d", c.Len())
	}
}
