package bus

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/perrindunn/muster/pkg/models"
)

func TestSendAssignsMonotonicSequence(t *testing.T) {
	b := New()
	b.Register("a1")
	b.Register("a2")

	s1, err := b.Send(models.Message{SenderID: "a1", RecipientID: "a2", Body: "first"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	s2, err := b.Send(models.Message{SenderID: "a2", RecipientID: "a1", Body: "second"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if s2 <= s1 {
		t.Errorf("expected increasing sequence, got %d then %d", s1, s2)
	}
}

func TestSendValidation(t *testing.T) {
	b := New()
	if _, err := b.Send(models.Message{RecipientID: "a2"}); err == nil {
		t.Error("expected error for missing sender")
	}
	if _, err := b.Send(models.Message{SenderID: "a1"}); err == nil {
		t.Error("expected error for missing recipient")
	}
}

func TestReceiveDirect(t *testing.T) {
	b := New()
	b.Register("a1")
	b.Register("a2")

	b.Send(models.Message{SenderID: "a1", RecipientID: "a2", Body: "for a2"})
	b.Send(models.Message{SenderID: "a1", RecipientID: "a3", Body: "for a3"})

	got := b.Receive("a2", 0)
	if len(got) != 1 || got[0].Body != "for a2" {
		t.Fatalf("expected only a2's message, got %v", got)
	}
}

func TestReceiveResumesFromCursor(t *testing.T) {
	b := New()
	b.Register("a1")
	b.Register("a2")

	b.Send(models.Message{SenderID: "a1", RecipientID: "a2", Body: "one"})
	b.Send(models.Message{SenderID: "a1", RecipientID: "a2", Body: "two"})

	first := b.Receive("a2", 0)
	if len(first) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(first))
	}

	// Resume from the last seen sequence: nothing new.
	if rest := b.Receive("a2", first[1].Sequence); len(rest) != 0 {
		t.Errorf("expected no new messages, got %d", len(rest))
	}

	// Resume from an earlier point: duplicates are tolerated, order kept.
	again := b.Receive("a2", first[0].Sequence)
	if len(again) != 1 || again[0].Body != "two" {
		t.Errorf("expected redelivery of the second message, got %v", again)
	}
}

func TestBroadcastVisibleFromJoinPoint(t *testing.T) {
	b := New()
	b.Register("a1")
	b.Register("a2")

	b.Send(models.Message{SenderID: "a1", RecipientID: models.BroadcastRecipient, Body: "early"})

	b.Register("a3") // joins after the first broadcast
	b.Send(models.Message{SenderID: "a1", RecipientID: models.BroadcastRecipient, Body: "late"})

	got := b.Receive("a3", 0)
	if len(got) != 1 || got[0].Body != "late" {
		t.Fatalf("late joiner should only see post-join broadcasts, got %v", got)
	}

	// The pre-join broadcast is still reachable through full history.
	all := b.History(0)
	if len(all) != 2 {
		t.Errorf("expected full history of 2, got %d", len(all))
	}
}

func TestBroadcastNotEchoedToSender(t *testing.T) {
	b := New()
	b.Register("a1")
	b.Register("a2")

	b.Send(models.Message{SenderID: "a1", RecipientID: models.BroadcastRecipient, Body: "hello"})

	if got := b.Receive("a1", 0); len(got) != 0 {
		t.Errorf("sender should not receive its own broadcast, got %v", got)
	}
	if got := b.Receive("a2", 0); len(got) != 1 {
		t.Errorf("expected a2 to receive the broadcast, got %d", len(got))
	}
}

func TestOrderingPerRecipient(t *testing.T) {
	b := New()
	b.Register("a1")
	b.Register("a2")

	for i := 0; i < 10; i++ {
		b.Send(models.Message{SenderID: "a1", RecipientID: "a2", Body: fmt.Sprintf("m%d", i)})
	}

	got := b.Receive("a2", 0)
	var last uint64
	for _, msg := range got {
		if msg.Sequence < last {
			t.Fatalf("sequence went backwards: %d after %d", msg.Sequence, last)
		}
		last = msg.Sequence
	}
}

func TestConcurrentSenders(t *testing.T) {
	b := New()
	b.Register("sink")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sender := fmt.Sprintf("a%d", n)
			b.Register(sender)
			for j := 0; j < 25; j++ {
				if _, err := b.Send(models.Message{SenderID: sender, RecipientID: "sink", Body: "x"}); err != nil {
					t.Errorf("send: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	got := b.Receive("sink", 0)
	if len(got) != 200 {
		t.Fatalf("expected 200 messages, got %d", len(got))
	}
	seen := make(map[uint64]bool)
	for _, msg := range got {
		if seen[msg.Sequence] {
			t.Fatalf("duplicate sequence %d", msg.Sequence)
		}
		seen[msg.Sequence] = true
	}
}

func TestActiveAgents(t *testing.T) {
	b := New()
	b.Register("b")
	b.Register("a")
	b.Register("c")
	b.Deregister("b")

	got := b.ActiveAgents()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("expected [a c], got %v", got)
	}
}

func TestCloseStopsSendsKeepsHistory(t *testing.T) {
	b := New()
	b.Register("a1")
	b.Register("a2")
	b.Send(models.Message{SenderID: "a1", RecipientID: "a2", Body: "before close"})

	b.Close()

	if _, err := b.Send(models.Message{SenderID: "a1", RecipientID: "a2", Body: "after"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if got := b.History(0); len(got) != 1 {
		t.Errorf("history should survive close, got %d messages", len(got))
	}
}
