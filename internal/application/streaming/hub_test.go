package streaming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
)

func drain(t *testing.T, ch <-chan models.StreamChunk) []models.StreamChunk {
	t.Helper()
	var out []models.StreamChunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("subscriber did not close")
			return nil
		}
	}
}

func TestHub_SingleStreamPerConversation(t *testing.T) {
	hub := NewHub()

	s, err := hub.Start("conv_1", "msg_2", func() {})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := hub.Start("conv_1", "msg_3", func() {}); !errors.Is(err, domain.ErrStreamInProgress) {
		t.Errorf("expected ErrStreamInProgress, got %v", err)
	}

	state := hub.State("conv_1")
	if !state.IsStreaming || state.MessageID != "msg_2" {
		t.Errorf("unexpected state %#v", state)
	}

	s.Finish()
	if hub.State("conv_1").IsStreaming {
		t.Error("finished stream should be removed")
	}
	if _, err := hub.Start("conv_1", "msg_3", func() {}); err != nil {
		t.Errorf("expected restart after finish, got %v", err)
	}
}

func TestHub_SubscribeReplaysThenFollows(t *testing.T) {
	hub := NewHub(WithSubscriberBuffer(1))
	s, _ := hub.Start("conv_1", "msg_2", func() {})

	s.Publish(models.StreamChunk{Content: "a"})
	s.Publish(models.StreamChunk{Content: "b"})

	ch, messageID, err := hub.Subscribe(context.Background(), "conv_1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if messageID != "msg_2" {
		t.Errorf("expected msg_2, got %s", messageID)
	}

	go func() {
		s.Publish(models.StreamChunk{Content: "c"})
		s.Publish(models.StreamChunk{Done: true})
		s.Finish()
	}()

	chunks := drain(t, ch)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	var text string
	for _, c := range chunks[:3] {
		text += c.Content
	}
	if text != "abc" {
		t.Errorf("expected replay+live abc, got %q", text)
	}
	if !chunks[3].Done {
		t.Error("expected terminal chunk last")
	}
}

func TestHub_TwoSubscribersSeeSameLog(t *testing.T) {
	hub := NewHub()
	s, _ := hub.Start("conv_1", "msg_2", func() {})

	first, _, _ := hub.Subscribe(context.Background(), "conv_1")
	s.Publish(models.StreamChunk{Content: "x"})
	second, _, _ := hub.Subscribe(context.Background(), "conv_1")
	s.Publish(models.StreamChunk{Content: "y"})
	s.Finish()

	a, b := drain(t, first), drain(t, second)
	if len(a) != 2 || len(b) != 2 {
		t.Errorf("expected both subscribers to see 2 chunks, got %d and %d", len(a), len(b))
	}
}

func TestHub_SubscribeWithoutStream(t *testing.T) {
	hub := NewHub()
	if _, _, err := hub.Subscribe(context.Background(), "conv_none"); !errors.Is(err, domain.ErrNoActiveStream) {
		t.Errorf("expected ErrNoActiveStream, got %v", err)
	}
	if err := hub.Cancel("conv_none"); !errors.Is(err, domain.ErrNoActiveStream) {
		t.Errorf("expected ErrNoActiveStream, got %v", err)
	}
}

func TestHub_CancelInvokesProducer(t *testing.T) {
	hub := NewHub()
	cancelled := make(chan struct{})
	hub.Start("conv_1", "msg_2", func() { close(cancelled) })

	if err := hub.Cancel("conv_1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("cancel func not called")
	}
}

func TestHub_SubscriberContextEnds(t *testing.T) {
	hub := NewHub()
	s, _ := hub.Start("conv_1", "msg_2", func() {})
	defer s.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _, _ := hub.Subscribe(ctx, "conv_1")
	cancel()

	if got := drain(t, ch); len(got) != 0 {
		t.Errorf("expected no chunks, got %d", len(got))
	}
}

func TestHub_CancelAll(t *testing.T) {
	hub := NewHub()
	calls := 0
	hub.Start("conv_1", "m1", func() { calls++ })
	hub.Start("conv_2", "m2", func() { calls++ })

	if n := hub.CancelAll(); n != 2 {
		t.Errorf("expected 2 streams cancelled, got %d", n)
	}
	if calls != 2 {
		t.Errorf("expected 2 cancel calls, got %d", calls)
	}
}
