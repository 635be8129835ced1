package thread

import (
	"context"
	"errors"
	"testing"

	"github.com/longregen/chattree/internal/domain/models"
)

func newTarget() *models.Message {
	parent := "u1"
	return models.NewAssistantPlaceholder("a1", &parent)
}

func text(s string) models.StreamChunk {
	return models.StreamChunk{Role: models.MessageRoleAssistant, Content: s}
}

func TestAggregator_CoalescesText(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	for _, frag := range []string{"a", "b", "c"} {
		agg.Apply(text(frag))
	}

	if len(target.Content) != 1 {
		t.Fatalf("expected 1 part, got %d", len(target.Content))
	}
	part, ok := target.Content[0].(*models.TextPart)
	if !ok {
		t.Fatalf("expected text part, got %T", target.Content[0])
	}
	if part.Text != "abc" {
		t.Errorf("expected abc, got %q", part.Text)
	}
}

func TestAggregator_ReasoningThenText(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	agg.Apply(models.StreamChunk{Reasoning: "think"})
	agg.Apply(models.StreamChunk{Reasoning: "ing"})
	agg.Apply(text("answer"))
	agg.Apply(models.StreamChunk{Reasoning: "more"})

	if len(target.Content) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(target.Content))
	}
	if r := target.Content[0].(*models.ReasoningPart); r.Text != "thinking" {
		t.Errorf("expected coalesced reasoning, got %q", r.Text)
	}
	if _, ok := target.Content[2].(*models.ReasoningPart); !ok {
		t.Errorf("expected new reasoning part after text, got %T", target.Content[2])
	}
}

func TestAggregator_ToolCallArgsAccumulate(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	agg.Apply(models.StreamChunk{ToolCalls: []models.ToolCallDelta{{ID: "t1", Name: "calc", Arguments: `{"x":`}}})
	agg.Apply(models.StreamChunk{ToolCalls: []models.ToolCallDelta{{ID: "t1", Arguments: `1}`}}})

	if len(target.Content) != 1 {
		t.Fatalf("expected 1 part, got %d", len(target.Content))
	}
	tc := target.Content[0].(*models.ToolCallPart)
	if tc.ArgsText != `{"x":1}` {
		t.Errorf("expected {\"x\":1}, got %q", tc.ArgsText)
	}
	if tc.ToolName != "calc" {
		t.Errorf("expected name calc, got %q", tc.ToolName)
	}
}

func TestAggregator_ToolResultAttaches(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	agg.Apply(models.StreamChunk{ToolCalls: []models.ToolCallDelta{{ID: "t1", Name: "calc", Arguments: "{}"}}})
	before := len(target.Content)

	agg.Apply(models.StreamChunk{Role: models.MessageRoleTool, ToolCallID: "t1", Content: "42"})

	if len(target.Content) != before {
		t.Errorf("tool result changed part count from %d to %d", before, len(target.Content))
	}
	tc := target.Content[0].(*models.ToolCallPart)
	if tc.Result == nil || *tc.Result != "42" {
		t.Errorf("expected result 42, got %v", tc.Result)
	}
}

func TestAggregator_OrphanToolResultBuffered(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	agg.Apply(models.StreamChunk{Role: models.MessageRoleTool, ToolCallID: "t9", Content: "early"})
	if len(target.Content) != 0 {
		t.Fatalf("orphan result must not create a visible part, got %d parts", len(target.Content))
	}

	agg.Apply(models.StreamChunk{ToolCalls: []models.ToolCallDelta{{ID: "t9", Name: "lookup"}}})
	tc := target.Content[0].(*models.ToolCallPart)
	if tc.Result == nil || *tc.Result != "early" {
		t.Errorf("expected buffered result attached, got %v", tc.Result)
	}
}

func TestAggregator_IgnoresRoundMarkers(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	agg.Apply(text("one"))
	agg.Apply(models.StreamChunk{Role: models.MessageRoleAssistant})
	agg.Apply(text(" two"))

	if len(target.Content) != 1 {
		t.Fatalf("expected round marker to be ignored, got %d parts", len(target.Content))
	}
	if got := target.Text(); got != "one two" {
		t.Errorf("expected %q, got %q", "one two", got)
	}
}

func TestAggregator_HidesEmptyParts(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	// a tool call whose name has not arrived yet stays hidden
	agg.Apply(models.StreamChunk{ToolCalls: []models.ToolCallDelta{{ID: "t1", Arguments: "{"}}})
	if len(target.Content) != 0 {
		t.Errorf("expected no visible parts, got %d", len(target.Content))
	}

	agg.Apply(models.StreamChunk{ToolCalls: []models.ToolCallDelta{{ID: "t1", Name: "search"}}})
	if len(target.Content) != 1 {
		t.Errorf("expected tool call visible once named, got %d", len(target.Content))
	}
}

func TestAggregator_TerminalStates(t *testing.T) {
	t.Run("complete freezes content", func(t *testing.T) {
		target := newTarget()
		agg := NewAggregator(target)
		agg.Apply(text("done"))
		agg.Complete()
		agg.Apply(text(" later"))

		if target.Status != models.MessageStatusComplete {
			t.Errorf("expected complete, got %s", target.Status)
		}
		if target.Text() != "done" {
			t.Errorf("content changed after completion: %q", target.Text())
		}
	})

	t.Run("fail replaces content", func(t *testing.T) {
		target := newTarget()
		agg := NewAggregator(target)
		agg.Apply(text("partial"))
		agg.Fail(errors.New("boom"))

		if target.Status != models.MessageStatusError {
			t.Errorf("expected error status, got %s", target.Status)
		}
		if len(target.Content) != 1 || target.Text() != "Error: boom" {
			t.Errorf("expected single error part, got %d parts %q", len(target.Content), target.Text())
		}
		if agg.State() != StateError {
			t.Errorf("expected StateError, got %s", agg.State())
		}
	})

	t.Run("cancel keeps status", func(t *testing.T) {
		target := newTarget()
		agg := NewAggregator(target)
		agg.Apply(text("partial"))
		agg.Cancel()

		if target.Status != models.MessageStatusRunning {
			t.Errorf("expected status to stay running, got %s", target.Status)
		}
		if agg.State() != StateCancelled {
			t.Errorf("expected StateCancelled, got %s", agg.State())
		}
	})
}

func TestAggregator_Consume(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	ch := make(chan models.StreamChunk, 3)
	ch <- text("Hi")
	ch <- text(" there")
	ch <- models.StreamChunk{Done: true}
	close(ch)

	var updates int
	err := agg.Consume(context.Background(), ch, func(m *models.Message) { updates++ })
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if target.Text() != "Hi there" {
		t.Errorf("expected %q, got %q", "Hi there", target.Text())
	}
	if target.Status != models.MessageStatusComplete {
		t.Errorf("expected complete, got %s", target.Status)
	}
	if updates != 3 {
		t.Errorf("expected 3 updates, got %d", updates)
	}
}

func TestAggregator_ConsumeError(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	ch := make(chan models.StreamChunk, 2)
	ch <- text("partial")
	ch <- models.StreamChunk{Error: errors.New("upstream reset")}
	close(ch)

	err := agg.Consume(context.Background(), ch, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if target.Status != models.MessageStatusError {
		t.Errorf("expected error status, got %s", target.Status)
	}
	if target.Text() != "Error: upstream reset" {
		t.Errorf("unexpected content %q", target.Text())
	}
}

func TestAggregator_ConsumeCancelled(t *testing.T) {
	target := newTarget()
	agg := NewAggregator(target)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan models.StreamChunk)
	err := agg.Consume(ctx, ch, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if target.Status != models.MessageStatusRunning {
		t.Errorf("expected status unchanged, got %s", target.Status)
	}
}

func TestAggregator_ConsumeCancelledThenClosed(t *testing.T) {
	// closing after cancel must never read as completion, whichever
	// select case wins
	for i := 0; i < 200; i++ {
		target := newTarget()
		agg := NewAggregator(target)

		ctx, cancel := context.WithCancel(context.Background())
		ch := make(chan models.StreamChunk, 1)
		ch <- models.StreamChunk{Content: "partial"}
		cancel()
		close(ch)

		if err := agg.Consume(ctx, ch, nil); !errors.Is(err, context.Canceled) {
			t.Fatalf("iteration %d: expected context.Canceled, got %v", i, err)
		}
		if target.Status != models.MessageStatusRunning {
			t.Fatalf("iteration %d: expected status unchanged, got %s", i, target.Status)
		}
	}
}
