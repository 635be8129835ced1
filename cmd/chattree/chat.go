package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/longregen/chattree/internal/adapters/id"
	"github.com/longregen/chattree/internal/application/thread"
	"github.com/longregen/chattree/internal/domain/models"
)

const chatHelp = `Type a message and press Enter to send it.
  /edit <id> <text>  send a revised version of a user message as a new branch
  /regen [id]        regenerate an assistant reply (default: the last one)
  /branches [id]     list alternatives along the current branch, or of <id>
  /switch <id>       display the branch through <id>
  /cancel            stop the running generation (Ctrl-C also works)
  /history           print the current branch
  /quit              leave the chat`

// chatCmd creates the chat command for interactive conversations
func chatCmd() *cobra.Command {
	var conversationID string
	var model string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a chattree server",
		Long: `Start an interactive chat session.
Pass --conversation to continue an existing conversation; a generation that
is still running on the server is picked up where it is.

` + chatHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				model = cfg.Client.Model
			}
			r := newREPL(os.Stdout, thread.Options{
				WorkspaceID: cfg.Client.WorkspaceID,
				Model:       model,
				Logger:      logger,
			})
			return r.run(cmd.Context(), conversationID, os.Stdin)
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation to continue")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to request (default: server default)")

	return cmd
}

type repl struct {
	out     io.Writer
	session *thread.Session

	mu      sync.Mutex
	printed map[string]int
}

func newREPL(out io.Writer, opts thread.Options) *repl {
	r := &repl{out: out, printed: make(map[string]int)}
	opts.OnUpdate = r.onUpdate
	r.session = thread.NewSession(newTransport(), id.New(), opts)
	return r
}

// onUpdate prints the text the streaming message gained since last time.
// Updates that arrive before the message's prefix is printed are skipped;
// the prefix catches up on them.
func (r *repl) onUpdate(m *models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen, started := r.printed[m.ID]
	if !started {
		return
	}
	text := m.Text()
	if len(text) > seen {
		fmt.Fprint(r.out, text[seen:])
		r.printed[m.ID] = len(text)
	}
}

func (r *repl) run(ctx context.Context, conversationID string, in io.Reader) error {
	if conversationID != "" {
		if err := r.session.Load(ctx, conversationID); err != nil {
			return fmt.Errorf("failed to open conversation %s: %w", conversationID, err)
		}
		r.printHistory()
		if streamingID := r.session.StreamingMessageID(); streamingID != "" {
			fmt.Fprintln(r.out, "(generation in progress, resuming)")
			r.printAssistantPrefix(streamingID)
			r.wait(ctx, streamingID)
		}
	} else {
		fmt.Fprintln(r.out, "New conversation. Type /help for commands.")
	}
	fmt.Fprintln(r.out, strings.Repeat("-", 80))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for {
		fmt.Fprint(r.out, "You: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			break
		}
	}

	r.session.Cancel(ctx)
	r.session.Wait()
	if convID := r.session.ConversationID(); convID != "" {
		fmt.Fprintf(r.out, "\nConversation: %s\n", convID)
	}
	return scanner.Err()
}

// handle runs one input line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	cmd, args := parseCommand(line)
	switch cmd {
	case "":
		return false, r.stream(ctx, func() (*models.Message, error) {
			return r.session.Append(ctx, line)
		})
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, chatHelp)
	case "history":
		r.printHistory()
	case "cancel":
		r.session.Cancel(ctx)
	case "edit":
		if len(args) < 2 {
			return false, errors.New("usage: /edit <id> <text>")
		}
		return false, r.stream(ctx, func() (*models.Message, error) {
			return r.session.Edit(ctx, args[0], args[1])
		})
	case "regen":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		return false, r.stream(ctx, func() (*models.Message, error) {
			return r.session.Regenerate(ctx, target)
		})
	case "branches":
		if len(args) > 0 {
			r.printSiblings(args[0])
		} else {
			r.printBranches()
		}
	case "switch":
		if len(args) < 1 {
			return false, errors.New("usage: /switch <id>")
		}
		if err := r.session.SwitchBranch(args[0]); err != nil {
			return false, err
		}
		r.printHistory()
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", cmd)
	}
	return false, nil
}

// parseCommand splits "/edit id some text" into "edit" and
// ["id", "some text"]. Plain messages return an empty command.
func parseCommand(line string) (string, []string) {
	if !strings.HasPrefix(line, "/") {
		return "", nil
	}
	fields := strings.SplitN(strings.TrimPrefix(line, "/"), " ", 3)
	cmd := strings.ToLower(fields[0])
	var args []string
	for _, f := range fields[1:] {
		if f = strings.TrimSpace(f); f != "" {
			args = append(args, f)
		}
	}
	return cmd, args
}

func (r *repl) stream(ctx context.Context, start func() (*models.Message, error)) error {
	msg, err := start()
	if err != nil {
		return err
	}
	r.printAssistantPrefix(msg.ID)
	r.wait(ctx, msg.ID)
	return nil
}

// wait blocks until the running stream ends. Ctrl-C cancels it instead of
// exiting.
func (r *repl) wait(ctx context.Context, messageID string) {
	done := make(chan struct{})
	go func() {
		r.session.Wait()
		close(done)
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	cancelled := false
	select {
	case <-done:
	case <-interrupts:
		r.session.Cancel(ctx)
		<-done
		cancelled = true
	}
	fmt.Fprintln(r.out)

	if cancelled {
		fmt.Fprintln(r.out, "(cancelled)")
		return
	}
	if msg, ok := r.session.Message(messageID); ok && msg.Status == models.MessageStatusError {
		fmt.Fprintln(r.out, "(generation failed)")
	}
}

func (r *repl) printAssistantPrefix(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "Assistant [%s]: ", messageID)
	if msg, ok := r.session.Message(messageID); ok {
		text := msg.Text()
		fmt.Fprint(r.out, text)
		r.printed[messageID] = len(text)
	}
}

func (r *repl) printHistory() {
	for _, m := range r.session.ActivePath() {
		label := "You"
		if m.Role == models.MessageRoleAssistant {
			label = "Assistant"
		}
		branch := ""
		if siblings := r.session.Siblings(m.ID); len(siblings) > 1 {
			branch = fmt.Sprintf(" %d/%d", indexOf(siblings, m.ID)+1, len(siblings))
		}
		fmt.Fprintf(r.out, "%s [%s%s]: %s\n", label, m.ID, branch, m.Text())
	}
}

func (r *repl) printBranches() {
	found := false
	for _, m := range r.session.ActivePath() {
		siblings := r.session.Siblings(m.ID)
		if len(siblings) < 2 {
			continue
		}
		found = true
		fmt.Fprintf(r.out, "%s has %d alternatives:\n", m.ID, len(siblings))
		r.listMessages(siblings, m.ID)
	}
	if !found {
		fmt.Fprintln(r.out, "no branches on the current path")
	}
}

func (r *repl) printSiblings(messageID string) {
	siblings := r.session.Siblings(messageID)
	if len(siblings) == 0 {
		fmt.Fprintf(r.out, "message %s not found\n", messageID)
		return
	}
	r.listMessages(siblings, messageID)
}

func (r *repl) listMessages(msgs []*models.Message, current string) {
	for _, s := range msgs {
		marker := " "
		if s.ID == current {
			marker = "*"
		}
		fmt.Fprintf(r.out, "  %s %s  %s\n", marker, s.ID, preview(s.Text(), 60))
	}
}

func indexOf(msgs []*models.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
