package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/longregen/chattree/internal/domain/models"
)

// conversationsCmd groups conversation management subcommands
func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage conversations",
	}
	cmd.AddCommand(
		conversationsListCmd(),
		conversationsRenameCmd(),
		conversationsArchiveCmd(),
		conversationsDeleteCmd(),
	)
	return cmd
}

func conversationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations of the configured workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			convs, err := newTransport().ListConversations(cmd.Context(), cfg.Client.WorkspaceID)
			if err != nil {
				return fmt.Errorf("failed to list conversations: %w", err)
			}
			if len(convs) == 0 {
				fmt.Println("No conversations found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tUPDATED")
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, preview(c.Title, 40), c.Status, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func conversationsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Change a conversation's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[1:], " ")
			conv, err := newTransport().UpdateConversation(cmd.Context(), args[0], models.ConversationPatch{Title: &title})
			if err != nil {
				return fmt.Errorf("failed to rename conversation: %w", err)
			}
			fmt.Printf("Renamed %s to %q\n", conv.ID, conv.Title)
			return nil
		},
	}
}

func conversationsArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a conversation so it no longer accepts messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.ConversationStatusArchived
			if _, err := newTransport().UpdateConversation(cmd.Context(), args[0], models.ConversationPatch{Status: &status}); err != nil {
				return fmt.Errorf("failed to archive conversation: %w", err)
			}
			fmt.Printf("Archived %s\n", args[0])
			return nil
		},
	}
}

func conversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newTransport().DeleteConversation(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete conversation: %w", err)
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}
