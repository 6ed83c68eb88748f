package cmd

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/cchalm/gtd-copilot/internal/items"
	"github.com/cchalm/gtd-copilot/internal/mutation"
)

var (
	showCompleted bool
	addBucket     string
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List and change items directly",
	Long: `Lists and changes items without the assistant. Every change shows up in the item
cache right away and is rolled back if the backend rejects it.`,
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active items",
	Args:  cobra.NoArgs,
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *mutation.Engine, args []string) error {
		return printItems(ctx, cmd.OutOrStdout(), engine, showCompleted)
	}),
}

var itemsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Capture a new item",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *mutation.Engine, args []string) error {
		bucket := items.Bucket(addBucket)
		typ := items.TypeThing
		if t, promote := bucket.RequiredType(typ); promote {
			typ = t
		}
		created, err := engine.Create(ctx, items.Draft{Name: args[0], Type: typ, Bucket: bucket})
		if err != nil {
			return fmt.Errorf("failed to add item: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatItem(created))
		return nil
	}),
}

var itemsFocusCmd = &cobra.Command{
	Use:   "focus <id>",
	Short: "Toggle the focus flag of an item",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *mutation.Engine, args []string) error {
		return printResult(cmd.OutOrStdout(), "focus", args[0])(engine.ToggleFocus(ctx, args[0]))
	}),
}

var itemsMoveCmd = &cobra.Command{
	Use:   "move <id> <bucket>",
	Short: "Move an item to another bucket",
	Args:  cobra.ExactArgs(2),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *mutation.Engine, args []string) error {
		return printResult(cmd.OutOrStdout(), "move", args[0])(engine.Move(ctx, args[0], items.Bucket(args[1])))
	}),
}

var itemsCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark an item done",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *mutation.Engine, args []string) error {
		return printResult(cmd.OutOrStdout(), "complete", args[0])(engine.Complete(ctx, args[0]))
	}),
}

var itemsUncompleteCmd = &cobra.Command{
	Use:   "uncomplete <id>",
	Short: "Reopen a completed item",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *mutation.Engine, args []string) error {
		return printResult(cmd.OutOrStdout(), "uncomplete", args[0])(engine.Uncomplete(ctx, args[0]))
	}),
}

var itemsArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive an item",
	Args:  cobra.ExactArgs(1),
	RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, engine *mutation.Engine, args []string) error {
		if err := engine.Archive(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to archive %s: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), confirmationStyle.Render("Archived "+args[0]))
		return nil
	}),
}

func init() {
	itemsListCmd.Flags().BoolVar(&showCompleted, "completed", false, "List completed items instead")
	itemsAddCmd.Flags().StringVar(&addBucket, "bucket", string(items.BucketInbox), "Bucket to file the item in")

	itemsCmd.AddCommand(itemsListCmd, itemsAddCmd, itemsFocusCmd, itemsMoveCmd, itemsCompleteCmd, itemsUncompleteCmd, itemsArchiveCmd)
	rootCmd.AddCommand(itemsCmd)
}

// withEngine opens a session for the duration of an items subcommand
func withEngine(run func(ctx context.Context, cmd *cobra.Command, engine *mutation.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := setupContext()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()
		if s.backend == nil {
			log.Printf("Changes made without a backend last only for this command")
		}
		return run(ctx, cmd, s.engine, args)
	}
}

func printResult(out io.Writer, op string, id string) func(items.Item, error) error {
	return func(it items.Item, err error) error {
		if err != nil {
			return fmt.Errorf("failed to %s %s: %w", op, id, err)
		}
		fmt.Fprintln(out, formatItem(it))
		return nil
	}
}

func printItems(ctx context.Context, out io.Writer, engine *mutation.Engine, completed bool) error {
	partition := items.PartitionActive
	if completed {
		partition = items.PartitionCompleted
	}
	collection, err := engine.Items(ctx, partition)
	if err != nil {
		return fmt.Errorf("failed to read items: %w", err)
	}
	if len(collection) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No items"))
		return nil
	}
	for _, it := range collection {
		fmt.Fprintln(out, formatItem(it))
	}
	return nil
}
