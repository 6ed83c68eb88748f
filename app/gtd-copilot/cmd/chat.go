package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cchalm/gtd-copilot/internal/chat"
	"github.com/cchalm/gtd-copilot/internal/i18n"
	"github.com/cchalm/gtd-copilot/internal/telemetry"
)

var (
	conversationID string
	chatContext    map[string]string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant",
	Long: `Starts an interactive conversation with the assistant. Proposals are numbered as they
arrive; accept one with /accept N or dismiss it with /dismiss N. /items lists active
items and /quit ends the session. Conversations are saved and can be resumed with
--conversation.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&conversationID, "conversation", "", "Resume the conversation with this id")
	chatCmd.Flags().StringToStringVar(&chatContext, "context", nil, "Context sent with every message, e.g. view=inbox")

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	provider, err := createTelemetryProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to flush telemetry: %v", err)
		}
	}()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	historyStore, err := chat.NewFileHistoryStore(config.ConversationsDir)
	if err != nil {
		return err
	}
	thread, err := loadThread(historyStore)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	r := newRenderer(out)
	r.replay(thread.Messages())
	thread.Subscribe(r.render)

	catalog := i18n.Lookup(config.Locale)
	assembler := chat.NewAssembler(thread, s.submitter(),
		chat.WithCatalog(catalog),
		chat.WithItemsChangedHook(s.engine.RefreshAll),
	)
	proposals := chat.NewProposals(thread, s.executor(), catalog)

	fmt.Fprintln(out, mutedStyle.Render("Conversation "+thread.ConversationID()))
	repl := &chatREPL{
		assembler: assembler,
		proposals: proposals,
		session:   s,
		out:       out,
	}
	err = repl.run(ctx, cmd.InOrStdin())

	if saveErr := historyStore.Set(thread.Snapshot()); saveErr != nil {
		log.Printf("Failed to save conversation %s: %v", thread.ConversationID(), saveErr)
	}
	return err
}

func loadThread(store chat.FileHistoryStore) (*chat.Thread, error) {
	if conversationID == "" {
		return chat.NewThread(telemetry.NewConversationID()), nil
	}
	history, err := store.Get(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if history == nil {
		log.Printf("No saved conversation %s, starting a new one under that id", conversationID)
		return chat.NewThread(conversationID), nil
	}
	return chat.RestoreThread(*history), nil
}

type chatREPL struct {
	assembler *chat.Assembler
	proposals *chat.Proposals
	session   *session
	out       io.Writer
}

func (cr *chatREPL) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(cr.out, userStyle.Render("you: "))
		if !scanner.Scan() {
			fmt.Fprintln(cr.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/items":
			if err := printItems(ctx, cr.out, cr.session.engine, false); err != nil {
				fmt.Fprintln(cr.out, errorStyle.Render(err.Error()))
			}
		case strings.HasPrefix(line, "/accept "):
			cr.decide(ctx, strings.TrimPrefix(line, "/accept "), true)
		case strings.HasPrefix(line, "/dismiss "):
			cr.decide(ctx, strings.TrimPrefix(line, "/dismiss "), false)
		case strings.HasPrefix(line, "/"):
			fmt.Fprintln(cr.out, mutedStyle.Render("Commands: /accept N, /dismiss N, /items, /quit"))
		default:
			cr.assembler.Send(ctx, line, chatContext)
		}
	}
}

func (cr *chatREPL) decide(ctx context.Context, arg string, accept bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		fmt.Fprintln(cr.out, errorStyle.Render(fmt.Sprintf("not a proposal number: %s", arg)))
		return
	}
	m, ok := proposalByNumber(cr.assembler.Thread().Messages(), n)
	if !ok {
		fmt.Fprintln(cr.out, errorStyle.Render(fmt.Sprintf("no proposal %d", n)))
		return
	}

	if !accept {
		cr.proposals.Dismiss(m.ID)
		return
	}
	if err := cr.proposals.Accept(ctx, m.ID); err != nil {
		log.Printf("Failed to accept proposal %s: %v", m.ID, err)
		fmt.Fprintln(cr.out, errorStyle.Render(fmt.Sprintf("proposal %d could not be applied, it is still pending", n)))
	}
}
