package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/mindmate/internal/chat"
	"github.com/raphaelgruber/mindmate/internal/client"
	"github.com/raphaelgruber/mindmate/internal/models"
	"github.com/raphaelgruber/mindmate/internal/server"
)

var (
	chatUser    string
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. Type "exit" or "quit" to leave.

Examples:
  mindmate chat
  mindmate chat --user alice
  mindmate chat --user alice --session 1a2b3c4d
  mindmate --server http://localhost:5555 chat --user alice`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

// turn sends one message and returns the assistant's reply.
type turn func(ctx context.Context, message string) (*client.ChatReply, error)

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	session := chatSession
	if session == "" {
		session = models.NewSessionID()
	}

	send, closeFn, err := newTurn(ctx, chatUser, session)
	if err != nil {
		return err
	}
	defer closeFn()

	fmt.Fprintln(cmd.OutOrStdout(), defaultTheme.hintStyle().Render(
		fmt.Sprintf("Session %s. Type \"exit\" or \"quit\" to leave.", session)))
	return repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), send)
}

// repl reads messages line by line until exit, quit, EOF or cancellation.
func repl(ctx context.Context, in io.Reader, out io.Writer, send turn) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, defaultTheme.userStyle().Render("You: "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		reply, err := send(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, defaultTheme.errorStyle().Render(chat.FailureMessage))
			logger.Warn("chat turn failed", "error", err)
			continue
		}
		printReply(out, reply)
	}
}

func printReply(out io.Writer, reply *client.ChatReply) {
	fmt.Fprintf(out, "%s %s\n", defaultTheme.botStyle().Render("MindMate:"), reply.Reply)
	if verbose {
		fmt.Fprintln(out, defaultTheme.hintStyle().Render(
			fmt.Sprintf("  emotion=%s crisis=%t session=%s", reply.Emotion, reply.Crisis, reply.SessionID)))
	}
}

// newTurn returns a turn function backed by the server (over WebSocket) or
// the local application.
func newTurn(ctx context.Context, user, session string) (turn, func(), error) {
	if user == "" {
		user = server.DefaultUser
	}

	if remote() {
		s, err := newClient().Dial(ctx, user, session)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to server: %w", err)
		}
		return s.Send, func() { _ = s.Close() }, nil
	}

	a, err := getApp(ctx)
	if err != nil {
		return nil, nil, err
	}
	send := func(ctx context.Context, message string) (*client.ChatReply, error) {
		resp, err := a.Chat.Reply(ctx, chat.Request{UserID: user, SessionID: session, Message: message})
		if err != nil {
			return nil, err
		}
		return &client.ChatReply{
			Reply:     resp.Reply,
			Emotion:   resp.Emotion,
			Crisis:    resp.Crisis,
			SessionID: resp.SessionID,
		}, nil
	}
	// Pending write-backs finish before the app closes.
	return send, func() {
		if err := a.Memory.Wait(context.Background(), user); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug("memory wait failed", "error", err)
		}
	}, nil
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "user id (default \"anonymous\")")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id to continue (default: new session)")
}
