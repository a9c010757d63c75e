package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	askUser    string
	askSession string
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a single message and print the reply",
	Long: `Send one message to the assistant and print its reply.

Examples:
  mindmate ask "I had a rough day at work"
  mindmate ask -u alice "Why do I feel anxious before meetings?"
  mindmate --server http://localhost:5555 ask -u alice "hello"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	message := strings.Join(args, " ")

	send, closeFn, err := newTurn(ctx, askUser, askSession)
	if err != nil {
		return err
	}
	defer closeFn()

	reply, err := send(ctx, message)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}
	printReply(cmd.OutOrStdout(), reply)
	return nil
}

func init() {
	askCmd.Flags().StringVarP(&askUser, "user", "u", "", "user id (default \"anonymous\")")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id (default: new session)")
}
