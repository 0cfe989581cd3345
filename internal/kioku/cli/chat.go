package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kioku/internal/kioku/agent"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant",
		Long: "Reads one message per line from stdin and prints each reply. " +
			"Type /memory to show core memory and context usage, /exit to quit.",
		Args: cobra.NoArgs,
		RunE: runChat,
	}
	cmd.Flags().StringP("message", "m", "", "Send a single message and exit")
	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	a.ServeMetrics(cmd.Context())

	sessions := a.Sessions()
	out := cmd.OutOrStdout()

	if msg, _ := cmd.Flags().GetString("message"); msg != "" {
		reply, _ := sessions.Step(cmd.Context(), userID, msg)
		_, err := fmt.Fprintln(out, reply.Text)
		return err
	}

	session, err := sessions.Get(cmd.Context(), userID)
	if err != nil {
		fmt.Fprintln(out, agent.FallbackText)
		return err
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/memory":
			if err := writeCore(out, session); err != nil {
				return err
			}
			continue
		}

		reply := session.Step(cmd.Context(), line)
		fmt.Fprintln(out, reply.Text)
		if cmd.Context().Err() != nil {
			return cmd.Context().Err()
		}
	}
}

// writeCore prints the core memory fields and the context estimate.
func writeCore(w io.Writer, s *agent.Session) error {
	u := s.Usage()
	if formatFlag == "json" {
		return printJSON(w, map[string]any{
			"user_id":     s.UserID(),
			"core_memory": s.Core().Snapshot(),
			"usage":       u,
			"queue":       s.Queue().Len(),
		})
	}
	fmt.Fprintln(w, s.Core().Render())
	fmt.Fprintf(w, "\ncontext: %d/%d tokens (%.0f%%), %d queued messages\n",
		u.Estimate, u.Max, u.Fraction()*100, s.Queue().Len())
	return nil
}
