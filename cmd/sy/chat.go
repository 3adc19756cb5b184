package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/dispatch"
	"golang.org/x/term"
)

type chatFlags struct {
	configPath string
	user       string
	name       string
	role       string
	agent      string
	offline    bool
	ephemeral  bool
	jsonOut    bool
}

func newChatCmd() *cobra.Command {
	var f chatFlags

	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send a message, or start an interactive session",
		Long: "With a message, routes it once and prints the reply. Without one, reads\n" +
			"messages line by line from stdin (interactively when stdin is a terminal).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, f, strings.Join(args, " "))
		},
	}

	addConfigFlag(cmd, &f.configPath)
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "caller user id (required)")
	cmd.Flags().StringVar(&f.name, "name", "", "caller display name")
	cmd.Flags().StringVar(&f.role, "role", "", "caller role")
	cmd.Flags().StringVarP(&f.agent, "agent", "a", "", "specialist agent id (default: classify each message)")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "answer with a local echo instead of the completion backend")
	cmd.Flags().BoolVar(&f.ephemeral, "ephemeral", false, "keep the conversation in memory only")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the full response envelope as JSON")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runChat(cmd *cobra.Command, f chatFlags, message string) error {
	a, err := setup(cmd, f.configPath, appOpts{Offline: f.offline, Ephemeral: f.ephemeral})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	id := dispatch.Identity{ID: f.user, FullName: f.name, Role: f.role}
	out := cmd.OutOrStdout()

	if strings.TrimSpace(message) != "" {
		env := a.dispatcher.Handle(ctx, id, message, f.agent)
		if err := printEnvelope(out, env, f.jsonOut); err != nil {
			return err
		}
		if !env.Success {
			return fmt.Errorf("chat: %s", env.Error)
		}
		return nil
	}

	interactive := isTerminal(os.Stdin) && isTerminal(os.Stdout)
	if interactive {
		fmt.Fprintf(out, "Switchyard chat as %s. Empty line or Ctrl-D to quit.\n", f.user)
	}
	return chatLoop(ctx, cmd.InOrStdin(), out, interactive, func(msg string) error {
		return printEnvelope(out, a.dispatcher.Handle(ctx, id, msg, f.agent), f.jsonOut)
	})
}

// chatLoop feeds each non-empty input line to send. In interactive mode an
// empty line ends the session.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, interactive bool, send func(string) error) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if interactive {
				return nil
			}
			continue
		}
		if err := send(line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printEnvelope(out io.Writer, env *dispatch.Envelope, asJSON bool) error {
	if asJSON {
		return writeJSON(out, env)
	}
	if !env.Success {
		fmt.Fprintf(out, "error (%s): %s\n", env.Error, env.Message)
		return nil
	}
	header := env.AgentName
	if env.Confidence != nil {
		header += fmt.Sprintf(" (routed, confidence %.2f)", *env.Confidence)
	}
	if !env.IsInScope {
		header += " [out of scope]"
	}
	fmt.Fprintf(out, "[%s]\n%s\n", header, env.Response)
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
