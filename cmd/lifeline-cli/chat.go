package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	var callerPairs []string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive caller session",
		Long: `Reads caller messages from stdin, one per line, and prints the reply to each.
The session ends when it is dispatched or closed, on EOF, or on /quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caller, err := parseCaller(callerPairs)
			if err != nil {
				return err
			}
			svc, err := root.newService()
			if err != nil {
				return err
			}
			defer svc.Wait()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			sess, err := svc.StartSession(ctx, caller)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "session %s started. Describe your emergency.\n", sess.ID)

			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				if line == "/quit" {
					break
				}
				resp, err := svc.HandleTurn(ctx, sess.ID, line)
				if err != nil {
					fmt.Fprintf(out, "lifeline> %s\n", svc.FallbackReply())
					return err
				}
				printTurn(out, resp)
				if resp.State.Terminal() {
					fmt.Fprintf(out, "session %s.\n", resp.State)
					return nil
				}
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			if _, err := svc.Close(ctx, sess.ID); err != nil {
				return err
			}
			fmt.Fprintln(out, "session closed.")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&callerPairs, "caller", nil, "caller metadata as key=value (repeatable)")
	return cmd
}
