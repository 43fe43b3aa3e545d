package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/lifeline/internal/policy"
)

func newPolicyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate call-handling policies",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "dump",
			Short: "Print the effective policy as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				p, err := root.compiledPolicy()
				if err != nil {
					return err
				}
				data, err := policy.Marshal(p.Policy)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "check <file>...",
			Short: "Validate policy files without starting the engine",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var bad int
				for _, path := range args {
					if _, err := policy.Load(path); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
						bad++
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
				}
				if bad > 0 {
					return fmt.Errorf("%d of %d policy files invalid", bad, len(args))
				}
				return nil
			},
		},
	)
	return cmd
}
