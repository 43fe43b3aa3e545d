// Lifeline-cli drives the call-handling engine locally: an interactive chat,
// scripted scenario replays and policy inspection. Nothing leaves the
// process; sessions live in memory.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/orchestrator"
	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/responder"
	"github.com/linnemanlabs/lifeline/internal/session/memstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	policyFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "lifeline-cli",
		Short:         "Talk to the emergency call-handling engine from a terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.policyFile, "policy", "", "YAML policy file layered over the built-in defaults")

	cmd.AddCommand(
		newChatCmd(opts),
		newReplayCmd(opts),
		newPolicyCmd(opts),
	)
	return cmd
}

// compiledPolicy loads the policy file when one is given.
func (o *rootOptions) compiledPolicy() (*policy.Compiled, error) {
	if o.policyFile == "" {
		return policy.Compile(policy.Defaults()), nil
	}
	p, err := policy.Load(o.policyFile)
	if err != nil {
		return nil, err
	}
	return policy.Compile(p), nil
}

// newService wires an in-memory service around the selected policy.
func (o *rootOptions) newService() (*orchestrator.Service, error) {
	p, err := o.compiledPolicy()
	if err != nil {
		return nil, err
	}
	logger := log.Nop()
	engine := orchestrator.NewEngine(p, responder.Defaults(), logger)
	return orchestrator.NewService(memstore.New(), engine, logger), nil
}

// parseCaller turns key=value pairs into caller metadata.
func parseCaller(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	caller := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid caller field %q (want key=value)", kv)
		}
		caller[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return caller, nil
}

func printTurn(w io.Writer, resp *orchestrator.TurnResponse) {
	fmt.Fprintf(w, "lifeline> %s\n", resp.Reply)
	fmt.Fprintf(w, "          [turn %d, state %s, urgency %.2f, emotion %s", resp.Seq, resp.State, resp.Urgency, resp.Emotion)
	if resp.Override != "" {
		fmt.Fprintf(w, ", override %s", resp.Override)
	}
	fmt.Fprintln(w, "]")
	if d := resp.Dispatch; d != nil {
		fmt.Fprintf(w, "          DISPATCH %s: %s, priority %s\n", d.Reference, d.Service, d.Priority)
	}
}
