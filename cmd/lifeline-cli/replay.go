package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/lifeline/internal/orchestrator"
	"github.com/linnemanlabs/lifeline/internal/session"
)

// Scenario is a scripted call read by replay.
type Scenario struct {
	Name     string            `yaml:"name"`
	Caller   map[string]string `yaml:"caller"`
	Messages []string          `yaml:"messages" validate:"required,min=1,dive,required"`
	Expect   Expectation       `yaml:"expect"`
}

// Expectation lists outcomes checked after the last message. Empty fields
// are not checked.
type Expectation struct {
	State    session.State    `yaml:"state"`
	Priority session.Priority `yaml:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Service  string           `yaml:"service"`
	Override session.Override `yaml:"override"`
}

var scenarioValidate = validator.New(validator.WithRequiredStructEnabled())

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := scenarioValidate.Struct(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

// check compares the final session against the expectation.
func (e Expectation) check(sess *session.Session) error {
	var errs []error
	if e.State != "" && sess.State != e.State {
		errs = append(errs, fmt.Errorf("state = %s, want %s", sess.State, e.State))
	}
	if e.Override != "" && sess.Safety.LastOverride != e.Override {
		errs = append(errs, fmt.Errorf("override = %q, want %q", sess.Safety.LastOverride, e.Override))
	}
	if e.Priority != "" || e.Service != "" {
		switch d := sess.Dispatch; {
		case d == nil:
			errs = append(errs, errors.New("no dispatch recommendation"))
		default:
			if e.Priority != "" && d.Priority != e.Priority {
				errs = append(errs, fmt.Errorf("priority = %s, want %s", d.Priority, e.Priority))
			}
			if e.Service != "" && d.Service != e.Service {
				errs = append(errs, fmt.Errorf("service = %q, want %q", d.Service, e.Service))
			}
		}
	}
	return errors.Join(errs...)
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>...",
		Short: "Replay scripted calls and check their outcome",
		Long: `Each scenario is a YAML file with caller metadata, a list of messages and
optional expectations (state, priority, service, override). The command fails
if any expectation is not met.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.newService()
			if err != nil {
				return err
			}
			defer svc.Wait()

			var failed []error
			for _, path := range args {
				if err := replay(cmd, svc, path, asJSON); err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
				}
			}
			return errors.Join(failed...)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each turn as a JSON line")
	return cmd
}

func replay(cmd *cobra.Command, svc *orchestrator.Service, path string, asJSON bool) error {
	sc, err := loadScenario(path)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sess, err := svc.StartSession(ctx, sc.Caller)
	if err != nil {
		return err
	}
	if !asJSON {
		name := sc.Name
		if name == "" {
			name = path
		}
		fmt.Fprintf(out, "== %s (session %s)\n", name, sess.ID)
	}

	enc := json.NewEncoder(out)
	for _, msg := range sc.Messages {
		resp, err := svc.HandleTurn(ctx, sess.ID, msg)
		if err != nil {
			return fmt.Errorf("turn %q: %w", msg, err)
		}
		if asJSON {
			if err := enc.Encode(resp); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "caller>   %s\n", msg)
		printTurn(out, resp)
		if resp.State.Terminal() {
			break
		}
	}

	final, err := svc.Status(ctx, sess.ID)
	if err != nil {
		return err
	}
	if err := sc.Expect.check(final); err != nil {
		return fmt.Errorf("expectation failed: %w", err)
	}
	return nil
}
