package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// Store kinds selected by DatabaseURL.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds                 int
	ShutdownBudgetSeconds        int
	APIPort                      int
	DatabaseURL                  string
	APIToken                     string
	DispatchWebhookURL           string
	SlackWebhookURL              string
	PolicyFile                   string
	PolicyWatch                  bool
	ResponseTimeThresholdSeconds int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "session store URL: empty = in-memory, sqlite://<path>, or postgres://...")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (comma separated to accept several during rotation)")
	fs.StringVar(&c.DispatchWebhookURL, "dispatch-webhook-url", "", "URL that receives dispatch recommendations as JSON")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for dispatch notifications")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "YAML policy file layered over the built-in defaults")
	fs.BoolVar(&c.PolicyWatch, "policy-watch", false, "reload the policy file when it changes")
	fs.IntVar(&c.ResponseTimeThresholdSeconds, "response-time-threshold-seconds", 30, "turns slower than this are logged and counted (1..600)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if _, err := c.StoreKind(); err != nil {
		errs = append(errs, err)
	}

	// API token guards every session endpoint
	if len(c.APITokens()) == 0 {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if err := checkWebhook("DISPATCH_WEBHOOK_URL", c.DispatchWebhookURL); err != nil {
		errs = append(errs, err)
	}
	if err := checkWebhook("SLACK_WEBHOOK_URL", c.SlackWebhookURL); err != nil {
		errs = append(errs, err)
	}

	if c.PolicyWatch && c.PolicyFile == "" {
		errs = append(errs, errors.New("POLICY_WATCH requires POLICY_FILE"))
	}

	if c.ResponseTimeThresholdSeconds <= 0 || c.ResponseTimeThresholdSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid RESPONSE_TIME_THRESHOLD_SECONDS %d (must be 1..600)", c.ResponseTimeThresholdSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StoreKind reports which session store DatabaseURL selects.
func (c *Config) StoreKind() (string, error) {
	switch {
	case c.DatabaseURL == "":
		return StoreMemory, nil
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		if c.SQLitePath() == "" {
			return "", errors.New("DATABASE_URL sqlite:// needs a file path")
		}
		return StoreSQLite, nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return StorePostgres, nil
	default:
		return "", errors.New("invalid DATABASE_URL scheme (want sqlite:// or postgres://)")
	}
}

// SQLitePath is the database file named by a sqlite:// URL:
// sqlite:///var/lib/lifeline.db is absolute, sqlite://lifeline.db relative.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite://")
}

// APITokens splits APIToken on commas, dropping blanks.
func (c *Config) APITokens() []string {
	var out []string
	for _, t := range strings.Split(c.APIToken, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// checkWebhook accepts an empty value or an absolute http(s) URL.
func checkWebhook(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s (must be an http or https URL)", name)
	}
	return nil
}
