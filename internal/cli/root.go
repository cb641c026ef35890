// Package cli implements the payease command line client.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/client"
	"github.com/payease/payease/internal/logging"
)

const defaultAPIURL = "http://localhost:8080"

type options struct {
	apiURL    string
	tokenFile string
	timeout   time.Duration
	verbose   bool
}

type app struct {
	opts   options
	client *client.Client
	logger *slog.Logger
}

// NewRoot builds the root command with every subcommand attached.
func NewRoot(version string) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "payease",
		Short: "PayEase wallet client",
		Long: `payease signs in to a PayEase API and submits and verifies payments.

The session token is kept in a file between invocations.

Example usage:
  payease register --email ada@example.com --first-name Ada --last-name Lovelace
  payease login --email ada@example.com
  payease verify-2fa --temp-token <token> --code 123456
  payease pay --amount 2500 --method wallet --wait
  payease logout`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.opts.apiURL, "api", envOr("PAYEASE_API_URL", defaultAPIURL), "API base URL")
	root.PersistentFlags().StringVar(&a.opts.tokenFile, "token-file", os.Getenv("PAYEASE_TOKEN_FILE"), "session token file (default is the user config dir)")
	root.PersistentFlags().DurationVar(&a.opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	root.PersistentFlags().BoolVarP(&a.opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.verifyTwoFactorCmd(),
		a.enrollCmd(),
		a.confirmCmd(),
		a.whoamiCmd(),
		a.payCmd(),
		a.verifyPaymentCmd(),
		a.logoutCmd(),
	)
	return root
}

func (a *app) init() error {
	level := "warn"
	if a.opts.verbose {
		level = "debug"
	}
	a.logger = logging.NewText(level)

	path := a.opts.tokenFile
	if path == "" {
		var err error
		if path, err = client.DefaultTokenPath(); err != nil {
			return fmt.Errorf("locate token file: %w", err)
		}
	}
	a.logger.Debug("client configured", slog.String("api", a.opts.apiURL), slog.String("token_file", path))

	backend := client.NewHTTP(a.opts.apiURL, a.opts.timeout)
	a.client = client.New(backend, client.NewFileTokens(path), client.WithLogger(a.logger))
	return nil
}

// Describe turns an error into the line printed to the user.
func Describe(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Fields != nil:
		parts := make([]string, 0, len(apiErr.Fields))
		for field, msg := range apiErr.Fields {
			parts = append(parts, field+": "+msg)
		}
		sort.Strings(parts)
		return apiErr.Message + " (" + strings.Join(parts, ", ") + ")"
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, apperror.ErrInvalidSession):
		return "not signed in, run `payease login` first"
	case errors.Is(err, client.ErrStillVerifying):
		return "payment is still being verified, check again later with `payease verify-payment`"
	default:
		return err.Error()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// secret returns value when set, otherwise reads one line from the command's
// input.
func secret(cmd *cobra.Command, value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt+": ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read %s: %w", prompt, err)
		}
		return "", fmt.Errorf("%s is required", prompt)
	}
	return line, nil
}
