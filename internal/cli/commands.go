package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/payments"
)

func (a *app) registerCmd() *cobra.Command {
	var reg identity.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if reg.Password, err = secret(cmd, reg.Password, "password"); err != nil {
				return err
			}
			profile, err := a.client.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", profile.Email, profile.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Password, "password", "", "account password (read from stdin when omitted)")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in, starting a two-factor challenge when enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if password, err = secret(cmd, password, "password"); err != nil {
				return err
			}
			res, err := a.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res.Challenge != nil {
				fmt.Fprintf(w, "two-factor verification required (%s)\n", res.Challenge.Method)
				fmt.Fprintf(w, "temp token: %s\n", res.Challenge.TempToken)
				fmt.Fprintf(w, "expires:    %s\n", res.Challenge.ExpiresAt.Local().Format("15:04:05"))
				fmt.Fprintln(w, "finish with: payease verify-2fa --temp-token <token> --code <code>")
				return nil
			}
			fmt.Fprintf(w, "signed in as %s\n", res.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) verifyTwoFactorCmd() *cobra.Command {
	var tempToken, code string
	cmd := &cobra.Command{
		Use:   "verify-2fa",
		Short: "Finish a challenged sign-in with a verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.client.VerifyTwoFactor(cmd.Context(), tempToken, code); err != nil {
				return err
			}
			profile, err := a.client.Profile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", profile.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&tempToken, "temp-token", "", "temporary token printed by login")
	cmd.Flags().StringVar(&code, "code", "", "six digit verification code")
	_ = cmd.MarkFlagRequired("temp-token")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func methodFlag(value string) identity.Method {
	switch strings.ToLower(value) {
	case "email", strings.ToLower(string(identity.MethodEmail)):
		return identity.MethodEmail
	case "authenticator", "totp", strings.ToLower(string(identity.MethodAuthenticator)):
		return identity.MethodAuthenticator
	default:
		return identity.Method(value)
	}
}

func (a *app) enrollCmd() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "enroll-2fa",
		Short: "Start enabling two-factor authentication",
		RunE: func(cmd *cobra.Command, args []string) error {
			prov, err := a.client.Enroll(cmd.Context(), methodFlag(method))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if prov.Method == identity.MethodAuthenticator {
				fmt.Fprintf(w, "secret:      %s\n", prov.Secret)
				fmt.Fprintf(w, "otpauth url: %s\n", prov.URL)
				fmt.Fprintln(w, "add it to your authenticator app, then run: payease confirm-2fa --method authenticator --code <code>")
				return nil
			}
			fmt.Fprintln(w, "a verification code was sent by email, then run: payease confirm-2fa --method email --code <code>")
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "authenticator", "email or authenticator")
	return cmd
}

func (a *app) confirmCmd() *cobra.Command {
	var method, code string
	cmd := &cobra.Command{
		Use:   "confirm-2fa",
		Short: "Confirm a pending two-factor enrollment",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := methodFlag(method)
			if err := a.client.ConfirmEnrollment(cmd.Context(), m, code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "two-factor authentication enabled (%s)\n", m)
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "authenticator", "email or authenticator")
	cmd.Flags().StringVar(&code, "code", "", "six digit verification code")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.Restore(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s <%s>\n", p.FirstName, p.LastName, p.Email)
			fmt.Fprintf(w, "  id:         %s\n", p.ID)
			fmt.Fprintf(w, "  role:       %s\n", p.Role)
			fmt.Fprintf(w, "  balance:    %d\n", p.Balance)
			if p.TwoFactorEnabled {
				fmt.Fprintf(w, "  two-factor: %s\n", p.TwoFactorMethod)
			} else {
				fmt.Fprintln(w, "  two-factor: off")
			}
			return nil
		},
	}
}

func (a *app) payCmd() *cobra.Command {
	var (
		d    payments.Details
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Submit a payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := a.client.SubmitPayment(cmd.Context(), d)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "submitted %s\n", ref)
			if !wait {
				return nil
			}
			out, err := a.client.AwaitPayment(cmd.Context(), ref)
			if err != nil {
				return err
			}
			printOutcome(w, out)
			return nil
		},
	}
	cmd.Flags().Int64Var(&d.Amount, "amount", 0, "amount in minor units")
	cmd.Flags().StringVar(&d.Method, "method", "wallet", "wallet, card or mobile_money")
	cmd.Flags().StringVar(&d.Currency, "currency", "", "ISO currency code (default is the wallet currency)")
	cmd.Flags().StringVar(&d.Description, "description", "", "what the payment is for")
	cmd.Flags().StringVar(&d.Reference, "reference", "", "payment reference (generated when omitted)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the payment is settled or failed")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (a *app) verifyPaymentCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "verify-payment <reference>",
		Short: "Check the outcome of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verify := a.client.VerifyPayment
			if wait {
				verify = a.client.AwaitPayment
			}
			out, err := verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the payment is settled or failed")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func printOutcome(w io.Writer, out payments.Outcome) {
	fmt.Fprintf(w, "%s: %s\n", out.Reference, out.Status)
	fmt.Fprintf(w, "  amount:  %d %s\n", out.Amount, out.Currency)
	if out.Reason != "" {
		fmt.Fprintf(w, "  reason:  %s\n", out.Reason)
	}
	if out.Balance != nil {
		fmt.Fprintf(w, "  balance: %d\n", *out.Balance)
	}
}
