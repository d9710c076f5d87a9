package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage workspace credentials",
	}
	cmd.AddCommand(
		newCredentialAddCmd(),
		newCredentialListCmd(),
		newCredentialRemoveCmd(),
		newCredentialSetSecretCmd(),
		newCredentialValidateCmd(),
		newCredentialToggleCmd(),
	)
	return cmd
}

func newCredentialAddCmd() *cobra.Command {
	var secretStdin bool
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Store a new credential; the secret is read from --secret-stdin or NOTIONWIDGETS_NEW_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin(), secretStdin)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				cred, err := a.credentials.Create(cmd.Context(), args[0], secret)
				if err != nil {
					return err
				}
				republishCredentials(cmd.Context(), a)
				fmt.Fprintf(cmd.OutOrStdout(), "created credential %s (%s); run `credential validate %s` next\n", cred.ID, cred.Name, cred.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&secretStdin, "secret-stdin", false, "Read the secret from the first line of stdin")
	return cmd
}

func newCredentialListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credentials and their connected/activated flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				creds, err := a.credentials.List(cmd.Context())
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCONNECTED\tACTIVATED\tWORKSPACE\tLAST VALIDATED")
				for _, c := range creds {
					validated := "never"
					if !c.LastValidated.IsZero() {
						validated = c.LastValidated.Local().Format(time.DateTime)
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\t%s\n", c.ID, c.Name, c.Connected, c.Activated, c.WorkspaceName, validated)
				}
				return tw.Flush()
			})
		},
	}
}

func newCredentialRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a credential and its secret",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.credentials.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				if err := a.publisher.RemoveCredential(cmd.Context(), args[0]); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: shared snapshots not updated: %v\n", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted credential %s\n", args[0])
				return nil
			})
		},
	}
}

func newCredentialSetSecretCmd() *cobra.Command {
	var secretStdin bool
	cmd := &cobra.Command{
		Use:   "set-secret ID",
		Short: "Replace a credential's secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin(), secretStdin)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				if err := a.credentials.UpdateSecret(cmd.Context(), args[0], secret); err != nil {
					return err
				}
				republishCredentials(cmd.Context(), a)
				fmt.Fprintf(cmd.OutOrStdout(), "secret updated for %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&secretStdin, "secret-stdin", false, "Read the secret from the first line of stdin")
	return cmd
}

func newCredentialValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [ID]",
		Short: "Validate one credential, or all of them when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				defer republishCredentials(cmd.Context(), a)
				out := cmd.OutOrStdout()

				if len(args) == 0 {
					invalid, err := a.credentials.ValidateAll(cmd.Context())
					if err != nil {
						return err
					}
					if len(invalid) == 0 {
						fmt.Fprintln(out, "all credentials valid")
						return nil
					}
					fmt.Fprintf(out, "invalid: %s\n", strings.Join(invalid, ", "))
					return nil
				}

				valid, err := a.credentials.Validate(cmd.Context(), args[0])
				if valid {
					fmt.Fprintf(out, "%s: valid\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: rejected by remote\n", args[0])
				return nil
			})
		},
	}
}

func newCredentialToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle ID",
		Short: "Flip activation of a connected credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				cred, err := a.credentials.ToggleActivation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				republishCredentials(cmd.Context(), a)
				if !cred.Connected {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is disconnected; validate it before activating\n", cred.ID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s activated=%t\n", cred.ID, cred.Activated)
				return nil
			})
		},
	}
}

// readSecret returns the secret from stdin or NOTIONWIDGETS_NEW_SECRET, never
// from a positional argument.
func readSecret(stdin io.Reader, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read secret from stdin: %w", err)
		}
		if secret := strings.TrimSpace(line); secret != "" {
			return secret, nil
		}
		return "", errors.New("no secret on stdin")
	}

	if secret := strings.TrimSpace(os.Getenv("NOTIONWIDGETS_NEW_SECRET")); secret != "" {
		return secret, nil
	}
	return "", errors.New("no secret given: use --secret-stdin or set NOTIONWIDGETS_NEW_SECRET")
}

// republishCredentials refreshes the token snapshot so widgets reflect a
// one-shot command without waiting for the running scheduler.
func republishCredentials(ctx context.Context, a *app) {
	if err := a.publisher.PublishCredentials(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: shared snapshots not updated: %v\n", err)
	}
}
