package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Shivanand-hulikatti/digital-library/internal/app"
)

func newCreateAdminCmd(e *env) *cobra.Command {
	var email, username string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator or promote an existing user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if e.cfg.UseMemoryStore {
				return errors.New("create-admin needs Postgres; unset USE_MEMORY_STORE")
			}
			if username == "" {
				return errors.New("--username is required")
			}

			password, err := readPassword(cmd.OutOrStdout(), cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			user, created, err := a.Auth().EnsureAdmin(ctx, email, username, password)
			if err != nil {
				return err
			}
			e.logger.Info("admin ready",
				zap.String("user_id", user.ID),
				zap.String("username", user.Username),
				zap.Bool("created", created),
			)
			verb := "promoted"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s %s\n", user.Username, verb)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email for a new admin account")
	cmd.Flags().StringVar(&username, "username", "", "username of the admin account")
	return cmd
}

// readPassword prompts without echo on a terminal and reads a line from in
// otherwise. An empty password is allowed when promoting an existing user.
func readPassword(out io.Writer, in io.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) && in == os.Stdin {
		fmt.Fprint(out, "Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
