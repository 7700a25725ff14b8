package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/tasksync/internal/api"
)

type credentialFlags struct {
	username string
	password string
}

func (f *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.username, "username", "", "Account username (prompted when empty)")
	cmd.Flags().StringVar(&f.password, "password", envOr("TASKSYNC_PASSWORD", ""), "Account password (prompted when empty)")
}

// resolve prompts on the command's input for anything not given as a flag.
func (f *credentialFlags) resolve(cmd *cobra.Command) (string, string, error) {
	reader := bufio.NewReader(cmd.InOrStdin())
	username := strings.TrimSpace(f.username)
	if username == "" {
		value, err := prompt(cmd, reader, "Username: ")
		if err != nil {
			return "", "", err
		}
		username = value
	}
	password := f.password
	if password == "" {
		value, err := prompt(cmd, reader, "Password: ")
		if err != nil {
			return "", "", err
		}
		password = value
	}
	if username == "" || password == "" {
		return "", "", errors.New("username and password are required")
	}
	return username, password, nil
}

func prompt(cmd *cobra.Command, reader *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newLoginCmd(app *App) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password, err := creds.resolve(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			e, err := openEngine(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()

			if err := e.coord.Login(cmd.Context(), username, password); err != nil {
				if errors.Is(err, api.ErrInvalidCredentials) {
					return writeErr(cmd, errors.New("invalid username or password"))
				}
				return writeErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)
			return nil
		},
	}
	creds.bind(cmd)
	return cmd
}

func newRegisterCmd(app *App) *cobra.Command {
	var creds credentialFlags
	var login bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the task service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username, password, err := creds.resolve(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			e, err := openEngine(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()

			if err := e.coord.Register(cmd.Context(), username, password); err != nil {
				return writeErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", username)
			if !login {
				return nil
			}
			if err := e.coord.Login(cmd.Context(), username, password); err != nil {
				return writeErr(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)
			return nil
		},
	}
	creds.bind(cmd)
	cmd.Flags().BoolVar(&login, "login", false, "Log in right after registering")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd.Context(), app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()

			if err := e.coord.Logout(cmd.Context()); err != nil {
				return writeErr(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
