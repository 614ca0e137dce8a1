package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rezaab69/rathole-management/internal/auth"
	"github.com/rezaab69/rathole-management/internal/config"
	"github.com/rezaab69/rathole-management/internal/store"
	"github.com/rezaab69/rathole-management/pkg/client"
)

// LoginFlags holds flags for the login command.
type LoginFlags struct {
	Username string
	Password string
	API      APIFlags
}

func createLoginCommand(cli command) *cobra.Command {
	flags := &LoginFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to a daemon and store the session",
		Long: `Log in to a daemon and store the bearer token under
~/.rathole-mgmt/session.json for subsequent commands.

Examples:
  rathole-mgmt login --username=admin --password=secret
  rathole-mgmt login --username=admin --password=secret --api-url=http://vps:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Login(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Username, "username", "", "account name (required)")
	cmd.Flags().StringVar(&flags.Password, "password", "", "account password (required)")
	addAPIFlags(cmd, &flags.API)
	if err := cmd.MarkFlagRequired("username"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("password"); err != nil {
		panic(err)
	}
	return cmd
}

func createLogoutCommand(cli command) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Logout()
		},
	}
}

func (c command) Login(flags LoginFlags) error {
	cl := c.apiClient(flags.API)
	tok, err := cl.Login(context.Background(), flags.Username, flags.Password)
	if err != nil {
		return err
	}
	serverURL := flags.API.URL
	if serverURL == "" {
		if prev, _ := c.session.LoadSession(); prev != nil && prev.ServerURL != "" {
			serverURL = prev.ServerURL
		} else {
			serverURL = client.DefaultConfig().BaseURL
		}
	}
	session := &Session{
		Token:     tok.Value,
		TokenType: tok.Type,
		ExpiresAt: tok.ExpiresAt,
		Username:  flags.Username,
		ServerURL: serverURL,
	}
	if err := c.session.SaveSession(session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Printf("logged in as %s (session: %s)\n", flags.Username, c.session.GetSessionPath())
	return nil
}

func (c command) Logout() error {
	if err := c.session.ClearSession(); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

// UserFlags holds flags for the local user commands.
type UserFlags struct {
	Username string
	Password string
	Role     string
}

// createUserCommand manages accounts directly in the durable store, for
// provisioning before the daemon runs.
func createUserCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts in the local store",
		Long: `Manage accounts directly in the configured store. Use these on the
daemon host; running instances pick up changes on next login.

Examples:
  rathole-mgmt user create --username=admin --password=secret --role=admin --config=rathole-mgmt.toml
  rathole-mgmt user passwd --username=admin --password=newsecret --config=rathole-mgmt.toml`,
	}

	createFlags := &UserFlags{}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(globalFlags.ConfigPath, func(svc *auth.Service) error {
				user, err := svc.CreateUser(context.Background(), createFlags.Username, createFlags.Password, createFlags.Role)
				if err != nil {
					return err
				}
				fmt.Printf("created user %s (role %s)\n", user.Username, user.Role)
				return nil
			})
		},
	}
	create.Flags().StringVar(&createFlags.Username, "username", "", "account name (required)")
	create.Flags().StringVar(&createFlags.Password, "password", "", "account password (required)")
	create.Flags().StringVar(&createFlags.Role, "role", auth.RoleViewer, "account role: admin or viewer")
	if err := create.MarkFlagRequired("username"); err != nil {
		panic(err)
	}
	if err := create.MarkFlagRequired("password"); err != nil {
		panic(err)
	}

	passwdFlags := &UserFlags{}
	passwd := &cobra.Command{
		Use:   "passwd",
		Short: "Change an account's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthService(globalFlags.ConfigPath, func(svc *auth.Service) error {
				if err := svc.UpdatePassword(context.Background(), passwdFlags.Username, passwdFlags.Password); err != nil {
					return err
				}
				fmt.Printf("password updated for %s\n", passwdFlags.Username)
				return nil
			})
		},
	}
	passwd.Flags().StringVar(&passwdFlags.Username, "username", "", "account name (required)")
	passwd.Flags().StringVar(&passwdFlags.Password, "password", "", "new password (required)")
	if err := passwd.MarkFlagRequired("username"); err != nil {
		panic(err)
	}
	if err := passwd.MarkFlagRequired("password"); err != nil {
		panic(err)
	}

	cmd.AddCommand(create, passwd)
	return cmd
}

// withAuthService opens the configured store long enough to run fn.
func withAuthService(configPath string, fn func(*auth.Service) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return fn(auth.New(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL))
}
