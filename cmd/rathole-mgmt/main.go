package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags for remote commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

// ServiceFlags holds the tunnel service fields for add/update.
type ServiceFlags struct {
	Name       string
	Kind       string
	Token      string
	BindAddr   string
	LocalAddr  string
	RemoteAddr string
	API        APIFlags
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	cli := command{session: NewSessionManager()}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createAddCommand(cli),
		createAddFileCommand(cli),
		createUpdateCommand(cli),
		createRemoveCommand(cli),
		createStartCommand(cli),
		createStopCommand(cli),
		createStatusCommand(cli),
		createServerCommand(cli),
		createTemplateCommand(cli),
		createLoginCommand(cli),
		createLogoutCommand(cli),
		createUserCommand(globalFlags),
		createServeCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "rathole-mgmt",
		Short: "Rathole tunnel service supervisor",
		Long: `Rathole-mgmt supervises rathole tunnel-engine processes: one shared
server process for all server-side services and one client process per
client-side service, with durable service definitions and rendered
engine configs.

Examples:
  rathole-mgmt serve --config=rathole-mgmt.toml
  rathole-mgmt add --name=web --kind=client --local-addr=127.0.0.1:8080 --remote-addr=vps:2333
  rathole-mgmt start --name=web
  rathole-mgmt status
  rathole-mgmt server restart`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, api *APIFlags) {
	cmd.Flags().StringVar(&api.URL, "api-url", "", "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&api.Timeout, "api-timeout", 10*time.Second, "request timeout")
}

func createAddCommand(cli command) *cobra.Command {
	flags := &ServiceFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Define a new tunnel service",
		Long: `Define a new tunnel service. A token is generated when none is given.

Examples:
  rathole-mgmt add --name=web --kind=server --bind-addr=0.0.0.0:5201
  rathole-mgmt add --name=ssh --kind=client --local-addr=127.0.0.1:22 --remote-addr=vps.example.com:2333`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Add(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (required)")
	cmd.Flags().StringVar(&flags.Kind, "kind", "", "service kind: server or client (required)")
	cmd.Flags().StringVar(&flags.Token, "token", "", "shared secret (generated when empty)")
	cmd.Flags().StringVar(&flags.BindAddr, "bind-addr", "", "server-side listen address")
	cmd.Flags().StringVar(&flags.LocalAddr, "local-addr", "", "client-side local endpoint")
	cmd.Flags().StringVar(&flags.RemoteAddr, "remote-addr", "", "client-side remote engine endpoint")
	addAPIFlags(cmd, &flags.API)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("kind"); err != nil {
		panic(err)
	}
	return cmd
}

func createUpdateCommand(cli command) *cobra.Command {
	flags := &ServiceFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change fields of an existing service",
		Long: `Change fields of an existing service. Only the given flags are
applied; name and kind are immutable. Updating a server-side service
while the shared server runs flags it for restart instead of applying
immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Update(cmd, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (required)")
	cmd.Flags().StringVar(&flags.Token, "token", "", "new shared secret")
	cmd.Flags().StringVar(&flags.BindAddr, "bind-addr", "", "new server-side listen address")
	cmd.Flags().StringVar(&flags.LocalAddr, "local-addr", "", "new client-side local endpoint")
	cmd.Flags().StringVar(&flags.RemoteAddr, "remote-addr", "", "new client-side remote endpoint")
	addAPIFlags(cmd, &flags.API)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createRemoveCommand(cli command) *cobra.Command {
	var name string
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a service, stopping its process first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Remove(name, *api)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name (required)")
	addAPIFlags(cmd, api)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createStartCommand(cli command) *cobra.Command {
	var name string
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a service's tunnel process",
		Long: `Start a service's tunnel process. For a server-side service this
ensures the shared server process is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Start(name, *api)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name (required)")
	addAPIFlags(cmd, api)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createStopCommand(cli command) *cobra.Command {
	var name string
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a client-side service's tunnel process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stop(name, *api)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name (required)")
	addAPIFlags(cmd, api)
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createStatusCommand(cli command) *cobra.Command {
	var name string
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long: `Show one service's status, or all services when --name is omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Status(name, *api)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "service name (all services when empty)")
	addAPIFlags(cmd, api)
	return cmd
}

func createServerCommand(cli command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Shared server process commands",
	}

	statusAPI := &APIFlags{}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the shared server process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServerStatus(*statusAPI)
		},
	}
	addAPIFlags(status, statusAPI)

	startAPI := &APIFlags{}
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the shared server process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServerStart(*startAPI)
		},
	}
	addAPIFlags(start, startAPI)

	restartAPI := &APIFlags{}
	restart := &cobra.Command{
		Use:   "restart",
		Short: "Restart the shared server with a freshly rendered config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServerRestart(*restartAPI)
		},
	}
	addAPIFlags(restart, restartAPI)

	stopAPI := &APIFlags{}
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the shared server process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServerStop(*stopAPI)
		},
	}
	addAPIFlags(stop, stopAPI)

	cmd.AddCommand(status, start, restart, stop)
	return cmd
}
