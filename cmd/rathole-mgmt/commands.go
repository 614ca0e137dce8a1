package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rezaab69/rathole-management/pkg/client"
)

// command carries the shared state of the remote subcommands.
type command struct {
	session *SessionManager
}

// apiClient builds a daemon client from flags and the stored session.
// Explicit flags win over the session's server URL.
func (c command) apiClient(api APIFlags) *client.Client {
	cfg := client.DefaultConfig()
	session, _ := c.session.LoadSession()
	if session != nil {
		if session.ServerURL != "" {
			cfg.BaseURL = session.ServerURL
		}
		cfg.Token = session.Token
	}
	if api.URL != "" {
		cfg.BaseURL = api.URL
	}
	if api.Timeout > 0 {
		cfg.Timeout = api.Timeout
	}
	return client.New(cfg)
}

func (c command) Add(flags ServiceFlags) error {
	svc := client.Service{
		Name:             flags.Name,
		Kind:             flags.Kind,
		Token:            flags.Token,
		ServerBindAddr:   flags.BindAddr,
		ClientLocalAddr:  flags.LocalAddr,
		ClientRemoteAddr: flags.RemoteAddr,
	}
	added, err := c.apiClient(flags.API).AddService(context.Background(), svc)
	if err != nil {
		return err
	}
	printJSON(added)
	return nil
}

func (c command) Update(cmd *cobra.Command, flags ServiceFlags) error {
	var patch client.ServicePatch
	if cmd.Flags().Changed("token") {
		patch.Token = &flags.Token
	}
	if cmd.Flags().Changed("bind-addr") {
		patch.ServerBindAddr = &flags.BindAddr
	}
	if cmd.Flags().Changed("local-addr") {
		patch.ClientLocalAddr = &flags.LocalAddr
	}
	if cmd.Flags().Changed("remote-addr") {
		patch.ClientRemoteAddr = &flags.RemoteAddr
	}
	updated, err := c.apiClient(flags.API).UpdateService(context.Background(), flags.Name, patch)
	if err != nil {
		return err
	}
	printJSON(updated)
	return nil
}

func (c command) Remove(name string, api APIFlags) error {
	if err := c.apiClient(api).RemoveService(context.Background(), name); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", name)
	return nil
}

func (c command) Start(name string, api APIFlags) error {
	if err := c.apiClient(api).StartService(context.Background(), name); err != nil {
		return err
	}
	fmt.Printf("started %s\n", name)
	return nil
}

func (c command) Stop(name string, api APIFlags) error {
	if err := c.apiClient(api).StopService(context.Background(), name); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", name)
	return nil
}

func (c command) Status(name string, api APIFlags) error {
	cl := c.apiClient(api)
	ctx := context.Background()
	if name == "" {
		list, err := cl.ListServices(ctx)
		if err != nil {
			return err
		}
		printJSON(list)
		return nil
	}
	st, err := cl.ServiceStatus(ctx, name)
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) ServerStatus(api APIFlags) error {
	st, err := c.apiClient(api).ServerStatus(context.Background())
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

func (c command) ServerStart(api APIFlags) error {
	if err := c.apiClient(api).StartServer(context.Background()); err != nil {
		return err
	}
	fmt.Println("shared server started")
	return nil
}

func (c command) ServerRestart(api APIFlags) error {
	if err := c.apiClient(api).RestartServer(context.Background()); err != nil {
		return err
	}
	fmt.Println("shared server restarted")
	return nil
}

func (c command) ServerStop(api APIFlags) error {
	if err := c.apiClient(api).StopServer(context.Background()); err != nil {
		return err
	}
	fmt.Println("shared server stopped")
	return nil
}
