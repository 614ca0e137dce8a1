package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rezaab69/rathole-management/pkg/client"
	"github.com/rezaab69/rathole-management/pkg/template"
)

// TemplateFlags holds flags for the template command.
type TemplateFlags struct {
	Kind   string
	Name   string
	Output string
	Force  bool
}

// AddFileFlags holds flags for the add-file command.
type AddFileFlags struct {
	File string
	API  APIFlags
}

const templatesDir = "templates"

// Template writes a starter document for the given kind.
func (c command) Template(f TemplateFlags) error {
	gen := template.NewGenerator()
	kind := template.Kind(f.Kind)

	if kind == template.KindConfig || kind == template.KindDaemon {
		out := f.Output
		if out == "" {
			out = "rathole-mgmt.toml"
		}
		if err := writeTemplate(out, gen.DaemonConfig(), f.Force); err != nil {
			return err
		}
		fmt.Printf("config template created: %s\n", out)
		fmt.Printf("Run the daemon with: rathole-mgmt serve %s\n", out)
		return nil
	}

	name := f.Name
	if name == "" {
		name = f.Kind + "-sample"
	}
	data, err := gen.ServiceJSON(kind, name)
	if err != nil {
		return err
	}
	out := f.Output
	if out == "" {
		if err := os.MkdirAll(templatesDir, 0o755); err != nil {
			return fmt.Errorf("create templates directory: %w", err)
		}
		out = filepath.Join(templatesDir, name+".json")
	}
	if err := writeTemplate(out, data, f.Force); err != nil {
		return err
	}
	fmt.Printf("template %q created: %s\n", name, out)
	fmt.Printf("Edit the template and register with: rathole-mgmt add-file --file %s\n", out)
	return nil
}

func writeTemplate(path string, data []byte, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return os.WriteFile(path, data, 0o644)
}

// AddFile registers a service from a JSON definition file.
func (c command) AddFile(f AddFileFlags) error {
	data, err := os.ReadFile(f.File)
	if err != nil {
		return fmt.Errorf("read definition: %w", err)
	}
	var svc client.Service
	if err := json.Unmarshal(data, &svc); err != nil {
		return fmt.Errorf("parse definition %s: %w", f.File, err)
	}
	if svc.Name == "" {
		return fmt.Errorf("definition %s has no name", f.File)
	}
	added, err := c.apiClient(f.API).AddService(context.Background(), svc)
	if err != nil {
		return err
	}
	printJSON(added)
	return nil
}

func createTemplateCommand(cli command) *cobra.Command {
	flags := &TemplateFlags{}
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write starter definition files",
		Long: `Write a starter document: a service definition ready to register,
or a daemon config with every section spelled out.

Supported kinds:
  client - dedicated client tunnel definition
  server - service exposed on the shared server
  config - daemon TOML configuration

Examples:
  rathole-mgmt template --kind=client --name=web
  rathole-mgmt template --kind=server --output=./ssh.json
  rathole-mgmt template --kind=config --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Template(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Kind, "kind", "", "template kind (required): client, server, config")
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (defaults to kind-sample)")
	cmd.Flags().StringVar(&flags.Output, "output", "", "output path (defaults to templates/name.json)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	if err := cmd.MarkFlagRequired("kind"); err != nil {
		panic(err)
	}
	return cmd
}

func createAddFileCommand(cli command) *cobra.Command {
	flags := &AddFileFlags{}
	cmd := &cobra.Command{
		Use:   "add-file",
		Short: "Define a tunnel service from a JSON file",
		Long: `Define a tunnel service from a JSON definition file, such as one
written by the template command. A token is generated when the file
does not carry one.

Examples:
  rathole-mgmt add-file --file=./templates/web.json
  rathole-mgmt add-file --file=./ssh.json --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.AddFile(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.File, "file", "", "JSON service definition (required)")
	addAPIFlags(cmd, &flags.API)
	if err := cmd.MarkFlagRequired("file"); err != nil {
		panic(err)
	}
	return cmd
}
