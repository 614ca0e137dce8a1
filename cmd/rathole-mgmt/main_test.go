package main

import (
	"io"
	"testing"
)

func setTestHome(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
}

func TestRootCommandTree(t *testing.T) {
	setTestHome(t)
	root := buildRoot()

	want := []string{"add", "add-file", "update", "remove", "start", "stop",
		"status", "server", "template", "login", "logout", "user", "serve"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing %q subcommand", name)
		}
	}
}

func TestHelpSucceeds(t *testing.T) {
	setTestHome(t)
	root := buildRoot()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help: %v", err)
	}
}

func TestAddRequiresNameAndKind(t *testing.T) {
	setTestHome(t)
	root := buildRoot()
	root.SilenceErrors = true
	root.SilenceUsage = true
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"add"})
	if err := root.Execute(); err == nil {
		t.Fatalf("add without required flags should fail")
	}
}

func TestServerSubcommands(t *testing.T) {
	setTestHome(t)
	root := buildRoot()

	for _, c := range root.Commands() {
		if c.Name() != "server" {
			continue
		}
		want := map[string]bool{"status": false, "start": false, "restart": false, "stop": false}
		for _, sub := range c.Commands() {
			if _, ok := want[sub.Name()]; ok {
				want[sub.Name()] = true
			}
		}
		for name, found := range want {
			if !found {
				t.Fatalf("server is missing %q subcommand", name)
			}
		}
		return
	}
	t.Fatalf("server subcommand not found")
}
