package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rezaab69/rathole-management/internal/auth"
	"github.com/rezaab69/rathole-management/internal/catalog"
	"github.com/rezaab69/rathole-management/internal/server"
	"github.com/rezaab69/rathole-management/internal/store"
	"github.com/rezaab69/rathole-management/internal/supervisor"
)

// newCmdDaemon runs a real daemon over httptest for the commands to talk to.
func newCmdDaemon(t *testing.T, authSvc *auth.Service, authEnabled bool) *httptest.Server {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts require a POSIX shell")
	}
	gin.SetMode(gin.TestMode)

	st, err := store.New(store.Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "cmd.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	cat := catalog.New(st)
	if err := cat.Load(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	bin := filepath.Join(t.TempDir(), "fake-rathole")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nsleep 300\n"), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	mgr := supervisor.New(cat, supervisor.Options{
		Binary: bin,
		Dir:    filepath.Join(t.TempDir(), "configs"),
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	ts := httptest.NewServer(server.NewRouter(mgr, authSvc, authEnabled, "/api").Handler())
	t.Cleanup(ts.Close)
	return ts
}

// newCLI returns a command wired to a session dir under the test's temp home.
func newCLI(t *testing.T) command {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	return command{session: NewSessionManager()}
}

func TestCmdServiceLifecycle(t *testing.T) {
	ts := newCmdDaemon(t, nil, false)
	cli := newCLI(t)
	api := APIFlags{URL: ts.URL + "/api"}

	if err := cli.Add(ServiceFlags{
		Name:       "web",
		Kind:       "client",
		LocalAddr:  "127.0.0.1:8080",
		RemoteAddr: "vps.example.com:2333",
		API:        api,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := cli.Status("web", api); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := cli.Status("", api); err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := cli.Start("web", api); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := cli.Stop("web", api); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := cli.Remove("web", api); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := cli.Status("web", api); err == nil {
		t.Fatalf("status of removed service should fail")
	}
}

func TestCmdSharedServer(t *testing.T) {
	ts := newCmdDaemon(t, nil, false)
	cli := newCLI(t)
	api := APIFlags{URL: ts.URL + "/api"}

	if err := cli.Add(ServiceFlags{
		Name:     "ssh",
		Kind:     "server",
		BindAddr: "0.0.0.0:7022",
		API:      api,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := cli.ServerStatus(api); err != nil {
		t.Fatalf("server status: %v", err)
	}
	if err := cli.ServerRestart(api); err != nil {
		t.Fatalf("server restart: %v", err)
	}
	if err := cli.ServerStop(api); err != nil {
		t.Fatalf("server stop: %v", err)
	}
}

func TestCmdErrorsSurfaceToCaller(t *testing.T) {
	ts := newCmdDaemon(t, nil, false)
	cli := newCLI(t)
	api := APIFlags{URL: ts.URL + "/api"}

	if err := cli.Start("ghost", api); err == nil {
		t.Fatalf("starting an unknown service should fail")
	}
	if err := cli.Add(ServiceFlags{Name: "bad", Kind: "client", API: api}); err == nil {
		t.Fatalf("adding a client without addresses should fail")
	}
}
