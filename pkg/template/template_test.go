package template

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rezaab69/rathole-management/internal/config"
)

func TestServiceClientScaffold(t *testing.T) {
	g := NewGenerator()
	for _, kind := range []Kind{KindClient, KindForward} {
		tmpl, err := g.Service(kind, "web")
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if tmpl.Kind != "client" || tmpl.Name != "web" {
			t.Fatalf("%s: unexpected scaffold %+v", kind, tmpl)
		}
		if tmpl.ClientLocalAddr == "" || tmpl.ClientRemoteAddr == "" {
			t.Fatalf("%s: client addresses missing: %+v", kind, tmpl)
		}
		if tmpl.Token != "" || tmpl.ServerBindAddr != "" {
			t.Fatalf("%s: unexpected server fields: %+v", kind, tmpl)
		}
	}
}

func TestServiceServerScaffold(t *testing.T) {
	g := NewGenerator()
	for _, kind := range []Kind{KindServer, KindExposed} {
		tmpl, err := g.Service(kind, "ssh")
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if tmpl.Kind != "server" || tmpl.ServerBindAddr == "" {
			t.Fatalf("%s: unexpected scaffold %+v", kind, tmpl)
		}
		if tmpl.ClientLocalAddr != "" || tmpl.ClientRemoteAddr != "" {
			t.Fatalf("%s: unexpected client fields: %+v", kind, tmpl)
		}
	}
}

func TestServiceRejectsUnknownKind(t *testing.T) {
	if _, err := NewGenerator().Service("mesh", "x"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestServiceJSONOmitsEmptyFields(t *testing.T) {
	data, err := NewGenerator().ServiceJSON(KindServer, "ssh")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if m["name"] != "ssh" || m["kind"] != "server" {
		t.Fatalf("unexpected document: %v", m)
	}
	for _, absent := range []string{"token", "client_local_addr", "client_remote_addr"} {
		if _, ok := m[absent]; ok {
			t.Fatalf("%s should be omitted: %v", absent, m)
		}
	}
}

func TestDaemonConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rathole-mgmt.toml")
	if err := os.WriteFile(path, NewGenerator().DaemonConfig(), 0o644); err != nil {
		t.Fatalf("write skeleton: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("skeleton does not load: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.Engine.Binary != "rathole" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Store.Type != "sqlite" || cfg.Auth.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected store/auth: %+v", cfg)
	}
	if cfg.TLS.Enabled || cfg.TLS.MinVersion != "1.3" {
		t.Fatalf("unexpected tls: %+v", cfg.TLS)
	}
}

func TestSupportedKinds(t *testing.T) {
	kinds := NewGenerator().SupportedKinds()
	joined := strings.Join(kinds, ",")
	for _, want := range []string{"client", "server", "config"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing kind %s in %v", want, kinds)
		}
	}
}
