package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rezaab69/rathole-management/internal/events"
)

// startClickHouseContainer starts a ClickHouse container and returns the
// native-protocol address. It skips the test if Docker is unavailable.
func startClickHouseContainer(t *testing.T) (addr string, terminate func()) {
	t.Helper()
	ctx := context.Background()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get container host: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	return host + ":" + port.Port(), func() { _ = container.Terminate(ctx) }
}

func TestClickHouseSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	addr, terminate := startClickHouseContainer(t)
	defer terminate()

	sink, err := New(addr, "service_events")
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	sent := []events.Event{
		events.New(events.TypeStart, "web", 4242, ""),
		events.New(events.TypeForcedKill, "web", 4242, "kill escalation"),
	}
	for _, e := range sent {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send %s: %v", e.Type, err)
		}
	}

	var count uint64
	row := sink.conn.QueryRow(ctx, `SELECT COUNT(*) FROM service_events WHERE service = 'web'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != uint64(len(sent)) {
		t.Fatalf("row count = %d, want %d", count, len(sent))
	}

	var typ string
	var pid int64
	row = sink.conn.QueryRow(ctx, `SELECT type, pid FROM service_events WHERE detail = 'kill escalation'`)
	if err := row.Scan(&typ, &pid); err != nil {
		t.Fatalf("query forced kill row: %v", err)
	}
	if typ != string(events.TypeForcedKill) || pid != 4242 {
		t.Fatalf("row = %q pid=%d", typ, pid)
	}
}
