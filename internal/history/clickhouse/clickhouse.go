package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/procpool/internal/history"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sink sends completion events to ClickHouse using the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port of the native interface), pings it, and
// creates table when it does not exist.
func New(addr, table string) (*Sink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			run_id String,
			occurred_at DateTime64(6),
			event LowCardinality(String),
			name String,
			program String,
			args Array(String),
			pid Int64,
			exit_code Int32,
			started_at Nullable(DateTime64(6)),
			finished_at Nullable(DateTime64(6)),
			output String,
			spawn_error Nullable(String),
			output_error Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, run_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (run_id, occurred_at, event, name, program, args, pid, exit_code, started_at, finished_at, output, spawn_error, output_error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	rec := e.Record
	args := rec.Args
	if args == nil {
		args = []string{}
	}
	err := s.conn.Exec(ctx, query,
		e.RunID,
		e.OccurredAt,
		string(e.Type),
		rec.Name,
		rec.Program,
		args,
		int64(rec.PID),
		int32(rec.ExitCode),
		optTime(rec.StartedAt),
		optTime(rec.FinishedAt),
		rec.Output,
		optString(rec.SpawnErr),
		optString(rec.OutputErr),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
