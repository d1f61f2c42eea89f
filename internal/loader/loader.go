// Package loader bulk-loads decoded entities into PostgreSQL with COPY.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/pbfkit/internal/config"
	"github.com/wegman-software/pbfkit/internal/logger"
	"github.com/wegman-software/pbfkit/internal/pbf"
)

// Table names, created in the configured schema.
const (
	NodesTable     = "osm_nodes"
	WaysTable      = "osm_ways"
	RelationsTable = "osm_relations"
)

var (
	nodeColumns     = []string{"id", "lat", "lon", "tags"}
	wayColumns      = []string{"id", "refs", "tags"}
	relationColumns = []string{"id", "member_types", "member_refs", "member_roles", "tags"}
)

// Stats holds loader statistics
type Stats struct {
	Nodes     atomic.Int64
	Ways      atomic.Int64
	Relations atomic.Int64
}

// Loader copies entities into the node, way and relation tables.
type Loader struct {
	pool         *pgxpool.Pool
	schema       string
	dropExisting bool
	stats        Stats
}

// NewLoader connects to the database described by cfg.
func NewLoader(ctx context.Context, cfg *config.Config) (*Loader, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = int32(max(cfg.Workers, 1))

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &Loader{pool: pool, schema: cfg.DBSchema, dropExisting: cfg.DropExisting}, nil
}

// Close closes connections
func (l *Loader) Close() {
	l.pool.Close()
}

// Stats returns the live row counters.
func (l *Loader) Stats() *Stats {
	return &l.stats
}

// Prepare creates the schema and unlogged tables, dropping or truncating
// existing ones.
func (l *Loader) Prepare(ctx context.Context) error {
	if l.schema != "" && l.schema != "public" {
		if _, err := l.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{l.schema}.Sanitize()); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	for _, table := range []string{NodesTable, WaysTable, RelationsTable} {
		name := l.qualified(table)
		if l.dropExisting {
			if _, err := l.pool.Exec(ctx, "DROP TABLE IF EXISTS "+name+" CASCADE"); err != nil {
				return fmt.Errorf("failed to drop %s: %w", table, err)
			}
		}
		if _, err := l.pool.Exec(ctx, createTableSQL(table, name)); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
		if !l.dropExisting {
			if _, err := l.pool.Exec(ctx, "TRUNCATE "+name); err != nil {
				return fmt.Errorf("failed to truncate %s: %w", table, err)
			}
		}
	}
	return nil
}

// Load copies one block's entities. It is safe to call from several
// goroutines; each call uses its own connection.
func (l *Loader) Load(ctx context.Context, ents *pbf.Entities) error {
	if len(ents.Nodes) > 0 {
		n, err := l.pool.CopyFrom(ctx, l.identifier(NodesTable), nodeColumns, pgx.CopyFromRows(nodeRows(ents.Nodes)))
		if err != nil {
			return fmt.Errorf("COPY %s failed: %w", NodesTable, err)
		}
		l.stats.Nodes.Add(n)
	}
	if len(ents.Ways) > 0 {
		n, err := l.pool.CopyFrom(ctx, l.identifier(WaysTable), wayColumns, pgx.CopyFromRows(wayRows(ents.Ways)))
		if err != nil {
			return fmt.Errorf("COPY %s failed: %w", WaysTable, err)
		}
		l.stats.Ways.Add(n)
	}
	if len(ents.Relations) > 0 {
		n, err := l.pool.CopyFrom(ctx, l.identifier(RelationsTable), relationColumns, pgx.CopyFromRows(relationRows(ents.Relations)))
		if err != nil {
			return fmt.Errorf("COPY %s failed: %w", RelationsTable, err)
		}
		l.stats.Relations.Add(n)
	}
	return nil
}

// Finish adds primary keys, marks tables logged and analyzes them.
func (l *Loader) Finish(ctx context.Context) error {
	log := logger.Get()
	for _, table := range []string{NodesTable, WaysTable, RelationsTable} {
		name := l.qualified(table)
		log.Info("Indexing table", zap.String("table", table))

		if _, err := l.pool.Exec(ctx, "ALTER TABLE "+name+" ADD PRIMARY KEY (id)"); err != nil {
			return fmt.Errorf("failed to index %s: %w", table, err)
		}
		if _, err := l.pool.Exec(ctx, "ALTER TABLE "+name+" SET LOGGED"); err != nil {
			log.Warn("Could not set table logged", zap.String("table", table), zap.Error(err))
		}
		if _, err := l.pool.Exec(ctx, "ANALYZE "+name); err != nil {
			return fmt.Errorf("failed to analyze %s: %w", table, err)
		}
	}
	return nil
}

func (l *Loader) identifier(table string) pgx.Identifier {
	if l.schema == "" {
		return pgx.Identifier{table}
	}
	return pgx.Identifier{l.schema, table}
}

func (l *Loader) qualified(table string) string {
	return l.identifier(table).Sanitize()
}

func createTableSQL(table, name string) string {
	switch table {
	case NodesTable:
		return fmt.Sprintf(`CREATE UNLOGGED TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			tags JSONB
		)`, name)
	case WaysTable:
		return fmt.Sprintf(`CREATE UNLOGGED TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL,
			refs BIGINT[] NOT NULL,
			tags JSONB
		)`, name)
	default:
		return fmt.Sprintf(`CREATE UNLOGGED TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL,
			member_types TEXT[] NOT NULL,
			member_refs BIGINT[] NOT NULL,
			member_roles TEXT[] NOT NULL,
			tags JSONB
		)`, name)
	}
}

// tagsJSON returns nil for untagged entities so the column is NULL.
func tagsJSON(tags map[string]string) any {
	if len(tags) == 0 {
		return nil
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func nodeRows(nodes []pbf.Node) [][]any {
	rows := make([][]any, len(nodes))
	for i, n := range nodes {
		rows[i] = []any{n.ID, n.LatDegrees(), n.LonDegrees(), tagsJSON(n.Tags)}
	}
	return rows
}

func wayRows(ways []pbf.Way) [][]any {
	rows := make([][]any, len(ways))
	for i, w := range ways {
		refs := w.Refs
		if refs == nil {
			refs = []int64{}
		}
		rows[i] = []any{w.ID, refs, tagsJSON(w.Tags)}
	}
	return rows
}

func relationRows(rels []pbf.Relation) [][]any {
	rows := make([][]any, len(rels))
	for i, r := range rels {
		types := make([]string, len(r.Members))
		refs := make([]int64, len(r.Members))
		roles := make([]string, len(r.Members))
		for j, m := range r.Members {
			types[j] = m.Type.String()
			refs[j] = m.Ref
			roles[j] = m.Role
		}
		rows[i] = []any{r.ID, types, refs, roles, tagsJSON(r.Tags)}
	}
	return rows
}
