package catalog

import (
	"context"
	"fmt"
)

// migrate creates the catalog tables. Every statement is idempotent.
//
// Tables:
//   - partitions: one row per stored day file; id grows monotonically so the
//     most recently written partition has the highest id
//   - coverage: fetch state per (source, symbol, timeframe, date)
func (c *Catalog) migrate(ctx context.Context) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "partitions_id_seq",
			sql:  `CREATE SEQUENCE IF NOT EXISTS partitions_id_seq START 1`,
		},
		{
			name: "partitions",
			sql: `CREATE TABLE IF NOT EXISTS partitions (
				id BIGINT PRIMARY KEY DEFAULT nextval('partitions_id_seq'),
				source VARCHAR NOT NULL,
				symbol VARCHAR NOT NULL,
				timeframe VARCHAR NOT NULL,
				date DATE NOT NULL,
				path VARCHAR NOT NULL,
				row_count BIGINT NOT NULL,
				written_at TIMESTAMP DEFAULT now()
			)`,
		},
		{
			name: "coverage",
			sql: `CREATE TABLE IF NOT EXISTS coverage (
				source VARCHAR NOT NULL,
				symbol VARCHAR NOT NULL,
				timeframe VARCHAR NOT NULL,
				date DATE NOT NULL,
				status VARCHAR NOT NULL,
				row_count BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP DEFAULT now(),
				PRIMARY KEY (source, symbol, timeframe, date)
			)`,
		},
		{
			name: "idx_partitions_key_date",
			sql:  `CREATE INDEX IF NOT EXISTS idx_partitions_key_date ON partitions(source, symbol, timeframe, date)`,
		},
	}

	for _, m := range migrations {
		if _, err := c.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		log.Debug("migration applied", "name", m.name)
	}

	log.Debug("schema migration completed", "migrations", len(migrations))
	return nil
}
