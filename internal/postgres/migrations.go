package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS pools (
  resource_type TEXT        NOT NULL,
  resource_id   TEXT        NOT NULL,
  committed     BIGINT      NOT NULL DEFAULT 0,
  version       BIGINT      NOT NULL DEFAULT 1,
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (resource_type, resource_id)
);

CREATE TABLE IF NOT EXISTS reservations (
  id            TEXT PRIMARY KEY,
  resource_type TEXT        NOT NULL,
  resource_id   TEXT        NOT NULL,
  quantity      BIGINT      NOT NULL CHECK (quantity > 0),
  status        TEXT        NOT NULL,
  requested_by  TEXT        NOT NULL DEFAULT '',
  work_order    TEXT        NOT NULL DEFAULT '',
  external_ref  TEXT        NOT NULL DEFAULT '',
  created_at    TIMESTAMPTZ NOT NULL,
  expires_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reservations_pool_status
  ON reservations (resource_type, resource_id, status);
CREATE INDEX IF NOT EXISTS idx_reservations_expiry
  ON reservations (status, expires_at);
`); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
