package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/tenant"
)

// RLSExec and RLSQuery are not present in the retrieved reference
// slice for the repo this codebase is modeled on, despite being used
// throughout its repository layer (e.g. GenerationJobRepository.Create
// wraps its INSERT in RLSExec). Their shape is reconstructed here from
// those call sites: each opens a transaction, sets the Postgres session
// variable a row-level-security policy reads (`app.current_tenant_id`),
// runs the caller's function against that transaction, and commits or
// rolls back. Every table governed by tenant isolation carries a
// `USING (tenant_id = current_setting('app.current_tenant_id')::uuid)`
// policy; SET LOCAL scopes the setting to the transaction so pooled
// connections cannot leak it across requests.

// RLSExec runs fn inside a transaction scoped to the tenant id carried
// on ctx, committing on success and rolling back on error or panic.
func RLSExec(ctx context.Context, db *DB, fn func(tx *sql.Tx) error) error {
	tenantID, ok := tenant.FromContext(ctx)
	if !ok {
		return fmt.Errorf("rls: no tenant in context")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rls: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := setTenantSession(ctx, tx, tenantID); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// RLSQuery is RLSExec's read-oriented counterpart: it runs fn inside a
// tenant-scoped transaction and returns fn's result alongside rolling
// back afterward, since reads never need to commit.
func RLSQuery[T any](ctx context.Context, db *DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T

	tenantID, ok := tenant.FromContext(ctx)
	if !ok {
		return zero, fmt.Errorf("rls: no tenant in context")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, fmt.Errorf("rls: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := setTenantSession(ctx, tx, tenantID); err != nil {
		return zero, err
	}

	return fn(tx)
}

func setTenantSession(ctx context.Context, tx *sql.Tx, tenantID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.current_tenant_id', $1, true)`, tenantID.String()); err != nil {
		return fmt.Errorf("rls: set tenant session: %w", err)
	}
	return nil
}
