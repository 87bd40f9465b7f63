package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const (
	schemaVersion    = 1
	bootstrapTimeout = 3 * time.Minute
	dimPlaceholder   = "{{EMBED_DIM}}"
)

// EnsureBootstrapped creates the schema on first start and refuses to run
// against a schema built for a different embedding dimension.
func EnsureBootstrapped(ctx context.Context, conn *sql.DB, embedDim int) error {
	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	dim, found, err := schemaDimension(ctx, conn)
	if err != nil {
		return err
	}
	if !found {
		return applySchema(ctx, conn, embedDim)
	}
	if dim != embedDim {
		return fmt.Errorf("schema was created for embedding dimension %d, configured %d", dim, embedDim)
	}
	slog.Debug("schema up to date", "version", schemaVersion, "embed_dim", dim)
	return nil
}

// schemaDimension reads the dimension recorded by a previous bootstrap.
// found is false on an empty database.
func schemaDimension(ctx context.Context, conn *sql.DB) (dim int, found bool, err error) {
	var exists bool
	if err := conn.QueryRowContext(ctx,
		`SELECT to_regclass('docindex_meta') IS NOT NULL`).Scan(&exists); err != nil {
		return 0, false, fmt.Errorf("look up schema meta: %w", err)
	}
	if !exists {
		return 0, false, nil
	}

	err = conn.QueryRowContext(ctx,
		`SELECT embed_dim FROM docindex_meta WHERE version = $1`, schemaVersion).Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema meta: %w", err)
	}
	return dim, true, nil
}

// renderSchema returns the bootstrap script with the vector column sized
// to embedDim.
func renderSchema(embedDim int) (string, error) {
	if embedDim <= 0 {
		return "", fmt.Errorf("invalid embedding dimension %d", embedDim)
	}
	raw, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	return strings.ReplaceAll(string(raw), dimPlaceholder, strconv.Itoa(embedDim)), nil
}

func applySchema(ctx context.Context, conn *sql.DB, embedDim int) error {
	script, err := renderSchema(embedDim)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	slog.Info("schema bootstrapped", "version", schemaVersion, "embed_dim", embedDim)
	return nil
}
