package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dw-console-gateway/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore keeps the session record in a single-row table. It exists
// for deployments where the gateway runs as a shared service and the state
// must survive host replacement; the file store remains the default.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	userData, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	var license []byte
	if rec.License != nil {
		license, err = json.Marshal(rec.License)
		if err != nil {
			return fmt.Errorf("encode license: %w", err)
		}
	}

	savedAt := rec.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO gateway_session (slot, token, user_data, license, saved_at)
		 VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (slot) DO UPDATE
		 SET token = EXCLUDED.token,
		     user_data = EXCLUDED.user_data,
		     license = EXCLUDED.license,
		     saved_at = EXCLUDED.saved_at`,
		rec.Token, userData, license, savedAt)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Record, bool, error) {
	var (
		rec      Record
		userData []byte
		license  []byte
	)

	err := s.pool.QueryRow(ctx,
		`SELECT token, user_data, license, saved_at FROM gateway_session WHERE slot = 1`).
		Scan(&rec.Token, &userData, &license, &rec.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load session record: %w", err)
	}

	rec.User = &model.User{}
	if err := json.Unmarshal(userData, rec.User); err != nil {
		slog.Warn("stored user record corrupt, treating session as absent")
		return Record{}, false, nil
	}
	if len(license) > 0 {
		rec.License = &model.LicenseStatus{}
		if err := json.Unmarshal(license, rec.License); err != nil {
			rec.License = nil
		}
	}
	if rec.Token == "" {
		return Record{}, false, nil
	}

	return rec, true, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM gateway_session WHERE slot = 1`); err != nil {
		return fmt.Errorf("clear session record: %w", err)
	}
	return nil
}
