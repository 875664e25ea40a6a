package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const credCols = `username, password, server_url, access_token, refresh_token, token_issued_at, updated_at`

func (r *repoPG) GetActive(ctx context.Context) (*Credentials, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+credCols+`
		FROM ezderm_credentials
		ORDER BY updated_at DESC
		LIMIT 1`)

	var c Credentials
	err := row.Scan(&c.Username, &c.Password, &c.ServerURL, &c.AccessToken,
		&c.RefreshToken, &c.TokenIssuedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active credentials: %w", err)
	}
	return &c, nil
}

func (r *repoPG) Upsert(ctx context.Context, c *Credentials) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ezderm_credentials (`+credCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (username) DO UPDATE SET
			password = EXCLUDED.password,
			server_url = EXCLUDED.server_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_issued_at = EXCLUDED.token_issued_at,
			updated_at = EXCLUDED.updated_at`,
		c.Username, c.Password, c.ServerURL, c.AccessToken,
		c.RefreshToken, c.TokenIssuedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}
