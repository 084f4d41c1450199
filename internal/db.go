package internal

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectPool creates a connection pool and verifies that the database is
// reachable. The application name is set on the connections so that they
// can be told apart in pg_stat_activity.
func ConnectPool(
	ctx context.Context, conn string, appName string,
) (*pgxpool.Pool, error) {
	connString, err := SetConnStringVariables(conn, url.Values{
		"application_name": []string{appName},
	})
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return pool, nil
}

func SetConnStringVariables(conn string, vars url.Values) (string, error) {
	u, err := url.Parse(conn)
	if err != nil {
		return "", fmt.Errorf("not a valid URI: %w", err)
	}

	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("%q is not a postgres:// URI", conn)
	}

	q := u.Query()

	for k, v := range vars {
		q[k] = v
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}
