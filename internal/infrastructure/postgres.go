package infrastructure

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

func connectPostgres(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	// The database may still be coming up when the process starts.
	err = retry.Do(ctx, retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond)), func(ctx context.Context) error {
		return retry.RetryableError(db.Ping(ctx))
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
