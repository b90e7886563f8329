package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cfg "github.com/sand/blue-carbon-registry/backend/config"
)

const (
	defaultMaxPoolSize       = 10
	defaultConnAttempts      = 5
	defaultConnTimeout       = 5 * time.Second
	defaultHealthCheckPeriod = time.Minute
)

type Postgres struct {
	maxPoolSize       int32
	connAttempts      int
	connTimeout       time.Duration
	healthCheckPeriod time.Duration
	isolation         pgx.TxIsoLevel

	Builder    squirrel.StatementBuilderType
	Pool       *pgxpool.Pool
	DBGetter   tx.DBGetter
	Transactor *tx.Transactor
}

type Option func(*Postgres)

func MaxPoolSize(size int32) Option {
	return func(p *Postgres) {
		if size > 0 {
			p.maxPoolSize = size
		}
	}
}

func ConnAttempts(attempts int) Option {
	return func(p *Postgres) {
		if attempts > 0 {
			p.connAttempts = attempts
		}
	}
}

// ConnTimeout is in seconds.
func ConnTimeout(seconds int) Option {
	return func(p *Postgres) {
		if seconds > 0 {
			p.connTimeout = time.Duration(seconds) * time.Second
		}
	}
}

// HealthCheckPeriod is in minutes.
func HealthCheckPeriod(minutes int) Option {
	return func(p *Postgres) {
		if minutes > 0 {
			p.healthCheckPeriod = time.Duration(minutes) * time.Minute
		}
	}
}

// Isolation sets the default isolation level of every connection.
func Isolation(level pgx.TxIsoLevel) Option {
	return func(p *Postgres) { p.isolation = level }
}

func New(config *cfg.Config, opts ...Option) (*Postgres, error) {
	pg := &Postgres{
		maxPoolSize:       defaultMaxPoolSize,
		connAttempts:      defaultConnAttempts,
		connTimeout:       defaultConnTimeout,
		healthCheckPeriod: defaultHealthCheckPeriod,
	}
	for _, opt := range opts {
		opt(pg)
	}

	pg.Builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	poolConfig, err := pgxpool.ParseConfig(config.DB.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = pg.maxPoolSize
	poolConfig.HealthCheckPeriod = pg.healthCheckPeriod
	if pg.isolation != "" {
		poolConfig.ConnConfig.RuntimeParams["default_transaction_isolation"] = string(pg.isolation)
	}

	for attempt := 1; attempt <= pg.connAttempts; attempt++ {
		if err = pg.connect(poolConfig); err == nil {
			break
		}
		if attempt < pg.connAttempts {
			time.Sleep(time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", pg.connAttempts, err)
	}

	pg.Transactor, pg.DBGetter = tx.NewTransactorFromPool(pg.Pool)

	return pg, nil
}

func (p *Postgres) connect(poolConfig *pgxpool.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.connTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return err
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return err
	}

	p.Pool = pool
	return nil
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}
