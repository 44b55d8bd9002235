package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nerrad567/gray-logic-serial/internal/infrastructure/config"
)

const (
	defaultPort           = 5432
	defaultConnectTimeout = 10 * time.Second
	applicationName       = "graylogic-serial"
)

// Pool is a pgx connection pool.
type Pool struct {
	*pgxpool.Pool
}

// ConnString builds a postgres:// URL from cfg. The password is embedded,
// so the result must not be logged.
func ConnString(cfg config.PostgresConfig) (string, error) {
	if cfg.Host == "" || cfg.Database == "" || cfg.User == "" {
		return "", fmt.Errorf("%w: host, database and user are required", ErrInvalidConfig)
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}

	q := u.Query()
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)
	if cfg.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(cfg.ConnectTimeout))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connect creates the pool and pings the server.
//
// Parameters:
//   - ctx: Parent context for the dial and ping
//   - cfg: The postgres section of config.yaml
//   - timeout: Upper bound for the initial ping (10s if zero)
//
// Returns:
//   - *Pool: Ready pool
//   - error: ErrInvalidConfig or ErrConnectionFailed
func Connect(ctx context.Context, cfg config.PostgresConfig, timeout time.Duration) (*Pool, error) {
	connStr, err := ConnString(cfg)
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing connection string: %w", ErrInvalidConfig, err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck pings the server.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}
