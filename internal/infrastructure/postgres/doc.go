// Package postgres provides the PostgreSQL connection pool for the serial
// bridge's optional postgres log sink.
//
// Credentials normally come from GRAYLOGIC_DB_HOST, GRAYLOGIC_DB_USER,
// GRAYLOGIC_DB_PASSWORD and GRAYLOGIC_DB_NAME rather than the config file.
//
// Usage:
//
//	pool, err := postgres.Connect(ctx, cfg.Postgres, cfg.GetPostgresConnectTimeout())
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
package postgres
