// Package storage opens the databases the access service depends on.
//
// ConnectionManager owns the SQL primary and optional PostgreSQL read replicas.
// Both PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3) are supported; Dialect
// tells the stores which SQL variant to emit. RedisClient holds the Redis
// connection shared by the session store and the distributed rate limiter.
//
//	cm, err := storage.NewConnectionManager(storage.ConnectionConfig{
//		Driver:     "postgres",
//		PrimaryURL: os.Getenv("ACCESS_DATABASE_URL"),
//		MaxConns:   20,
//	}, logger)
//	if err != nil {
//		return err
//	}
//	defer cm.Close()
//
//	store := rbac.NewSQLStore(cm.Primary(), cm.Dialect())
package storage
