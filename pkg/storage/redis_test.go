package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{
		URL:        "redis://" + mr.Addr(),
		MaxRetries: 2,
		PoolSize:   5,
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	assert.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Client().Set(ctx, "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))
	assert.NotNil(t, client.PoolStats())
}

func TestNewRedisClient_Errors(t *testing.T) {
	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisClient(context.Background(), RedisConfig{URL: "not-a-url"})
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + addr})
		assert.Error(t, err)
	})
}

func TestDialect(t *testing.T) {
	tests := []struct {
		driver  string
		want    Dialect
		wantErr bool
	}{
		{driver: "postgres", want: DialectPostgres},
		{driver: "pgx", want: DialectPostgres},
		{driver: "sqlite3", want: DialectSQLite},
		{driver: " SQLite ", want: DialectSQLite},
		{driver: "mysql", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := DialectForDriver(tt.driver)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "postgres", DialectPostgres.String())
	assert.Equal(t, "sqlite3", DialectSQLite.String())
	assert.Equal(t, "$3, $4, $5", Placeholders(3, 3))
	assert.Equal(t, "", Placeholders(1, 0))
}
