package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_LogAndRead(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	require.NoError(t, logger.Log(ctx, makeEvent(EventTypeRoleGrant, EventStatusSuccess, "a", "b", baseTime)))
	require.NoError(t, logger.Log(ctx, makeEvent(EventTypeRoleRevoke, EventStatusSuccess, "a", "b", baseTime)))

	events, err := logger.ReadEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeRoleGrant, events[0].EventType)
	assert.Equal(t, EventTypeRoleRevoke, events[1].EventType)

	first, err := logger.ReadEvents(1)
	require.NoError(t, err)
	assert.Len(t, first, 1)
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{
		BasePath: dir,
		Rotate:   true,
		MaxSize:  1,
		MaxFiles: 1,
	})
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	for _, et := range []EventType{EventTypeRoleGrant, EventTypeRoleRevoke, EventTypeSessionIssue} {
		require.NoError(t, logger.Log(ctx, makeEvent(et, EventStatusSuccess, "a", "b", baseTime)))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 1)

	current, err := logger.ReadEvents(0)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, EventTypeSessionIssue, current[0].EventType)
}

func TestFileLogger_LogAfterClose(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	err = logger.Log(context.Background(), makeEvent(EventTypeRoleGrant, EventStatusSuccess, "a", "b", baseTime))
	assert.ErrorContains(t, err, "closed")
}
