package audit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), meta: make(map[string]map[string]string)}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(params.Key)
	f.objects[key] = body
	f.meta[key] = params.Metadata
	return &s3.PutObjectOutput{}, nil
}

func countLines(t *testing.T, data []byte) int {
	t.Helper()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for scanner.Scan() {
		n++
	}
	return n
}

func TestS3Archiver_GroupsByDay(t *testing.T) {
	logger := setupSQLiteLogger(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, logger.Log(ctx, makeEvent(EventTypeRoleGrant, EventStatusSuccess, "a", "b", day1.Add(time.Duration(i)*time.Minute))))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, logger.Log(ctx, makeEvent(EventTypeRoleRevoke, EventStatusSuccess, "a", "b", day2.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, logger.Log(ctx, makeEvent(EventTypeRoleGrant, EventStatusSuccess, "a", "b", day2.Add(48*time.Hour))))

	client := newFakeS3()
	archiver, err := NewS3Archiver(client, logger, ArchiveConfig{Bucket: "portal-audit", Prefix: "/events/", PageSize: 2}, nil, nil)
	require.NoError(t, err)

	result, err := archiver.Archive(ctx, nil, day2.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Events)
	assert.Equal(t, []string{
		"events/2026/03/01/audit-1-3.ndjson",
		"events/2026/03/02/audit-4-5.ndjson",
	}, result.Objects)

	assert.Equal(t, 3, countLines(t, client.objects["events/2026/03/01/audit-1-3.ndjson"]))
	assert.Equal(t, 2, countLines(t, client.objects["events/2026/03/02/audit-4-5.ndjson"]))
	assert.Equal(t, "2", client.meta["events/2026/03/02/audit-4-5.ndjson"]["event-count"])
}

func TestS3Archiver_Empty(t *testing.T) {
	client := newFakeS3()
	archiver, err := NewS3Archiver(client, setupSQLiteLogger(t), ArchiveConfig{Bucket: "portal-audit"}, nil, nil)
	require.NoError(t, err)

	result, err := archiver.Archive(context.Background(), nil, baseTime)
	require.NoError(t, err)
	assert.Zero(t, result.Events)
	assert.Empty(t, result.Objects)
	assert.Empty(t, client.objects)
}

func TestS3Archiver_UploadFailure(t *testing.T) {
	logger := setupSQLiteLogger(t)
	require.NoError(t, logger.Log(context.Background(), makeEvent(EventTypeRoleGrant, EventStatusSuccess, "a", "b", baseTime)))

	client := newFakeS3()
	client.err = errors.New("access denied")
	archiver, err := NewS3Archiver(client, logger, ArchiveConfig{Bucket: "portal-audit"}, nil, nil)
	require.NoError(t, err)

	_, err = archiver.Archive(context.Background(), nil, baseTime.Add(time.Hour))
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(newFakeS3(), nil, ArchiveConfig{}, nil, nil)
	assert.Error(t, err)
}
