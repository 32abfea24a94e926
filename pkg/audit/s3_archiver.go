package audit

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alshuail/portal-access/pkg/async"
	"github.com/alshuail/portal-access/pkg/observability"
)

var tracer = otel.Tracer("github.com/alshuail/portal-access/pkg/audit")

// ArchiveConfig locates the bucket that receives archived events
type ArchiveConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// PageSize bounds how many events are read from the store per query
	PageSize int
	// Uploads bounds concurrent PutObject calls
	Uploads int
}

// PutObjectAPI is the subset of the S3 client the archiver uses
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// EventSearcher reads events for archiving
type EventSearcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// ArchiveResult describes one archive run
type ArchiveResult struct {
	Events  int      `json:"events"`
	Objects []string `json:"objects"`
}

// NewS3Client builds an S3 client from cfg. Static keys are used when both are
// set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg ArchiveConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Archiver ships audit events to object storage as one JSON-lines object per UTC day
type S3Archiver struct {
	client   PutObjectAPI
	searcher EventSearcher
	bucket   string
	prefix   string
	pageSize int
	uploads  int
	metrics  *observability.OTelMetrics
	logger   *observability.Logger
}

// NewS3Archiver creates an archiver. metrics and logger may be nil.
func NewS3Archiver(client PutObjectAPI, searcher EventSearcher, cfg ArchiveConfig, metrics *observability.OTelMetrics, logger *observability.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Uploads <= 0 {
		cfg.Uploads = 4
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &S3Archiver{
		client:   client,
		searcher: searcher,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		pageSize: cfg.PageSize,
		uploads:  cfg.Uploads,
		metrics:  metrics,
		logger:   logger.WithField("component", "audit.archiver"),
	}, nil
}

type dayBatch struct {
	day    time.Time
	events []*Event
	key    string
}

// Archive uploads every event with start <= timestamp < end. A nil start means
// from the oldest event. Object keys derive from the event IDs they hold, so
// re-running over the same range overwrites rather than duplicates.
func (a *S3Archiver) Archive(ctx context.Context, start *time.Time, end time.Time) (*ArchiveResult, error) {
	ctx, span := tracer.Start(ctx, "audit.S3Archiver.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("archive.end", end.UTC().Format(time.RFC3339)),
		),
	)
	defer span.End()

	batches, total, err := a.collect(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read events")
		return nil, err
	}

	result := &ArchiveResult{Events: total, Objects: make([]string, 0, len(batches))}
	if total == 0 {
		span.SetStatus(codes.Ok, "nothing to archive")
		return result, nil
	}

	var mu sync.Mutex
	errs := async.Batch(ctx, batches, a.uploads, time.Minute, func(ctx context.Context, b *dayBatch) error {
		if err := a.upload(ctx, b); err != nil {
			return err
		}
		mu.Lock()
		result.Objects = append(result.Objects, b.key)
		mu.Unlock()
		return nil
	})
	sort.Strings(result.Objects)

	if len(errs) > 0 {
		err := fmt.Errorf("failed to upload %d of %d archive objects: %w", len(errs), len(batches), errs[0])
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return result, err
	}

	a.metrics.RecordAuditArchived(ctx, total)
	span.SetAttributes(attribute.Int("archive.events", total), attribute.Int("archive.objects", len(batches)))
	span.SetStatus(codes.Ok, "archived")
	a.logger.WithFields(map[string]interface{}{
		"events":  total,
		"objects": len(batches),
	}).Info("audit events archived")
	return result, nil
}

// collect pages through the range in ascending order and groups events by UTC day
func (a *S3Archiver) collect(ctx context.Context, start *time.Time, end time.Time) ([]*dayBatch, int, error) {
	byDay := make(map[time.Time]*dayBatch)
	var days []time.Time
	total := 0

	for offset := 0; ; offset += a.pageSize {
		page, err := a.searcher.Search(ctx, SearchFilter{
			StartTime: start,
			EndTime:   &end,
			Ascending: true,
			Limit:     a.pageSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to search audit events: %w", err)
		}

		for _, e := range page {
			ts := e.Timestamp.UTC()
			day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
			b, ok := byDay[day]
			if !ok {
				b = &dayBatch{day: day}
				byDay[day] = b
				days = append(days, day)
			}
			b.events = append(b.events, e)
		}
		total += len(page)

		if len(page) < a.pageSize {
			break
		}
	}

	batches := make([]*dayBatch, 0, len(days))
	for _, day := range days {
		b := byDay[day]
		b.key = a.objectKey(b)
		batches = append(batches, b)
	}
	return batches, total, nil
}

func (a *S3Archiver) objectKey(b *dayBatch) string {
	first := b.events[0].ID
	last := b.events[len(b.events)-1].ID
	key := fmt.Sprintf("%04d/%02d/%02d/audit-%d-%d.ndjson", b.day.Year(), int(b.day.Month()), b.day.Day(), first, last)
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

func (a *S3Archiver) upload(ctx context.Context, b *dayBatch) error {
	ctx, span := tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.operation", "PutObject"),
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", b.key),
		),
	)
	defer span.End()

	var buf bytes.Buffer
	if err := WriteNDJSON(&buf, b.events); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode events")
		return err
	}
	span.SetAttributes(attribute.Int("content.size", buf.Len()))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(ExportFormatNDJSON.ContentType()),
		Metadata: map[string]string{
			"event-count": strconv.Itoa(len(b.events)),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload %s: %w", b.key, err)
	}
	span.SetStatus(codes.Ok, "object uploaded")
	return nil
}
