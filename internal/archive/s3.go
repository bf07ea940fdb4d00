package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/hookdock/internal/config"
	"github.com/Shivanand-hulikatti/hookdock/internal/metrics"
	"github.com/Shivanand-hulikatti/hookdock/internal/model"
)

// ErrDisabled is returned when no archive bucket is configured.
var ErrDisabled = errors.New("archiving is not configured")

// ObjectPutter is the subset of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client loads the default AWS credential chain for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// Archiver uploads bin exports to S3.
type Archiver struct {
	events  EventWalker
	s3      ObjectPutter
	cfg     config.Archive
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewArchiver constructs an Archiver. client may be nil when cfg is not
// enabled; Archive then returns ErrDisabled.
func NewArchiver(events EventWalker, client ObjectPutter, cfg config.Archive, m *metrics.Metrics, log zerolog.Logger) *Archiver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Archiver{
		events:  events,
		s3:      client,
		cfg:     cfg,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Archive exports every event of binID and uploads it as a single object.
// The caller must have checked that the bin exists.
func (a *Archiver) Archive(ctx context.Context, binID string) (*model.ArchiveResponse, error) {
	if !a.cfg.Enabled() || a.s3 == nil {
		return nil, ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var buf bytes.Buffer
	n, err := WriteJSONLGZ(ctx, a.events, binID, &buf)
	if err != nil {
		a.metrics.Archives.WithLabelValues("export_error").Inc()
		return nil, fmt.Errorf("export bin %s: %w", binID, err)
	}

	key := a.objectKey(binID)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		a.metrics.Archives.WithLabelValues("upload_error").Inc()
		return nil, fmt.Errorf("upload s3://%s/%s: %w", a.cfg.Bucket, key, err)
	}

	a.metrics.Archives.WithLabelValues("ok").Inc()
	a.log.Info().
		Str("bin_id", binID).
		Str("bucket", a.cfg.Bucket).
		Str("key", key).
		Int("events", n).
		Int("bytes", buf.Len()).
		Msg("bin archived")
	return &model.ArchiveResponse{Bucket: a.cfg.Bucket, Key: key, Events: n}, nil
}

func (a *Archiver) objectKey(binID string) string {
	return fmt.Sprintf("%s%s/%s-%s.jsonl.gz",
		a.cfg.Prefix, binID, a.now().Format("20060102T150405Z"), uuid.NewString())
}
