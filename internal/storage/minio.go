package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/logger"
)

const defaultBucket = "nudge-archive"

// Client archives purged notification jobs to MinIO
type Client struct {
	mc     *minio.Client
	bucket string
}

// Config holds MinIO connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// NewClient creates a new storage client
func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}

	return &Client{mc: mc, bucket: bucket}, nil
}

// Init creates the archive bucket if it doesn't exist
func (c *Client) Init(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}

	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", c.bucket, err)
		}
		logger.Info("bucket created", "bucket", c.bucket)
	}

	return nil
}

// ArchivedJob is the archived form of a job, one JSON object per line
type ArchivedJob struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ReminderType string     `json:"reminder_type"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	Message      string     `json:"message,omitempty"`
	Channel      string     `json:"channel,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EncodeJobs renders jobs as JSON lines
func EncodeJobs(list []*jobs.Job) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, j := range list {
		a := ArchivedJob{
			ID:           j.ID,
			UserID:       j.UserID,
			ReminderType: j.ReminderType,
			ScheduledAt:  j.ScheduledAt.UTC(),
			Status:       string(j.Status),
			RetryCount:   j.RetryCount,
			MaxRetries:   j.MaxRetries,
			Message:      j.Message,
			Channel:      j.Channel,
			ErrorMessage: j.ErrorMessage,
			CreatedAt:    j.CreatedAt.UTC(),
			UpdatedAt:    j.UpdatedAt.UTC(),
		}
		if !j.SentAt.IsZero() {
			sent := j.SentAt.UTC()
			a.SentAt = &sent
		}
		if err := enc.Encode(a); err != nil {
			return nil, fmt.Errorf("encode job %s: %w", j.ID, err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeJobs parses an archive object back into records
func DecodeJobs(r io.Reader) ([]ArchivedJob, error) {
	var out []ArchivedJob
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var a ArchivedJob
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, fmt.Errorf("decode archived job: %w", err)
		}
		out = append(out, a)
	}
	return out, scanner.Err()
}

// ArchiveKey names the object for a purge run
func ArchiveKey(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("jobs/%s/purge-%d.jsonl", at.Format("2006/01/02"), at.UnixNano())
}

// ArchiveJobs uploads one JSON lines object holding the given jobs
func (c *Client) ArchiveJobs(ctx context.Context, list []*jobs.Job, at time.Time) (string, error) {
	if len(list) == 0 {
		return "", nil
	}

	data, err := EncodeJobs(list)
	if err != nil {
		return "", err
	}

	key := ArchiveKey(at)
	_, err = c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", c.bucket, key, err)
	}

	logger.Info("jobs archived", "bucket", c.bucket, "key", key, "jobs", len(list))
	return key, nil
}

// ReadArchive downloads and decodes one archive object
func (c *Client) ReadArchive(ctx context.Context, key string) ([]ArchivedJob, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", c.bucket, key, err)
	}
	defer obj.Close()

	return DecodeJobs(obj)
}

// List lists archive objects under prefix
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", c.bucket, obj.Err)
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

// Healthy checks if MinIO is reachable
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.mc.BucketExists(ctx, c.bucket)
	return err == nil
}
