// Package archive uploads finalized experiment records to S3,
// best-effort and asynchronous, immediately after internal/configstore
// persists them as the system of record. A failed upload is logged and
// never blocks or fails controller.EndExperiment's synchronous contract.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"
)

// Archiver uploads experiment record JSON to one S3 bucket/prefix.
type Archiver struct {
	client *s3.S3
	bucket string
	prefix string
	log    *zap.Logger
}

// Config describes the S3 destination.
type Config struct {
	Bucket string
	Region string
	Prefix string
}

// New creates an Archiver from an already-resolved AWS session (region,
// credentials resolved the standard SDK way — environment, shared
// config, or instance role; this system never handles raw credentials
// itself).
func New(cfg Config, log *zap.Logger) (*Archiver, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, fmt.Errorf("archive: create aws session: %w", err)
	}
	return &Archiver{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}, nil
}

// key builds the object key for one finalized record, keyed by lane and
// UID so repeated runs on the same lane never collide.
func (a *Archiver) key(lane int, uid uint64, completedAt time.Time) string {
	name := fmt.Sprintf("lane%d/%d-%s.json", lane, uid, completedAt.UTC().Format("20060102T150405Z"))
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// UploadAsync marshals record to JSON and uploads it in a background
// goroutine; failures are logged, never returned, since the caller
// (controller.EndExperiment) must not block or fail on archival.
func (a *Archiver) UploadAsync(lane int, uid uint64, completedAt time.Time, record interface{}) {
	go func() {
		if err := a.upload(lane, uid, completedAt, record); err != nil {
			a.log.Error("experiment archival failed",
				zap.Int("lane", lane), zap.Uint64("uid", uid), zap.Error(err))
		}
	}()
}

func (a *Archiver) upload(lane int, uid uint64, completedAt time.Time, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := a.key(lane, uid, completedAt)
	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
