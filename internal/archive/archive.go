// Package archive writes board snapshots to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"taskboard/api/internal/store"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Exporter stores board snapshots as JSON objects.
type Exporter struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func New(opts Options) (*Exporter, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Exporter{client: client, bucket: opts.Bucket, now: time.Now}, nil
}

// EnsureBucket creates the export bucket when it is missing.
func (e *Exporter) EnsureBucket(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", e.bucket, err)
	}
	if exists {
		return nil
	}
	if err := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", e.bucket, err)
	}
	return nil
}

// Snapshot is the document written for each export.
type Snapshot struct {
	ExportedAt time.Time         `json:"exported_at"`
	Board      store.BoardDetail `json:"board"`
}

// ObjectKey names the object for a board exported at a given time.
func ObjectKey(boardUUID string, at time.Time) string {
	return fmt.Sprintf("boards/%s/%d.json", boardUUID, at.UTC().Unix())
}

// Encode renders the snapshot body.
func Encode(board store.BoardDetail, at time.Time) ([]byte, error) {
	body, err := json.MarshalIndent(Snapshot{ExportedAt: at.UTC(), Board: board}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return body, nil
}

// ExportBoard uploads the board and returns the object key.
func (e *Exporter) ExportBoard(ctx context.Context, board store.BoardDetail) (string, error) {
	at := e.now()
	body, err := Encode(board, at)
	if err != nil {
		return "", err
	}
	key := ObjectKey(board.UUID, at)
	_, err = e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}
