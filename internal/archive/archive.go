// Package archive uploads a JSON snapshot of every finished job to an
// S3-compatible object store (SPEC_FULL §B.4), giving operators a durable,
// queryable-by-external-tools record of every run beyond the in-memory
// JobList.
//
// Grounded in the teacher's src/storage/minioctrl/minio.go:
// EnsureBucketExists-then-PutObject against github.com/minio/minio-go/v7.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/log"
)

// Archive uploads finished-job snapshots as JSON objects.
type Archive struct {
	client *minio.Client
	bucket string
}

// New connects to the object store described by cfg and ensures the target
// bucket exists.
func New(ctx context.Context, cfg config.Archive) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: failed to create minio client: %w", err)
	}

	a := &Archive{client: client, bucket: cfg.Bucket}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("archive: failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("archive: failed to create bucket: %w", err)
		}
	}
	return nil
}

// JobFinished implements worker.Lifecycle: every terminal job is archived
// as "<layerName>/<jobID>.json". A failure to archive is logged, not fatal:
// the JobList is still the source of truth for the job's own result.
func (a *Archive) JobFinished(job *jobmodel.Job) {
	if !job.Terminal() {
		return
	}
	snap := job.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Error(err, "archive: failed to marshal job snapshot", "job", snap.ID)
		return
	}

	objectName := fmt.Sprintf("%s/%s.json", snap.LayerName, snap.ID)
	ctx := context.Background()
	_, err = a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		log.Error(err, "archive: failed to upload job snapshot", "job", snap.ID)
	}
}

// JobStarted implements worker.Lifecycle; only finished jobs are archived.
func (a *Archive) JobStarted(job *jobmodel.Job) {}

// Get retrieves a previously archived snapshot.
func (a *Archive) Get(ctx context.Context, layerName, jobID string) (jobmodel.Record, error) {
	var rec jobmodel.Record
	obj, err := a.client.GetObject(ctx, a.bucket, fmt.Sprintf("%s/%s.json", layerName, jobID), minio.GetObjectOptions{})
	if err != nil {
		return rec, fmt.Errorf("archive: failed to get object: %w", err)
	}
	defer obj.Close()

	if err := json.NewDecoder(obj).Decode(&rec); err != nil {
		return rec, fmt.Errorf("archive: failed to decode object: %w", err)
	}
	return rec, nil
}
