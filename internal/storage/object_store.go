package storage

import (
	"context"
	"io"
)

// ObjectStore archives run outputs. Completed output file groups are
// uploaded under a per-run prefix; DownloadDir restores an archived group.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	UploadDir(ctx context.Context, bucket, prefix, src string) error

	DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error
}
