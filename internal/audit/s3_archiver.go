package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/irisforge/emissary/internal/model"
)

// Archiver uploads workflow trace JSON to object storage.
type Archiver interface {
	ArchiveTrace(ctx context.Context, w *model.WorkflowTrace) error
}

// S3Archiver writes traces to S3 paths like:
//
//	s3://<bucket>/<prefix>/traces/YYYY/MM/DD/<trace_id>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials are resolved
// from the environment by the SDK (AWS_REGION, AWS_PROFILE, key pair, etc.).
func NewS3Archiver(ctx context.Context, bucket string, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveTrace uploads the trace JSON to S3.
func (a *S3Archiver) ArchiveTrace(ctx context.Context, w *model.WorkflowTrace) error {
	if w == nil {
		return fmt.Errorf("nil trace")
	}
	b, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow trace: %w", err)
	}

	key := path.Join(a.prefix, "traces", w.InitiatedAt.UTC().Format("2006/01/02"), w.TraceID+".json")
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload trace %s: %w", w.TraceID, err)
	}
	return nil
}
