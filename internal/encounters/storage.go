package encounters

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/awsclient"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// ProgressFunc receives the bytes sent so far and the expected total. total
// is zero when the size is unknown.
type ProgressFunc func(sent, total int64)

// UploadMetrics receives uploaded byte counts
type UploadMetrics interface {
	RecordUpload(bytes int64)
}

// AudioStore uploads encounter audio to the configured bucket
type AudioStore struct {
	uploader awsclient.Uploader
	bucket   string
	prefix   string
	metrics  UploadMetrics
	logger   *logger.Logger
}

// NewAudioStore creates an audio store writing under prefix in bucket
func NewAudioStore(uploader awsclient.Uploader, bucket, prefix string, metrics UploadMetrics, log *logger.Logger) *AudioStore {
	return &AudioStore{
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		metrics:  metrics,
		logger:   log,
	}
}

// ObjectKey returns the key of an encounter's audio object. The extension
// of filename is kept so the transcription service can infer the format.
func (s *AudioStore) ObjectKey(providerID, encounterID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(s.prefix, providerID, encounterID+ext)
}

// Upload streams body to key and returns the object URI. progress, when
// set, is called as the uploader consumes the body.
func (s *AudioStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress ProgressFunc) (string, error) {
	reader := &progressReader{reader: body, total: size, progress: progress}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   reader,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input, func(u *manager.Uploader) {
		u.Concurrency = 1
	}); err != nil {
		return "", types.NewExternalError(types.ErrCodeUploadFailed, "failed to upload audio", err)
	}

	if s.metrics != nil {
		s.metrics.RecordUpload(reader.sent)
	}
	s.logger.WithComponent("encounters").WithField("key", key).WithField("bytes", reader.sent).Info("Audio uploaded")

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// progressReader counts bytes read and reports them
type progressReader struct {
	reader   io.Reader
	total    int64
	sent     int64
	progress ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.progress != nil {
			r.progress(r.sent, r.total)
		}
	}
	return n, err
}
