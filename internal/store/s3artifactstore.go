package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

const artifactObjectPrefix = "artifacts/"

// S3ArtifactStore stores one zip object per job and mints presigned
// GET URLs for GenerateJobDownloadUrl (spec.md §4.12/§6). Grounded on
// polyester's storage/s3.go session+client wiring; presigning uses
// aws-sdk-go's *Request.Presign, the standard v1-SDK mechanism for
// time-limited URLs, which polyester itself never needed since its
// Storage interface is write-only.
type S3ArtifactStore struct {
	svc    *s3.S3
	bucket string
}

func NewS3ArtifactStore(region, bucket string) (*S3ArtifactStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 artifact store: bucket must be set")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("s3 artifact store: new session: %w", err)
	}
	return &S3ArtifactStore{svc: s3.New(sess), bucket: bucket}, nil
}

func (s *S3ArtifactStore) key(jobID string) string {
	return artifactObjectPrefix + jobID + ".zip"
}

func (s *S3ArtifactStore) Put(ctx context.Context, jobID string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read artifact body: %w", err)
	}
	_, err = s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(jobID)),
		Body:        &byteSeeker{data: data},
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", jobID, err)
	}
	return nil
}

func (s *S3ArtifactStore) Open(ctx context.Context, jobID string) (io.ReadCloser, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get artifact %s: %w", jobID, err)
	}
	return out.Body, nil
}

func (s *S3ArtifactStore) SignedURL(ctx context.Context, jobID string, ttl time.Duration) (string, error) {
	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(jobID)),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("presign artifact %s: %w", jobID, err)
	}
	return url, nil
}

// byteSeeker adapts a []byte into the io.ReadSeeker PutObjectInput.Body
// requires (the SDK needs Seek to compute Content-Length / retry safely).
type byteSeeker struct {
	data []byte
	pos  int64
}

func (b *byteSeeker) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *byteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("byteSeeker: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("byteSeeker: negative position")
	}
	b.pos = newPos
	return newPos, nil
}
