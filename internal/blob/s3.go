package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"nestfs/internal/config"
	"nestfs/internal/nest"
)

// S3Store is an S3-backed implementation of the BlobStore interface.
// Blobs live under <prefix>/blobs/<hh>/<rest>, archives under
// <prefix>/archives/<name>. The remote object store gives the same
// write-once guarantees as the filesystem backend: existence plus a
// size check stands in for the on-disk collision test.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	detector nest.Detector
}

// NewS3Store creates an S3 blob store from configuration. Static
// credentials are used when configured; otherwise the default AWS
// credential chain applies.
func NewS3Store(cfg config.BlobConfig, detector nest.Detector) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 blob store requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		detector: detector,
	}, nil
}

func (s *S3Store) blobKey(hash string) string {
	return path.Join(s.prefix, "blobs", hash[:2], hash[2:])
}

func (s *S3Store) archiveKey(name string) string {
	return path.Join(s.prefix, "archives", name)
}

// Store uploads data under its hash. An existing object with a
// different size fails with ErrHashCollision; an existing object with
// the right size is left untouched.
func (s *S3Store) Store(hash string, data []byte) (string, error) {
	if len(hash) < 3 {
		return "", fmt.Errorf("malformed content hash %q", hash)
	}
	ctx := context.Background()
	key := s.blobKey(hash)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		if size := aws.ToInt64(head.ContentLength); size != int64(len(data)) {
			return "", fmt.Errorf("%w: hash %s exists with size %d, payload is %d",
				nest.ErrHashCollision, hash, size, len(data))
		}
		// Already stored.
	case isNotFound(err):
		mimeType, derr := s.detector.Detect(key, data)
		if derr != nil {
			return "", fmt.Errorf("detecting MIME type: %w", derr)
		}
		_, uerr := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(mimeType),
		})
		if uerr != nil {
			return "", fmt.Errorf("uploading blob %s: %w", hash, uerr)
		}
		return mimeType, nil
	default:
		return "", fmt.Errorf("checking blob %s: %w", hash, err)
	}

	mimeType, err := s.detector.Detect(key, data)
	if err != nil {
		return "", fmt.Errorf("detecting MIME type: %w", err)
	}
	return mimeType, nil
}

// Retrieve downloads the content stored under hash.
func (s *S3Store) Retrieve(hash string) ([]byte, error) {
	if len(hash) < 3 {
		return nil, fmt.Errorf("malformed content hash %q", hash)
	}
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.blobKey(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("blob %s: %w", hash, nest.ErrNotFound)
		}
		return nil, fmt.Errorf("downloading blob %s: %w", hash, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", hash, err)
	}
	return data, nil
}

// PutArchive uploads a named archive.
func (s *S3Store) PutArchive(name string, r io.Reader, size int64) error {
	_, err := s.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.archiveKey(name)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("uploading archive %s: %w", name, err)
	}
	return nil
}

// GetArchive downloads a named archive and writes it to w.
func (s *S3Store) GetArchive(name string, w io.Writer) error {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.archiveKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("archive %s: %w", name, nest.ErrNotFound)
		}
		return fmt.Errorf("downloading archive %s: %w", name, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading archive %s: %w", name, err)
	}
	return nil
}

// ValidateSetup verifies the bucket is reachable.
func (s *S3Store) ValidateSetup() error {
	_, err := s.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

// isNotFound reports whether an S3 error means the object or key does
// not exist.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

// Compile-time check that S3Store implements nest.BlobStore.
var _ nest.BlobStore = (*S3Store)(nil)
