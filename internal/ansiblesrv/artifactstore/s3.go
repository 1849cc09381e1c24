package artifactstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/rs/zerolog/log"
)

var ErrIncompleteS3Config = ErrArtifactStore.New("incomplete S3 configuration")

// S3API is the subset of the S3 client the backend calls.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Backend struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 builds the client from static credentials when both keys are set
// and from the default AWS credential chain otherwise.
func NewS3(ctx context.Context, cfg config.S3Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" || strings.TrimSpace(cfg.Region) == "" {
		return nil, ErrIncompleteS3Config
	}
	var client *s3.Client
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts := s3.Options{
			UsePathStyle: cfg.UsePathStyle,
			Region:       cfg.Region,
			Credentials: aws.NewCredentialsCache(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			),
		}
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		client = s3.New(opts)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, ErrIncompleteS3Config.MsgErr("unable to load AWS configuration", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
	}
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewS3WithClient(client S3API, bucket, prefix string) *Store {
	return newStore(&s3Backend{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")})
}

func (b *s3Backend) name() string { return "s3" }

func (b *s3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

// S3 has no rename, so the blob is staged in a local temp file until its
// digest is known.
func (b *s3Backend) stage(ctx context.Context) (stagedBlob, error) {
	tmp, err := os.CreateTemp("", "pulp-ansible-upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &s3Staged{f: tmp, b: b}, nil
}

type s3Staged struct {
	f *os.File
	b *s3Backend
}

func (s *s3Staged) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *s3Staged) commit(ctx context.Context, key string) (bool, error) {
	defer s.discard()
	exists, err := s.b.exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("rewinding temp file: %w", err)
	}
	uploader := manager.NewUploader(s.b.client)
	result, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.b.bucket),
		Key:    aws.String(s.b.objectKey(key)),
		Body:   s.f,
	})
	if err != nil {
		var mu manager.MultiUploadFailure
		if errors.As(err, &mu) {
			log.Ctx(ctx).Error().Str("upload_id", mu.UploadID()).Err(err).Msg("multi-upload failure")
			return false, fmt.Errorf("multi-upload failure (upload_id: %s): %w", mu.UploadID(), mu)
		}
		log.Ctx(ctx).Error().Err(err).Msg("upload failure")
		return false, fmt.Errorf("upload failure: %w", err)
	}
	log.Ctx(ctx).Debug().Str("location", result.Location).Msg("uploaded artifact to s3 bucket")
	return true, nil
}

func (s *s3Staged) discard() {
	if s.f == nil {
		return
	}
	s.f.Close()
	os.Remove(s.f.Name())
	s.f = nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func (b *s3Backend) open(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrArtifactNotFound.Msg("artifact not found: " + key)
		}
		return nil, ErrArtifactStore.MsgErr("failed to get artifact from S3", err)
	}
	if object.Body == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return object.Body, nil
}

func (b *s3Backend) exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, ErrArtifactStore.MsgErr("failed to stat artifact in S3", err)
}

func (b *s3Backend) remove(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return ErrArtifactStore.MsgErr("failed to delete artifact from S3", err)
	}
	return nil
}
