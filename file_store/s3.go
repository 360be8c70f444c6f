package file_store

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-errors/errors"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

type S3BlobStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func (self *S3BlobStore) Exists(
	ctx context.Context, sha256 string) (bool, error) {
	_, err := self.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(self.bucket),
		Key:    aws.String(blobKey(self.prefix, sha256)),
	})
	if err == nil {
		return true, nil
	}

	var not_found *types.NotFound
	if stderrors.As(err, &not_found) {
		return false, nil
	}
	return false, errors.Wrap(err, 0)
}

func (self *S3BlobStore) Store(
	ctx context.Context, sha256, path string) error {
	exists, err := self.Exists(ctx, sha256)
	if err != nil || exists {
		return err
	}

	fd, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer fd.Close()

	_, err = self.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(self.bucket),
		Key:    aws.String(blobKey(self.prefix, sha256)),
		Body:   fd,
	})
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func NewS3BlobStore(
	ctx context.Context, mirror *config_proto.MirrorConfig) (*S3BlobStore, error) {
	conf := []func(*config.LoadOptions) error{}
	if mirror.Region != "" {
		conf = append(conf, config.WithRegion(mirror.Region))
	}

	// Empty credentials mean to get them from the process env.
	if mirror.CredentialsKey != "" && mirror.CredentialsSecret != "" {
		conf = append(conf, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				mirror.CredentialsKey, mirror.CredentialsSecret, "")))
	}

	s3_opts := []func(*s3.Options){}
	if mirror.Endpoint != "" {
		s3_opts = append(s3_opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(mirror.Endpoint)
			o.UsePathStyle = true
		})
	}

	sess, err := config.LoadDefaultConfig(ctx, conf...)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	client := s3.NewFromConfig(sess, s3_opts...)
	return &S3BlobStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   mirror.Bucket,
		prefix:   mirror.Prefix,
	}, nil
}
