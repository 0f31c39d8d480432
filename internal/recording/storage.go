package recording

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
)

// MinioBlobs is the blob store holding the uploaded audio.
type MinioBlobs struct {
	client     *minio.Client
	bucketName string
}

func NewMinioBlobs(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*MinioBlobs, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &MinioBlobs{
		client:     client,
		bucketName: bucket,
	}, nil
}

func (s *MinioBlobs) Bucket() string {
	return s.bucketName
}

// URI is the audio location handed to the speech engine.
func (s *MinioBlobs) URI(key string) string {
	return "s3://" + s.bucketName + "/" + NormalizeKey(key)
}

func (s *MinioBlobs) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, NormalizeKey(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

// Delete removes the object. Removing a missing object is not an error.
func (s *MinioBlobs) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, NormalizeKey(key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return err
	}
	return nil
}

func (s *MinioBlobs) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucketName, NormalizeKey(key), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (s *MinioBlobs) PresignedPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucketName, NormalizeKey(key), expiry)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Open reads the object behind an s3://bucket/key URI produced by URI.
func (s *MinioBlobs) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse audio uri: %w", err)
	}
	if u.Scheme != "s3" || u.Host != s.bucketName {
		return nil, fmt.Errorf("audio uri %q is not in bucket %s", uri, s.bucketName)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, strings.TrimPrefix(u.Path, "/"), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

// ListenUploads streams bucket notifications for objects under the uploads prefix.
func (s *MinioBlobs) ListenUploads(ctx context.Context) <-chan notification.Info {
	return s.client.ListenBucketNotification(ctx, s.bucketName, UploadsPrefix+"/", "", []string{
		"s3:ObjectCreated:*",
		"s3:ObjectRemoved:*",
	})
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
