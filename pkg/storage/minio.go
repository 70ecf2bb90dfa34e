// Package storage provides object storage for resolved-conversation archives.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"aibot-go/internal/config"
	"aibot-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient is the global MinIO client instance.
var MinioClient *minio.Client

// InitMinIO initializes the client and ensures the archive bucket exists.
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("failed to initialize MinIO client", err)
	}

	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("failed to check MinIO bucket", err)
	}

	if !exists {
		if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("failed to create MinIO bucket", err)
		}
		log.Infof("bucket '%s' created", bucketName)
	}

	log.Info("MinIO client initialized successfully")
}

// PutArchive stores one JSON archive object under
// {schema}/{yyyy-mm}/{escalationID}.json.
func PutArchive(ctx context.Context, bucketName, schema, escalationID string, payload []byte) (string, error) {
	if MinioClient == nil {
		return "", fmt.Errorf("minio client is not initialized")
	}
	objectName := fmt.Sprintf("%s/%s/%s.json", schema, time.Now().UTC().Format("2006-01"), escalationID)
	_, err := MinioClient.PutObject(ctx, bucketName, objectName, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to store archive object: %w", err)
	}
	return objectName, nil
}
