package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/vadim/converso/internal/config"
	"github.com/vadim/converso/internal/domain/chat/entity"
)

// AttachmentStore stores message attachments in an S3-compatible bucket
// (MinIO in development). Objects are immutable; messages reference them
// by public URL only.
type AttachmentStore struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewAttachmentStore creates an attachment store over the configured bucket.
func NewAttachmentStore(cfg config.S3) *AttachmentStore {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // MinIO
	})

	return &AttachmentStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}
}

// UploadInput carries one attachment payload.
type UploadInput struct {
	Reader      io.Reader
	ContentType string
	Size        int64
	Filename    string
}

// UploadOutput is the stored attachment reference.
type UploadOutput struct {
	Key        string
	Attachment entity.Attachment
	Size       int64
	UploadedAt time.Time
}

// Upload stores the payload under a date-prefixed random key and returns
// the attachment reference to embed in a message.
func (s *AttachmentStore) Upload(ctx context.Context, in UploadInput) (*UploadOutput, error) {
	ext := path.Ext(in.Filename)
	if ext == "" {
		ext = extensionFor(in.ContentType)
	}
	key := fmt.Sprintf("%s/%s%s", time.Now().UTC().Format("2006/01/02"), uuid.New(), ext)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          in.Reader,
		ContentType:   aws.String(in.ContentType),
		ContentLength: aws.Int64(in.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading attachment: %w", err)
	}

	return &UploadOutput{
		Key: key,
		Attachment: entity.Attachment{
			Kind: KindForContentType(in.ContentType),
			URL:  fmt.Sprintf("%s/%s", s.publicURL, key),
		},
		Size:       in.Size,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Delete removes an attachment object.
func (s *AttachmentStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}
	return nil
}

// KindForContentType maps a MIME type onto the attachment kind stored
// with the message. Anything that is not an image or video is a plain file.
func KindForContentType(contentType string) entity.AttachmentKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return entity.AttachmentKindImage
	case strings.HasPrefix(contentType, "video/"):
		return entity.AttachmentKindVideo
	default:
		return entity.AttachmentKindFile
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
