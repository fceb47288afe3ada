package uploadsservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/uploads"
)

const filenameMeta = "original-filename"

// Presigner is the subset of *s3.PresignClient the service uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectStat is the subset of *s3.Client the service uses.
type ObjectStat interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type Options struct {
	Bucket          string
	TTL             time.Duration
	MaxImageSize    int64
	MaxDocumentSize int64
}

type Service struct {
	presigner Presigner
	stat      ObjectStat
	opts      Options
}

func New(presigner Presigner, stat ObjectStat, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	return &Service{presigner: presigner, stat: stat, opts: opts}
}

func (s *Service) PresignUpload(ctx context.Context, filename, contentType string) (key, url string, err error) {
	const op = "services.uploads.PresignUpload"

	key, err = uploads.GenerateKey(filename, contentType)
	if err != nil {
		return "", "", err
	}

	req := &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			filenameMeta: filename,
		},
	}

	ps, err := s.presigner.PresignPutObject(ctx, req, func(po *s3.PresignOptions) {
		po.Expires = s.opts.TTL
	})
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	return key, ps.URL, nil
}

func (s *Service) PresignDownload(ctx context.Context, key string) (string, error) {
	const op = "services.uploads.PresignDownload"

	if err := uploads.ValidateKey(key); err != nil {
		return "", err
	}

	ps, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = s.opts.TTL
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return ps.URL, nil
}

// Describe turns an uploaded object into the attachment a message carries.
func (s *Service) Describe(ctx context.Context, key string) (messages.Attachment, error) {
	const op = "services.uploads.Describe"

	if err := uploads.ValidateKey(key); err != nil {
		return messages.Attachment{}, err
	}

	head, err := s.stat.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return messages.Attachment{}, uploads.ErrFileNotFound
		}
		return messages.Attachment{}, fmt.Errorf("%s: head object: %w", op, err)
	}

	contentType := aws.ToString(head.ContentType)
	size := aws.ToInt64(head.ContentLength)
	isImage := uploads.IsImage(contentType)

	limit := s.opts.MaxDocumentSize
	if isImage {
		limit = s.opts.MaxImageSize
	}
	if limit > 0 && size > limit {
		return messages.Attachment{}, uploads.ErrFileTooLarge
	}

	filename := key[strings.LastIndex(key, "/")+1:]
	if name := head.Metadata[filenameMeta]; name != "" {
		filename = name
	}

	url, err := s.PresignDownload(ctx, key)
	if err != nil {
		return messages.Attachment{}, fmt.Errorf("%s: %w", op, err)
	}

	return messages.Attachment{
		Filename: filename,
		Size:     size,
		URL:      url,
		IsImage:  isImage,
	}, nil
}
