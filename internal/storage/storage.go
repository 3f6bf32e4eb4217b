// Package storage uploads PDFs to S3-compatible object storage.
//
// An upload runs three steps in order: the metadata step opens a multipart
// upload, the bytes step sends the parts and completes it, and the grant step
// makes the object publicly readable. A failed step ends the upload.
package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotPDF   = errors.New("only PDF files can be uploaded")
	ErrTooLarge = errors.New("file is too large")
)

const minPartSize = 5 << 20

var pdfMagic = []byte("%PDF-")

var storageLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	storageLogger = l
}

// API is the part of the S3 client the uploader uses.
type API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client builds a client from static credentials when they are set and
// from the default AWS chain otherwise.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type Object struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

type Uploader struct {
	api           API
	bucket        string
	publicBaseURL string
	partSize      int64
	maxSize       int64
}

func NewUploader(api API, cfg config.StorageConfig) *Uploader {
	partSize := int64(cfg.PartSizeMB) << 20
	if partSize < minPartSize {
		partSize = minPartSize
	}

	base := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://" + cfg.Bucket + ".s3." + cfg.Region + ".amazonaws.com"
	}

	return &Uploader{
		api:           api,
		bucket:        cfg.Bucket,
		publicBaseURL: base,
		partSize:      partSize,
		maxSize:       int64(cfg.MaxUploadMB) << 20,
	}
}

// UploadPDF stores r under a new key. size is the declared length, -1 when unknown.
func (u *Uploader) UploadPDF(ctx context.Context, filename, contentType string, r io.Reader, size int64) (*Object, error) {
	obj, err := u.uploadPDF(ctx, filename, contentType, r, size)
	if err != nil {
		metrics.Uploads.WithLabelValues(uploadResult(err)).Inc()
		return nil, err
	}
	metrics.Uploads.WithLabelValues("ok").Inc()
	metrics.UploadBytes.Add(float64(obj.Size))
	return obj, nil
}

func uploadResult(err error) string {
	switch {
	case errors.Is(err, ErrNotPDF):
		return "rejected"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	}
	return "failed"
}

func (u *Uploader) uploadPDF(ctx context.Context, filename, contentType string, r io.Reader, size int64) (*Object, error) {
	br, err := checkPDF(filename, contentType, r)
	if err != nil {
		return nil, err
	}
	if u.maxSize > 0 && size > u.maxSize {
		return nil, fmt.Errorf("upload pdf: %d bytes: %w", size, ErrTooLarge)
	}

	key := "pdfs/" + uuid.New().String() + ".pdf"
	log := storageLogger.With().Str("bucket", u.bucket).Str("key", key).Str("filename", filename).Logger()

	// Metadata.
	created, err := u.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:             aws.String(u.bucket),
		Key:                aws.String(key),
		ContentType:        aws.String("application/pdf"),
		ContentDisposition: aws.String(mime.FormatMediaType("inline", map[string]string{"filename": path.Base(filename)})),
		Metadata:           map[string]string{"original-filename": path.Base(filename)},
	})
	if err != nil {
		return nil, fmt.Errorf("upload pdf: metadata: %w", err)
	}
	uploadID := created.UploadId
	log.Debug().Str("upload_id", aws.ToString(uploadID)).Msg("Multipart upload created")

	// Bytes.
	written, err := u.uploadParts(ctx, key, uploadID, br)
	if err != nil {
		u.abort(key, uploadID)
		return nil, fmt.Errorf("upload pdf: bytes: %w", err)
	}

	// Permission grant.
	_, err = u.api.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("upload pdf: grant: %w", err)
	}

	log.Info().Int64("bytes", written).Msg("PDF uploaded")

	return &Object{
		Key:         key,
		URL:         u.publicBaseURL + "/" + key,
		Size:        written,
		ContentType: "application/pdf",
	}, nil
}

// uploadParts sends r in partSize chunks. Part n covers bytes
// [(n-1)*partSize, n*partSize) of the file.
func (u *Uploader) uploadParts(ctx context.Context, key string, uploadID *string, r io.Reader) (int64, error) {
	var (
		parts   []types.CompletedPart
		written int64
		buf     = make([]byte, u.partSize)
	)

	for partNumber := int32(1); ; partNumber++ {
		n, readErr := io.ReadFull(r, buf)
		if n == 0 && readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return written, fmt.Errorf("read part %d: %w", partNumber, readErr)
		}
		if u.maxSize > 0 && written+int64(n) > u.maxSize {
			return written, ErrTooLarge
		}

		out, err := u.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			ContentLength: aws.Int64(int64(n)),
			Body:          bytes.NewReader(buf[:n]),
		})
		if err != nil {
			return written, fmt.Errorf("part %d: %w", partNumber, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
		written += int64(n)

		if readErr != nil {
			// io.ErrUnexpectedEOF: the last, short part was read.
			if !errors.Is(readErr, io.ErrUnexpectedEOF) && !errors.Is(readErr, io.EOF) {
				return written, fmt.Errorf("read part %d: %w", partNumber, readErr)
			}
			break
		}
	}

	_, err := u.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return written, fmt.Errorf("complete: %w", err)
	}
	return written, nil
}

func (u *Uploader) abort(key string, uploadID *string) {
	// The request context may already be cancelled.
	_, err := u.api.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	if err != nil {
		storageLogger.Warn().Err(err).Str("key", key).Msg("Failed to abort multipart upload")
	}
}

// Delete removes an uploaded object. Deleting a missing key is not an error.
func (u *Uploader) Delete(ctx context.Context, key string) error {
	_, err := u.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// KeyFromURL returns the object key of a URL built by this uploader, or "".
func (u *Uploader) KeyFromURL(url string) string {
	prefix := u.publicBaseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return ""
	}
	return strings.TrimPrefix(url, prefix)
}

// checkPDF rejects anything that is not a PDF by name, declared type and
// leading bytes. It only peeks, so the returned reader still has every byte.
func checkPDF(filename, contentType string, r io.Reader) (io.Reader, error) {
	if !strings.EqualFold(path.Ext(filename), ".pdf") {
		return nil, fmt.Errorf("upload pdf: %s: %w", filename, ErrNotPDF)
	}

	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || (mediaType != "application/pdf" && mediaType != "application/x-pdf") {
			return nil, fmt.Errorf("upload pdf: content type %q: %w", contentType, ErrNotPDF)
		}
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(pdfMagic))
	if err != nil || !bytes.Equal(head, pdfMagic) {
		return nil, fmt.Errorf("upload pdf: %s has no PDF header: %w", filename, ErrNotPDF)
	}
	return br, nil
}
