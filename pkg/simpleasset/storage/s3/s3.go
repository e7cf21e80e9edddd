package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/tendant/simple-assets/pkg/simpleasset"
	"github.com/tendant/simple-assets/pkg/simpleasset/objectkey"
	"golang.org/x/sync/errgroup"
)

const backendName = "s3"

const (
	// maxCopyObjectSize is the largest source a single CopyObject accepts
	maxCopyObjectSize = 5 << 30

	// minCopyPartSize is the part size of a multipart copy before the part
	// count limit forces it up
	minCopyPartSize = 512 << 20

	copyConcurrency = 4
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)
	Prefix          string // Optional key prefix inside the bucket
	Layout          string // Key layout: "sharded" (default) or "flat"

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the simpleasset.BlobStore interface.
//
// Uploads stream into a private staging key through the multipart uploader.
// Commit copies the staging object to its hash-derived key server side, so a
// blob key never holds a partial object.
type Backend struct {
	client *s3.Client
	bucket string
	layout objectkey.Layout
	config Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}
	layout, err := objectkey.Parse(config.Layout, config.Prefix)
	if err != nil {
		return nil, err
	}

	// Set up AWS config
	var awsCfg aws.Config

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Use default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	backend := &Backend{
		client: s3.NewFromConfig(awsCfg, s3Options...),
		bucket: config.Bucket,
		layout: layout,
		config: config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// ManifestStore returns a manifest store sharing this backend's client and bucket
func (b *Backend) ManifestStore() *ManifestStore {
	return &ManifestStore{backend: b}
}

func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	var noSuchBucket *types.NoSuchBucket
	if !isNotFound(err) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, createInput)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Stage starts a streaming upload to a fresh staging key
func (b *Backend) Stage(ctx context.Context, sizeHint int64) (simpleasset.StagedWriter, error) {
	key := b.layout.StagingKey(uuid.NewString())
	uploader := manager.NewUploader(b.client, func(u *manager.Uploader) {
		u.PartSize = partSize(sizeHint)
	})

	upCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        pr,
		ContentType: aws.String("application/octet-stream"),
	}
	b.applySSE(input)

	w := &stagedObject{
		backend: b,
		key:     key,
		pw:      pw,
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() {
		// A failed multipart upload is aborted by the uploader
		_, err := uploader.Upload(upCtx, input)
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// Open streams the blob stored under hash
func (b *Backend) Open(ctx context.Context, hash simpleasset.ContentHash) (io.ReadCloser, error) {
	key := b.layout.BlobKey(hash.String())
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, simpleasset.NotFoundError("blob", hash.String())
		}
		return nil, simpleasset.NewStorageError(backendName, "get", key, err)
	}
	return result.Body, nil
}

// Exists reports whether a blob is stored under hash
func (b *Backend) Exists(ctx context.Context, hash simpleasset.ContentHash) (bool, error) {
	return b.exists(ctx, b.layout.BlobKey(hash.String()))
}

func (b *Backend) exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, simpleasset.NewStorageError(backendName, "head", key, err)
	}
	return true, nil
}

func (b *Backend) delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (b *Backend) applySSE(input *s3.PutObjectInput) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

type stagedObject struct {
	backend  *Backend
	key      string
	pw       *io.PipeWriter
	cancel   context.CancelFunc
	done     chan error
	size     int64
	finished bool
	uploaded bool
	err      error
}

func (s *stagedObject) Write(p []byte) (int, error) {
	n, err := s.pw.Write(p)
	s.size += int64(n)
	return n, err
}

// wait closes the pipe with cause and collects the uploader's result once
func (s *stagedObject) wait(cause error) error {
	if s.finished {
		return s.err
	}
	s.finished = true
	s.pw.CloseWithError(cause)
	s.err = <-s.done
	s.uploaded = s.err == nil
	return s.err
}

func (s *stagedObject) Commit(ctx context.Context, hash simpleasset.ContentHash) (bool, error) {
	defer s.cancel()
	if err := s.wait(nil); err != nil {
		return false, simpleasset.NewStorageError(backendName, "upload", s.key, err)
	}

	b := s.backend
	dest := b.layout.BlobKey(hash.String())
	exists, err := b.exists(ctx, dest)
	if err != nil {
		return false, err
	}
	if exists {
		s.dropStaging(ctx)
		return false, nil
	}

	if s.size > maxCopyObjectSize {
		err = b.multipartCopy(ctx, s.key, dest, s.size)
	} else {
		err = b.copyObject(ctx, s.key, dest)
	}
	if err != nil {
		return false, simpleasset.NewStorageError(backendName, "copy", dest, err)
	}
	s.dropStaging(ctx)
	return true, nil
}

func (b *Backend) copyObject(ctx context.Context, src, dest string) error {
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dest),
		CopySource: aws.String(b.bucket + "/" + src),
	}
	if b.config.EnableSSE && b.config.SSEAlgorithm == "AES256" {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	_, err := b.client.CopyObject(ctx, input)
	return err
}

// multipartCopy copies src to dest in ranged parts. The destination only
// becomes visible when the upload is completed.
func (b *Backend) multipartCopy(ctx context.Context, src, dest string, size int64) error {
	create := &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(dest),
		ContentType: aws.String("application/octet-stream"),
	}
	if b.config.EnableSSE {
		switch b.config.SSEAlgorithm {
		case "AES256":
			create.ServerSideEncryption = types.ServerSideEncryptionAes256
		case "aws:kms":
			create.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			if b.config.SSEKMSKeyID != "" {
				create.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
			}
		}
	}
	upload, err := b.client.CreateMultipartUpload(ctx, create)
	if err != nil {
		return err
	}

	ranges := copyRanges(size)
	parts := make([]types.CompletedPart, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(copyConcurrency)
	for i, r := range ranges {
		partNumber := aws.Int32(int32(i + 1))
		g.Go(func() error {
			out, err := b.client.UploadPartCopy(gctx, &s3.UploadPartCopyInput{
				Bucket:          aws.String(b.bucket),
				Key:             aws.String(dest),
				UploadId:        upload.UploadId,
				PartNumber:      partNumber,
				CopySource:      aws.String(b.bucket + "/" + src),
				CopySourceRange: aws.String(r.String()),
			})
			if err != nil {
				return fmt.Errorf("copy part %d: %w", *partNumber, err)
			}
			parts[i] = types.CompletedPart{ETag: out.CopyPartResult.ETag, PartNumber: partNumber}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.abortUpload(dest, upload.UploadId)
		return err
	}

	_, err = b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(dest),
		UploadId:        upload.UploadId,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		b.abortUpload(dest, upload.UploadId)
		return err
	}
	return nil
}

func (b *Backend) abortUpload(key string, uploadID *string) {
	// The caller's context may already be cancelled
	_, _ = b.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
}

// byteRange is an inclusive range of object bytes
type byteRange struct {
	start, end int64
}

func (r byteRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.start, r.end)
}

// copyRanges splits an object of size bytes into copy parts that stay within
// the multipart part count limit.
func copyRanges(size int64) []byteRange {
	if size <= 0 {
		return nil
	}
	maxParts := int64(manager.MaxUploadParts)
	partSize := int64(minCopyPartSize)
	if needed := (size + maxParts - 1) / maxParts; needed > partSize {
		partSize = needed
	}
	ranges := make([]byteRange, 0, (size+partSize-1)/partSize)
	for start := int64(0); start < size; start += partSize {
		end := start + partSize - 1
		if end >= size {
			end = size - 1
		}
		ranges = append(ranges, byteRange{start: start, end: end})
	}
	return ranges
}

func (s *stagedObject) Discard() error {
	defer s.cancel()
	s.wait(errDiscarded)
	if s.uploaded {
		return s.backend.delete(context.Background(), s.key)
	}
	return nil
}

func (s *stagedObject) dropStaging(ctx context.Context) {
	if err := s.backend.delete(ctx, s.key); err == nil {
		s.uploaded = false
	}
}

var errDiscarded = errors.New("upload discarded")

// partSize grows the multipart part size so that very large uploads stay
// within the part count limit.
func partSize(sizeHint int64) int64 {
	size := manager.DefaultUploadPartSize
	if sizeHint > 0 {
		if needed := sizeHint/int64(manager.MaxUploadParts-1) + 1; needed > size {
			size = needed
		}
	}
	return size
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
