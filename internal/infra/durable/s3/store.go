// Package s3 provides a durable record store on an S3-compatible bucket (AWS
// S3 or MinIO). Each entity is one JSON object; writes are conditional on the
// object's ETag so a stale version never replaces a newer one.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"hospitalcore/pkg/domain"
)

var _ domain.DurableStore = (*Store)(nil)

// versionMetadataKey names the object metadata entry holding the record version.
const versionMetadataKey = "version"

// Config holds explicit construction parameters.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string // optional
	PathStyle       bool
}

// Store implements domain.DurableStore on one bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 durable store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *Store) kindPrefix(kind domain.EntityType) string {
	if s.prefix == "" {
		return string(kind) + "/"
	}
	return s.prefix + "/" + string(kind) + "/"
}

func (s *Store) key(kind domain.EntityType, id string) string {
	return s.kindPrefix(kind) + id + ".json"
}

// Read returns the records of a kind matching filter, ordered by id.
func (s *Store) Read(ctx context.Context, kind domain.EntityType, filter domain.Filter) ([]domain.Record, error) {
	var keys []string
	if len(filter.IDs) > 0 {
		for _, id := range filter.IDs {
			keys = append(keys, s.key(kind, id))
		}
	} else {
		listed, err := s.list(ctx, s.kindPrefix(kind))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		keys = listed
	}
	var out []domain.Record
	for _, key := range keys {
		rec, ok, err := s.get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		if !ok || rec.Kind != kind || !filter.Matches(rec) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Write stores rec unless the object already holds the same or a newer
// version. A write that loses a concurrent race is treated as stale.
func (s *Store) Write(ctx context.Context, rec domain.Record) error {
	key := s.key(rec.Kind, rec.ID)
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	input := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{versionMetadataKey: strconv.FormatUint(rec.Version, 10)},
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	switch {
	case err == nil:
		if stored, ok := storedVersion(head.Metadata); ok && stored >= rec.Version {
			return nil
		}
		input.IfMatch = head.ETag
	case isNotFound(err):
		input.IfNoneMatch = aws.String("*")
	default:
		return fmt.Errorf("head %s: %w", key, err)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

func (s *Store) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if path.Ext(key) == ".json" {
				keys = append(keys, key)
			}
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		return keys, nil
	}
}

func (s *Store) get(ctx context.Context, key string) (domain.Record, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, err
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return domain.Record{}, false, err
	}
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Record{}, false, fmt.Errorf("decode: %w", err)
	}
	return rec, true, nil
}

func storedVersion(md map[string]string) (uint64, bool) {
	for k, v := range md {
		if !strings.EqualFold(k, versionMetadataKey) {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusPreconditionFailed
}
