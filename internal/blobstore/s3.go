package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

const (
	objectPrefix = "articles/"
	headWorkers  = 4
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PublicURL, when set, is the base under which objects are publicly readable.
	PublicURL string
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps articles in an S3-compatible bucket under their CIDv1, so an
// object key is derived from its content the same way an IPFS address is.
type S3Store struct {
	client    s3API
	bucket    string
	publicURL string
	log       *zap.Logger
}

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

func NewS3(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg, log), nil
}

func newS3Store(client s3API, cfg S3Config, log *zap.Logger) *S3Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		log:       log.Named("s3"),
	}
}

func objectKey(cid string) string {
	return objectPrefix + cid + ".json"
}

func (s *S3Store) Pin(ctx context.Context, article model.IPFSArticle) (string, error) {
	doc, err := encodeDocument(article)
	if err != nil {
		return "", fmt.Errorf("encode article: %w", err)
	}
	cid := CID(doc)

	meta := MetadataFor(article)
	// Object metadata travels as HTTP headers, so values are kept ASCII.
	headers := map[string]string{"name": meta.Name}
	for k, v := range meta.KeyValues {
		headers[strings.ToLower(k)] = url.QueryEscape(v)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(cid)),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
		Metadata:    headers,
	})
	if err != nil {
		return "", fmt.Errorf("%w: put object: %v", apperr.ErrUpstream, err)
	}
	return cid, nil
}

func (s *S3Store) List(ctx context.Context) ([]model.PublishedArticle, error) {
	var objects []types.Object
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(objectPrefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list objects: %v", apperr.ErrUpstream, err)
		}
		objects = append(objects, page.Contents...)
	}

	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).After(aws.ToTime(objects[j].LastModified))
	})
	if len(objects) > ListLimit {
		objects = objects[:ListLimit]
	}

	results := make([]*model.PublishedArticle, len(objects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headWorkers)
	for i, obj := range objects {
		key := aws.ToString(obj.Key)
		cid := strings.TrimSuffix(strings.TrimPrefix(key, objectPrefix), ".json")
		pinnedAt := aws.ToTime(obj.LastModified).UTC().Format("2006-01-02T15:04:05.000Z")
		g.Go(func() error {
			head, err := s.client.HeadObject(gctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
			if err != nil {
				return fmt.Errorf("%w: head %s: %v", apperr.ErrUpstream, cid, err)
			}
			kv := make(map[string]string, len(head.Metadata))
			for k, v := range head.Metadata {
				if decoded, err := url.QueryUnescape(v); err == nil {
					v = decoded
				}
				kv[strings.ToLower(k)] = v
			}
			if kv["app"] != AppTag {
				return nil
			}
			kv["publishedAt"] = kv["publishedat"]
			kv["confidenceScore"] = kv["confidencescore"]
			p := projection(cid, kv, pinnedAt)

			results[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	articles := make([]model.PublishedArticle, 0, len(results))
	for _, p := range results {
		if p != nil {
			articles = append(articles, *p)
		}
	}
	return articles, nil
}

func (s *S3Store) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if !ValidCID(cid) {
		return nil, fmt.Errorf("%w: malformed content id", apperr.ErrNotFound)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objectKey(cid))})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, cid)
		}
		return nil, fmt.Errorf("%w: get object: %v", apperr.ErrUpstream, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxDocSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read object: %v", apperr.ErrUpstream, err)
	}
	if CID(data) != cid {
		s.log.Warn("stored object does not match its content id", zap.String("cid", cid))
		return nil, fmt.Errorf("%w: content mismatch for %s", apperr.ErrUpstream, cid)
	}
	return data, nil
}

func (s *S3Store) GatewayURL(cid string) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + "/" + objectKey(cid)
}
