package bulkstore

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/bulkstore/blobstore"
	minioblob "github.com/hupe1980/bulkstore/blobstore/minio"
	s3blob "github.com/hupe1980/bulkstore/blobstore/s3"
)

// Spill URL schemes accepted by Config.SpillURL.
const (
	SpillSchemeFile   = "file"
	SpillSchemeMemory = "memory"
	SpillSchemeS3     = "s3"
	SpillSchemeMinio  = "minio"
)

// spillTarget is a parsed spill URL.
//
//	file:///var/lib/bulkstore/frames
//	memory://
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000&path_style=true
//	minio://host:9000/bucket/prefix?secure=false&region=us-east-1
type spillTarget struct {
	scheme   string
	path     string // file
	host     string // minio
	bucket   string
	prefix   string
	region   string
	endpoint string // s3
	secure   bool   // minio
	pathOnly bool   // s3 path-style addressing
}

func parseSpillURL(raw string) (spillTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return spillTarget{}, fmt.Errorf("%w: spill url: %w", ErrInvalidConfig, err)
	}
	q := u.Query()
	t := spillTarget{scheme: strings.ToLower(u.Scheme), region: q.Get("region")}

	switch t.scheme {
	case SpillSchemeFile:
		t.path = filepath.FromSlash(u.Host + u.Path)
		if t.path == "" {
			return spillTarget{}, fmt.Errorf("%w: spill url %q has no path", ErrInvalidConfig, raw)
		}
	case SpillSchemeMemory:
	case SpillSchemeS3:
		t.bucket = u.Host
		t.prefix = strings.Trim(u.Path, "/")
		t.endpoint = q.Get("endpoint")
		if v := q.Get("path_style"); v != "" {
			if t.pathOnly, err = strconv.ParseBool(v); err != nil {
				return spillTarget{}, fmt.Errorf("%w: spill url path_style: %w", ErrInvalidConfig, err)
			}
		}
	case SpillSchemeMinio:
		t.host = u.Host
		t.bucket, t.prefix, _ = strings.Cut(strings.Trim(u.Path, "/"), "/")
		t.secure = true
		if v := q.Get("secure"); v != "" {
			if t.secure, err = strconv.ParseBool(v); err != nil {
				return spillTarget{}, fmt.Errorf("%w: spill url secure: %w", ErrInvalidConfig, err)
			}
		}
		if t.host == "" {
			return spillTarget{}, fmt.Errorf("%w: spill url %q has no endpoint", ErrInvalidConfig, raw)
		}
	default:
		return spillTarget{}, fmt.Errorf("%w: unknown spill url scheme %q", ErrInvalidConfig, u.Scheme)
	}

	if (t.scheme == SpillSchemeS3 || t.scheme == SpillSchemeMinio) && t.bucket == "" {
		return spillTarget{}, fmt.Errorf("%w: spill url %q has no bucket", ErrInvalidConfig, raw)
	}
	return t, nil
}

// spillStore builds the frame store. SpillURL wins over DiskSpillPath; nil
// means spilling is disabled.
func (c Config) spillStore() (blobstore.Store, error) {
	if c.SpillURL == "" {
		if c.DiskSpillPath == "" {
			return nil, nil
		}
		return blobstore.NewLocalStore(filepath.Join(c.DiskSpillPath, "frames")), nil
	}

	t, err := parseSpillURL(c.SpillURL)
	if err != nil {
		return nil, err
	}
	switch t.scheme {
	case SpillSchemeFile:
		return blobstore.NewLocalStore(t.path), nil
	case SpillSchemeMemory:
		return blobstore.NewMemoryStore(), nil
	case SpillSchemeS3:
		return c.s3SpillStore(t)
	default:
		return c.minioSpillStore(t)
	}
}

func (c Config) s3SpillStore(t spillTarget) (blobstore.Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if t.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(t.region))
	}
	if c.SpillAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(c.SpillAccessKey, c.SpillSecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if t.endpoint != "" {
			o.BaseEndpoint = aws.String(t.endpoint)
		}
		o.UsePathStyle = t.pathOnly
	})
	return s3blob.NewStore(client, t.bucket, t.prefix), nil
}

func (c Config) minioSpillStore(t spillTarget) (blobstore.Store, error) {
	creds := miniocreds.NewEnvMinio()
	if c.SpillAccessKey != "" {
		creds = miniocreds.NewStaticV4(c.SpillAccessKey, c.SpillSecretKey, "")
	}
	client, err := minio.New(t.host, &minio.Options{
		Creds:  creds,
		Secure: t.secure,
		Region: t.region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client for %s: %w", t.host, err)
	}
	return minioblob.NewStore(minioblob.Wrap(client), t.bucket, t.prefix), nil
}
