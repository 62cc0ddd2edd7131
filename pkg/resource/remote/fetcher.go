// Package remote 读取对象存储上的 parquet 对象
//
// 对象经 Fetcher 下载（S3 或本地文件），由 RetryFetcher 按指数退避重试，
// 下载结果存入按内容哈希寻址的本地缓存，解码后的 chunk 另有内存缓存。
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/kasuganosora/colexec/pkg/config"
	"github.com/rs/zerolog"
)

// ErrObjectNotFound 对象不存在，不会重试
var ErrObjectNotFound = errors.New("object not found")

// Fetcher 按 URI 下载完整对象
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetcherFunc 函数形式的 Fetcher
type FetcherFunc func(ctx context.Context, uri string) ([]byte, error)

// Fetch 实现 Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

// ParseURI 解析 s3://bucket/key
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid object uri %q: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("unsupported object uri scheme %q in %q", u.Scheme, uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("object uri %q needs both bucket and key", uri)
	}
	return u.Host, key, nil
}

// S3Fetcher 通过 s3manager 并发分段下载对象
type S3Fetcher struct {
	downloader *s3manager.Downloader
}

// NewS3Fetcher 按配置创建会话，凭证取自环境变量
func NewS3Fetcher(cfg config.RemoteConfig) (*S3Fetcher, error) {
	s3Config := &aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewEnvCredentials(),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	downloader := s3manager.NewDownloader(s3Session, func(d *s3manager.Downloader) {
		if cfg.Concurrency > 0 {
			d.Concurrency = cfg.Concurrency
		}
	})
	return &S3Fetcher{downloader: downloader}, nil
}

// Fetch 实现 Fetcher
func (f *S3Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	logger := zerolog.Ctx(ctx)
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	buf := &aws.WriteAtBuffer{}
	s := time.Now()
	_, err = f.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
				return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
			}
		}
		return nil, fmt.Errorf("error downloading from s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("uri", uri).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("downloaded object from s3")
	return buf.Bytes(), nil
}

// FileFetcher 读取本地文件，URI 可以带 file:// 前缀
type FileFetcher struct{}

// Fetch 实现 Fetcher
func (FileFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "file://")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
	}
	return data, err
}

// NewFetcher 根据 URI 前缀选择实现：s3:// 走 S3，其余读取本地文件
func NewFetcher(cfg config.RemoteConfig) Fetcher {
	newS3 := sync.OnceValues(func() (*S3Fetcher, error) { return NewS3Fetcher(cfg) })
	return FetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		if !strings.HasPrefix(uri, "s3://") {
			return FileFetcher{}.Fetch(ctx, uri)
		}
		s3f, err := newS3()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return s3f.Fetch(ctx, uri)
	})
}

// RetryPolicy 重试参数
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// PolicyFromConfig 从远程配置读取重试参数
func PolicyFromConfig(cfg config.RemoteConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

// RetryFetcher 对临时错误做指数退避重试，对象不存在与取消不重试
type RetryFetcher struct {
	inner  Fetcher
	policy RetryPolicy
}

// NewRetryFetcher 包装 inner
func NewRetryFetcher(inner Fetcher, policy RetryPolicy) *RetryFetcher {
	return &RetryFetcher{inner: inner, policy: policy}
}

func (f *RetryFetcher) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if f.policy.InitialBackoff > 0 {
		b.InitialInterval = f.policy.InitialBackoff
	}
	if f.policy.MaxBackoff > 0 {
		b.MaxInterval = f.policy.MaxBackoff
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(f.policy.MaxRetries, 0))), ctx)
}

// Fetch 实现 Fetcher
func (f *RetryFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	logger := zerolog.Ctx(ctx)
	var data []byte
	op := func() error {
		var err error
		data, err = f.inner.Fetch(ctx, uri)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrObjectNotFound), ctx.Err() != nil:
			return backoff.Permanent(err)
		default:
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Str("uri", uri).Dur("retryIn", wait).Msg("object fetch failed, retrying")
	}
	if err := backoff.RetryNotify(op, f.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return data, nil
}
