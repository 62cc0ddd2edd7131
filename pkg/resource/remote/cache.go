package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/kasuganosora/colexec/pkg/config"
	"github.com/kasuganosora/colexec/pkg/types"
	"github.com/rs/zerolog"
)

const (
	indexPrefix = "uri:"
	blobDir     = "blobs"
	lockDir     = "locks"
	indexDir    = "index"
)

// Blob 缓存中的一个对象
type Blob struct {
	Hash string // 内容的 SHA-256 十六进制
	Data []byte
	Hit  bool // 是否命中本地缓存
}

// Cache 按内容哈希寻址的对象缓存
//
// 对象保存在 dir/blobs/<hash>，URI 到哈希的映射保存在 badger 中，
// 同一 URI 的并发读取以 flock 互斥，只下载一次。解码后的 chunk 缓存在内存中。
// badger 独占目录锁，一个缓存目录同时只能被一个进程打开，所以去重只发生在进程内。
type Cache struct {
	dir     string
	db      *badger.DB
	decoded *ristretto.Cache[string, []*types.Chunk]
}

// OpenCache 打开或创建缓存目录
func OpenCache(cfg config.CacheConfig, logger zerolog.Logger) (*Cache, error) {
	for _, sub := range []string{blobDir, lockDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Dir, indexDir)).
		WithLogger(badgerLogger{logger.With().Str("component", "cache-index").Logger()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	maxCost := int64(cfg.MaxCost)
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	decoded, err := ristretto.NewCache(&ristretto.Config[string, []*types.Chunk]{
		NumCounters: 1 << 16,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create decoded chunk cache: %w", err)
	}
	return &Cache{dir: cfg.Dir, db: db, decoded: decoded}, nil
}

// Close 关闭索引与内存缓存
func (c *Cache) Close() error {
	c.decoded.Close()
	return c.db.Close()
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) blobPath(hash string) string {
	return filepath.Join(c.dir, blobDir, hash)
}

func (c *Cache) lockPath(uri string) string {
	return filepath.Join(c.dir, lockDir, hashOf([]byte(uri))+".lock")
}

// lookup 查询 URI 对应的内容哈希
func (c *Cache) lookup(uri string) (string, bool, error) {
	var hash string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexPrefix + uri))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// readBlob 读取并校验对象，内容与哈希不一致视为未命中
func (c *Cache) readBlob(hash string) ([]byte, bool) {
	data, err := os.ReadFile(c.blobPath(hash))
	if err != nil || hashOf(data) != hash {
		return nil, false
	}
	return data, true
}

func (c *Cache) writeBlob(hash string, data []byte) error {
	path := c.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), hash+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Get 返回 URI 的对象；未缓存时调用 fetch 下载并写入缓存
func (c *Cache) Get(ctx context.Context, uri string, fetch Fetcher) (Blob, error) {
	logger := zerolog.Ctx(ctx)
	unlock, err := lockFile(ctx, c.lockPath(uri))
	if err != nil {
		return Blob{}, fmt.Errorf("failed to lock cache entry for %s: %w", uri, err)
	}
	defer unlock()

	hash, ok, err := c.lookup(uri)
	if err != nil {
		return Blob{}, fmt.Errorf("failed to read cache index: %w", err)
	}
	if ok {
		if data, valid := c.readBlob(hash); valid {
			logger.Debug().Str("uri", uri).Str("hash", hash).Msg("object cache hit")
			return Blob{Hash: hash, Data: data, Hit: true}, nil
		}
		logger.Warn().Str("uri", uri).Str("hash", hash).Msg("cached object missing or corrupt, refetching")
	}

	data, err := fetch.Fetch(ctx, uri)
	if err != nil {
		return Blob{}, err
	}
	hash = hashOf(data)
	if err := c.writeBlob(hash, data); err != nil {
		return Blob{}, fmt.Errorf("failed to write cached object: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(indexPrefix+uri), []byte(hash))
	})
	if err != nil {
		return Blob{}, fmt.Errorf("failed to update cache index: %w", err)
	}
	return Blob{Hash: hash, Data: data}, nil
}

// Invalidate 删除 URI 的映射，对象文件保留给其它 URI 共享
func (c *Cache) Invalidate(uri string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(indexPrefix + uri))
	})
}

func decodedKey(hash string, chunkSize int) string {
	return hash + "/" + strconv.Itoa(chunkSize)
}

// Chunks 查询已解码的 chunk
func (c *Cache) Chunks(hash string, chunkSize int) ([]*types.Chunk, bool) {
	return c.decoded.Get(decodedKey(hash, chunkSize))
}

// StoreChunks 保存解码结果，按估算字节数计费
func (c *Cache) StoreChunks(hash string, chunkSize int, chunks []*types.Chunk) {
	var cost int64
	for _, ch := range chunks {
		cost += ch.EstimatedSize()
	}
	c.decoded.Set(decodedKey(hash, chunkSize), chunks, max(cost, 1))
	c.decoded.Wait()
}

// badgerLogger 把 badger 的日志转给 zerolog
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.logger.Error().Msgf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.logger.Warn().Msgf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.logger.Debug().Msgf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.logger.Trace().Msgf(f, v...) }
