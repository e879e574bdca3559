// Package storage 提供基于BadgerDB的K线缓存,
// 同一回测区间的数据只需要下载一次。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// upstream 是缓存未命中时的数据来源
type upstream interface {
	Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.OHLCV, error)
}

// CandleCache 把下载过的K线按 (交易对, 周期, 区间) 存入BadgerDB。
// K线是不可变数据, 缓存命中时直接返回, 不做过期处理。
type CandleCache struct {
	db     *badger.DB
	source upstream
}

// NewCandleCache 打开缓存数据库并包装上游数据源
func NewCandleCache(dbPath string, source upstream) (*CandleCache, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger自身的日志会干扰应用日志, 数据库错误仍会从操作中返回
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开K线缓存数据库失败: %w", err)
	}
	return &CandleCache{db: db, source: source}, nil
}

func cacheKey(symbol, timeframe string, start, end time.Time) []byte {
	return []byte(fmt.Sprintf("candles/%s/%s/%d-%d",
		symbol, timeframe, start.UnixMilli(), end.UnixMilli()))
}

// Candles 优先读取缓存, 未命中时从上游下载并写入缓存
func (c *CandleCache) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.OHLCV, error) {
	key := cacheKey(symbol, timeframe, start, end)

	cached, err := c.load(key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		logger.S().Infof("K线缓存命中: %s %s, 共 %d 条", symbol, timeframe, len(cached))
		return cached, nil
	}

	bars, err := c.source.Candles(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	if err := c.store(key, bars); err != nil {
		// 缓存写入失败不影响本次回测
		logger.S().Warnf("写入K线缓存失败: %v", err)
	}
	return bars, nil
}

func (c *CandleCache) load(key []byte) ([]models.OHLCV, error) {
	var bars []models.OHLCV
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &bars)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取K线缓存失败: %w", err)
	}
	return bars, nil
}

func (c *CandleCache) store(key []byte, bars []models.OHLCV) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Close 关闭缓存数据库
func (c *CandleCache) Close() error {
	return c.db.Close()
}
