package downloader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
)

// KlineDownloader 通过币安公共接口下载历史K线
type KlineDownloader struct {
	client *binance.Client
}

// NewKlineDownloader 创建下载器, 公共接口不需要API Key
func NewKlineDownloader() *KlineDownloader {
	return &KlineDownloader{
		client: binance.NewClient("", ""),
	}
}

// Candles 分页下载指定区间的K线, 单次请求最多1000条
func (d *KlineDownloader) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.OHLCV, error) {
	logger.S().Infof("开始下载 %s %s K线: %s ~ %s",
		symbol, timeframe, start.Format("2006-01-02"), end.Format("2006-01-02"))

	var out []models.OHLCV
	for t := start; t.Before(end); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			StartTime(t.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			bar, err := convertKline(k)
			if err != nil {
				return nil, err
			}
			out = append(out, bar)
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		logger.S().Debugf("已下载数据至 %s", t.Format("2006-01-02 15:04:05"))
		// 避免过于频繁的请求
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	logger.S().Infof("K线下载完成, 共 %d 条", len(out))
	return out, nil
}

func convertKline(k *binance.Kline) (models.OHLCV, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.OHLCV{}, fmt.Errorf("K线开盘价非法 %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.OHLCV{}, fmt.Errorf("K线最高价非法 %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.OHLCV{}, fmt.Errorf("K线最低价非法 %q: %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.OHLCV{}, fmt.Errorf("K线收盘价非法 %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.OHLCV{}, fmt.Errorf("K线成交量非法 %q: %w", k.Volume, err)
	}
	return models.OHLCV{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}
