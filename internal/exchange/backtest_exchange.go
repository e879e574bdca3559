package exchange

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/order"
)

// CandleSource 提供历史K线, 可以是下载器, 本地缓存或CSV文件
type CandleSource interface {
	Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.OHLCV, error)
}

// BacktestExchange 只提供历史数据, 所有交易操作都不可用,
// 回测中的撮合由模拟执行器完成。
type BacktestExchange struct {
	source CandleSource
}

// NewBacktestExchange 创建回测交易所
func NewBacktestExchange(source CandleSource) *BacktestExchange {
	return &BacktestExchange{source: source}
}

// FetchOHLCV 从数据源读取指定区间的K线
func (e *BacktestExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.OHLCV, error) {
	return e.source.Candles(ctx, symbol, timeframe, start, end)
}

// GetCurrentPrice 回测中没有实时价格
func (e *BacktestExchange) GetCurrentPrice(context.Context, string) (float64, error) {
	return 0, ErrUnsupported
}

// CreateOrder 回测交易所不下真实订单
func (e *BacktestExchange) CreateOrder(context.Context, string, order.Side, order.Type, float64, float64, string) (*order.Order, error) {
	return nil, ErrUnsupported
}

// CancelOrder 回测交易所没有真实挂单
func (e *BacktestExchange) CancelOrder(context.Context, string, string) error {
	return ErrUnsupported
}

// FetchOrder 回测交易所没有真实订单
func (e *BacktestExchange) FetchOrder(context.Context, string, string) (*order.Order, error) {
	return nil, ErrUnsupported
}

// GetExchangeStatus 回测数据源始终可用
func (e *BacktestExchange) GetExchangeStatus(context.Context) (string, error) {
	return "ok", nil
}

// ListenToTickerUpdates 回测模式没有实时行情
func (e *BacktestExchange) ListenToTickerUpdates(context.Context, string, time.Duration, TickerCallback) {
	logger.S().Error("回测模式不支持实时行情订阅")
}

// Close 无资源需要释放
func (e *BacktestExchange) Close() error {
	return nil
}

// CSVSource 从本地CSV文件读取K线, 文件列为
// timestamp,open,high,low,close,volume, 时间戳为毫秒或RFC3339。
type CSVSource struct {
	path string
}

// NewCSVSource 创建CSV数据源
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Candles 读取并过滤指定区间的K线, 按时间升序返回
func (s *CSVSource) Candles(_ context.Context, _, _ string, start, end time.Time) ([]models.OHLCV, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("打开历史数据文件失败: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取CSV失败: %w", err)
	}

	var out []models.OHLCV
	for i, rec := range records {
		if len(rec) < 6 {
			return nil, fmt.Errorf("第 %d 行字段数量不足: %d", i+1, len(rec))
		}
		ts, err := parseCSVTimestamp(rec[0])
		if err != nil {
			if i == 0 {
				continue // 表头行
			}
			return nil, fmt.Errorf("第 %d 行时间戳非法: %w", i+1, err)
		}
		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, fmt.Errorf("第 %d 行字段 %d 非法: %w", i+1, j, err)
			}
			vals[j-1] = v
		}
		if (!start.IsZero() && ts.Before(start)) || (!end.IsZero() && ts.After(end)) {
			continue
		}
		out = append(out, models.OHLCV{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func parseCSVTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
