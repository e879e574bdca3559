package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/order"

	"github.com/gorilla/websocket"
)

// APIError 是交易所返回的业务错误
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("交易所错误 %d: %s", e.Code, e.Message)
}

// LiveExchange 通过REST与WebSocket接入币安现货市场。
// 签名请求使用HMAC-SHA256, 时间戳带服务器时间偏移。
type LiveExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	wsBaseURL  string
	feeRate    float64
	httpClient *http.Client
	timeOffset int64

	mu     sync.Mutex
	wsConn *websocket.Conn
}

// NewLiveExchange 创建实盘交易所客户端并与服务器同步时间
func NewLiveExchange(apiKey, secretKey, baseURL, wsBaseURL string, feeRate float64) (*LiveExchange, error) {
	e := &LiveExchange{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		wsBaseURL:  wsBaseURL,
		feeRate:    feeRate,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if err := e.syncTime(context.Background()); err != nil {
		return nil, fmt.Errorf("与交易所服务器同步时间失败: %w", err)
	}
	return e, nil
}

// syncTime 计算本地时间与服务器时间的偏移
func (e *LiveExchange) syncTime(ctx context.Context) error {
	data, err := e.doRequest(ctx, "GET", "/api/v3/time", nil, false)
	if err != nil {
		return err
	}
	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	e.timeOffset = result.ServerTime - time.Now().UnixMilli()
	logger.S().Infof("服务器时间同步完成, 偏移 %dms", e.timeOffset)
	return nil
}

// doRequest 通用请求入口, signed为true时附加时间戳与签名
func (e *LiveExchange) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := e.baseURL + endpoint
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		timestamp := time.Now().UnixMilli() + e.timeOffset
		queryParams.Set("timestamp", strconv.FormatInt(timestamp, 10))
		payload := queryParams.Encode()
		encodedParams = payload + "&signature=" + e.sign(payload)
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error
	if method == "GET" {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fullURL + "?" + encodedParams
		}
		req, err = http.NewRequestWithContext(ctx, method, finalURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(encodedParams))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("X-MBX-APIKEY", e.apiKey)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
		return body, &apiErr
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// sign 对请求参数做HMAC-SHA256签名
func (e *LiveExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// GetCurrentPrice 获取交易对最新成交价
func (e *LiveExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(ctx, "GET", "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}
	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(ticker.Price, 64)
}

// FetchOHLCV 分页拉取历史K线
func (e *LiveExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]models.OHLCV, error) {
	var out []models.OHLCV
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor < endMs {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("interval", timeframe)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(endMs, 10))
		params.Set("limit", "1000")

		data, err := e.doRequest(ctx, "GET", "/api/v3/klines", params, false)
		if err != nil {
			return nil, err
		}
		var raw [][]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("解析K线响应失败: %w", err)
		}
		if len(raw) == 0 {
			break
		}
		for _, k := range raw {
			bar, err := parseKline(k)
			if err != nil {
				return nil, err
			}
			out = append(out, bar)
		}
		last := out[len(out)-1].Timestamp.UnixMilli()
		if last <= cursor {
			break
		}
		cursor = last + 1
	}
	return out, nil
}

func parseKline(k []interface{}) (models.OHLCV, error) {
	if len(k) < 6 {
		return models.OHLCV{}, fmt.Errorf("K线字段数量不足: %d", len(k))
	}
	ts, ok := k[0].(float64)
	if !ok {
		return models.OHLCV{}, fmt.Errorf("K线时间戳类型错误: %T", k[0])
	}
	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return models.OHLCV{}, fmt.Errorf("K线字段 %d 类型错误: %T", i, k[i])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.OHLCV{}, err
		}
		vals[i-1] = v
	}
	return models.OHLCV{
		Timestamp: time.UnixMilli(int64(ts)).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// CreateOrder 下单。限价单使用GTC, 市价单按数量成交。
func (e *LiveExchange) CreateOrder(ctx context.Context, symbol string, side order.Side, typ order.Type, amount, price float64, clientOrderID string) (*order.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", strings.ToUpper(side.String()))
	params.Set("quantity", strconv.FormatFloat(amount, 'f', -1, 64))
	if typ == order.TypeLimit {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	} else {
		params.Set("type", "MARKET")
	}
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}

	data, err := e.doRequest(ctx, "POST", "/api/v3/order", params, true)
	if err != nil {
		logger.S().Errorf("下单请求失败: %v, 原始响应: %s", err, string(data))
		return nil, err
	}
	return e.parseOrder(data)
}

// CancelOrder 撤销挂单
func (e *LiveExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := e.doRequest(ctx, "DELETE", "/api/v3/order", params, true)
	return err
}

// FetchOrder 查询订单最新状态
func (e *LiveExchange) FetchOrder(ctx context.Context, symbol, orderID string) (*order.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	data, err := e.doRequest(ctx, "GET", "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}
	return e.parseOrder(data)
}

// GetExchangeStatus 探测交易所可用性
func (e *LiveExchange) GetExchangeStatus(ctx context.Context) (string, error) {
	if _, err := e.doRequest(ctx, "GET", "/api/v3/ping", nil, false); err != nil {
		return "unreachable", err
	}
	return "ok", nil
}

type rawOrder struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	TransactTime        int64  `json:"transactTime"`
	UpdateTime          int64  `json:"updateTime"`
}

// parseOrder 将交易所订单响应转换为本地订单结构
func (e *LiveExchange) parseOrder(data []byte) (*order.Order, error) {
	var raw rawOrder
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析订单响应失败: %w", err)
	}

	price, _ := strconv.ParseFloat(raw.Price, 64)
	amount, _ := strconv.ParseFloat(raw.OrigQty, 64)
	filled, _ := strconv.ParseFloat(raw.ExecutedQty, 64)
	cost, _ := strconv.ParseFloat(raw.CummulativeQuoteQty, 64)

	o := &order.Order{
		ID:        strconv.FormatInt(raw.OrderID, 10),
		ClientID:  raw.ClientOrderID,
		Status:    order.ParseStatus(raw.Status),
		Side:      order.SideBuy,
		Type:      order.TypeLimit,
		Price:     price,
		Amount:    amount,
		Filled:    filled,
		Remaining: amount - filled,
		Cost:      cost,
		// 现货订单响应不携带手续费明细, 按费率估算
		FeeCost:     cost * e.feeRate,
		FeeCurrency: "quote",
	}
	if raw.Side == "SELL" {
		o.Side = order.SideSell
	}
	if raw.Type == "MARKET" {
		o.Type = order.TypeMarket
	}
	if filled > 0 {
		o.Average = cost / filled
	}
	ts := raw.TransactTime
	if ts == 0 {
		ts = raw.UpdateTime
	}
	if ts > 0 {
		o.Timestamp = time.UnixMilli(ts).UTC()
		o.LastTradeAt = o.Timestamp
	}
	return o, nil
}

// ListenToTickerUpdates 订阅aggTrade流并在每次价格更新时回调。
// 连接断开后自动重连, 直到ctx被取消。
func (e *LiveExchange) ListenToTickerUpdates(ctx context.Context, symbol string, minInterval time.Duration, cb TickerCallback) {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", e.wsBaseURL, strings.ToLower(symbol))

	for {
		select {
		case <-ctx.Done():
			logger.S().Info("行情订阅已停止")
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			logger.S().Warnf("WebSocket连接失败: %v, 5秒后重试", err)
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		e.mu.Lock()
		e.wsConn = conn
		e.mu.Unlock()

		logger.S().Infof("行情WebSocket已连接: %s", wsURL)
		if err := e.readTickerMessages(ctx, conn, minInterval, cb); err != nil {
			logger.S().Warnf("行情连接中断: %v, 准备重连", err)
		}
		conn.Close()
		if !sleepCtx(ctx, 5*time.Second) {
			return
		}
	}
}

// readTickerMessages 处理单条连接上的消息并维持心跳,
// 连接损坏时返回错误交由外层重连
func (e *LiveExchange) readTickerMessages(ctx context.Context, conn *websocket.Conn, minInterval time.Duration, cb TickerCallback) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var lastCallback time.Time
	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取消息失败: %w", err)
		}

		var trade struct {
			Price     json.Number `json:"p"`
			TradeTime int64       `json:"T"`
		}
		if err := json.Unmarshal(message, &trade); err != nil {
			logger.S().Warnf("解析行情消息失败: %v", err)
			continue
		}
		price, err := trade.Price.Float64()
		if err != nil {
			continue
		}

		now := time.Now()
		if minInterval > 0 && now.Sub(lastCallback) < minInterval {
			continue
		}
		lastCallback = now

		ts := now
		if trade.TradeTime > 0 {
			ts = time.UnixMilli(trade.TradeTime).UTC()
		}
		cb(price, ts)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Close 关闭底层WebSocket连接
func (e *LiveExchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wsConn != nil {
		return e.wsConn.Close()
	}
	return nil
}
