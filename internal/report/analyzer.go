// Package report 汇总订单簿与权益曲线, 生成回测与运行报告。
package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/order"

	"github.com/jedib0t/go-pretty/v6/table"
)

// 年化无风险利率 3%
const annualRiskFreeRate = 0.03

// Analyzer 基于订单簿与账本快照计算交易绩效
type Analyzer struct {
	initialBalance float64
	baseCurrency   string
	quoteCurrency  string
	book           *order.Book
}

// NewAnalyzer 创建绩效分析器
func NewAnalyzer(cfg *models.Config, book *order.Book) *Analyzer {
	return &Analyzer{
		initialBalance: cfg.TradingSettings.InitialBalance,
		baseCurrency:   cfg.Pair.BaseCurrency,
		quoteCurrency:  cfg.Pair.QuoteCurrency,
		book:           book,
	}
}

// FormattedOrders 返回报表用的订单行:
// 方向, 类型, 状态, 成交价, 成交量, 成交时间, 网格线价格, 滑点。
// 非网格订单的网格线与滑点为 "N/A"。按成交时间排序, 未成交的排在最后。
func (a *Analyzer) FormattedOrders() [][]string {
	orders := a.book.AllOrders()
	sort.SliceStable(orders, func(i, j int) bool {
		ti, tj := orders[i].LastTradeAt, orders[j].LastTradeAt
		if ti.IsZero() != tj.IsZero() {
			return !ti.IsZero()
		}
		return ti.Before(tj)
	})

	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, a.formatOrder(o))
	}
	return rows
}

func (a *Analyzer) formatOrder(o *order.Order) []string {
	gridPrice := "N/A"
	slippage := "N/A"
	if l := a.book.LevelFor(o.ID); l != nil {
		gridPrice = fmt.Sprintf("%.4f", l.Price)
		if o.Average > 0 {
			slippage = fmt.Sprintf("%.2f%%", (o.Average-l.Price)/l.Price*100)
		}
	}
	tradeTime := "N/A"
	if !o.LastTradeAt.IsZero() {
		tradeTime = o.LastTradeAt.Format(time.RFC3339)
	}
	price := o.Price
	if o.Average > 0 {
		price = o.Average
	}
	return []string{
		o.Side.String(),
		o.Type.String(),
		o.Status.String(),
		fmt.Sprintf("%.4f", price),
		fmt.Sprintf("%.6f", o.Filled),
		tradeTime,
		gridPrice,
		slippage,
	}
}

// TradingGains 计算网格买卖差价收益: 卖出净收入减去买入总成本,
// 手续费计入两侧。没有任何成交时返回 "N/A"。
func (a *Analyzer) TradingGains() string {
	var totalBuyCost, totalSellRevenue float64
	var hasTrades bool

	for _, o := range a.book.BuyOrders() {
		if o.Filled <= 0 {
			continue
		}
		hasTrades = true
		totalBuyCost += o.Cost + o.FeeCost
	}
	for _, o := range a.book.SellOrders() {
		if o.Filled <= 0 {
			continue
		}
		hasTrades = true
		totalSellRevenue += o.Cost - o.FeeCost
	}

	if !hasTrades {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", totalSellRevenue-totalBuyCost)
}

// Summary 是一次运行的绩效汇总
type Summary struct {
	Pair             string
	StartDate        time.Time
	EndDate          time.Time
	ROI              float64
	MaxDrawdown      float64
	MaxRunup         float64
	TimeInProfit     float64
	TimeInLoss       float64
	BuyAndHoldReturn float64
	TradingGains     string
	TotalFees        float64
	FinalBalance     float64
	FinalFiatBalance float64
	FinalCryptoValue float64
	CryptoBalance    float64
	BuyTrades        int
	SellTrades       int
	SharpeRatio      float64
	SortinoRatio     float64
}

// GenerateSummary 根据权益曲线, 账本快照与首末价格计算绩效汇总
func (a *Analyzer) GenerateSummary(series []models.AccountValuePoint, snapshot models.BalanceSnapshot, firstPrice, finalPrice float64) Summary {
	finalCryptoValue := snapshot.Crypto * finalPrice
	finalBalance := snapshot.Fiat + finalCryptoValue

	s := Summary{
		Pair:             a.baseCurrency + "/" + a.quoteCurrency,
		ROI:              (finalBalance - a.initialBalance) / a.initialBalance * 100,
		MaxDrawdown:      maxDrawdown(series),
		MaxRunup:         maxRunup(series),
		TradingGains:     a.TradingGains(),
		TotalFees:        snapshot.TotalFees,
		FinalBalance:     finalBalance,
		FinalFiatBalance: snapshot.Fiat,
		FinalCryptoValue: finalCryptoValue,
		CryptoBalance:    snapshot.Crypto,
		SharpeRatio:      sharpeRatio(series),
		SortinoRatio:     sortinoRatio(series),
	}
	if firstPrice > 0 {
		s.BuyAndHoldReturn = (finalPrice - firstPrice) / firstPrice * 100
	}
	if len(series) > 0 {
		s.StartDate = series[0].Timestamp
		s.EndDate = series[len(series)-1].Timestamp
		s.TimeInProfit, s.TimeInLoss = a.timeInProfitLoss(series)
	}
	for _, o := range a.book.BuyOrders() {
		if o.Filled > 0 {
			s.BuyTrades++
		}
	}
	for _, o := range a.book.SellOrders() {
		if o.Filled > 0 {
			s.SellTrades++
		}
	}
	return s
}

// Render 将绩效汇总与订单明细渲染为表格并写入日志
func (a *Analyzer) Render(s Summary) {
	summaryTable := table.NewWriter()
	summaryTable.AppendHeader(table.Row{"指标", "数值"})
	summaryTable.AppendRows([]table.Row{
		{"交易对", s.Pair},
		{"开始时间", s.StartDate.Format("2006-01-02 15:04")},
		{"结束时间", s.EndDate.Format("2006-01-02 15:04")},
		{"收益率", fmt.Sprintf("%.2f%%", s.ROI)},
		{"最大回撤", fmt.Sprintf("%.2f%%", s.MaxDrawdown)},
		{"最大涨幅", fmt.Sprintf("%.2f%%", s.MaxRunup)},
		{"盈利时间占比", fmt.Sprintf("%.2f%%", s.TimeInProfit)},
		{"亏损时间占比", fmt.Sprintf("%.2f%%", s.TimeInLoss)},
		{"买入持有收益", fmt.Sprintf("%.2f%%", s.BuyAndHoldReturn)},
		{"网格交易收益", s.TradingGains},
		{"总手续费", fmt.Sprintf("%.2f", s.TotalFees)},
		{"期末总资产", fmt.Sprintf("%.2f %s", s.FinalBalance, a.quoteCurrency)},
		{"期末现金", fmt.Sprintf("%.2f %s", s.FinalFiatBalance, a.quoteCurrency)},
		{"期末持仓", fmt.Sprintf("%.6f %s (%.2f %s)", s.CryptoBalance, a.baseCurrency, s.FinalCryptoValue, a.quoteCurrency)},
		{"买入次数", s.BuyTrades},
		{"卖出次数", s.SellTrades},
		{"夏普比率", fmt.Sprintf("%.2f", s.SharpeRatio)},
		{"索提诺比率", fmt.Sprintf("%.2f", s.SortinoRatio)},
	})
	logger.S().Infof("绩效汇总:\n%s", summaryTable.Render())

	ordersTable := table.NewWriter()
	ordersTable.AppendHeader(table.Row{"方向", "类型", "状态", "价格", "数量", "成交时间", "网格线", "滑点"})
	for _, row := range a.FormattedOrders() {
		r := make(table.Row, len(row))
		for i, col := range row {
			r[i] = col
		}
		ordersTable.AppendRow(r)
	}
	logger.S().Infof("订单明细:\n%s", ordersTable.Render())
}

func (a *Analyzer) timeInProfitLoss(series []models.AccountValuePoint) (float64, float64) {
	var profit int
	for _, p := range series {
		if p.Value > a.initialBalance {
			profit++
		}
	}
	n := float64(len(series))
	return float64(profit) / n * 100, float64(len(series)-profit) / n * 100
}

func maxDrawdown(series []models.AccountValuePoint) float64 {
	if len(series) == 0 {
		return 0
	}
	peak := series[0].Value
	var maxDD float64
	for _, p := range series {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func maxRunup(series []models.AccountValuePoint) float64 {
	if len(series) == 0 {
		return 0
	}
	trough := series[0].Value
	var maxRU float64
	for _, p := range series {
		if p.Value < trough {
			trough = p.Value
		}
		if trough > 0 {
			if ru := (p.Value - trough) / trough * 100; ru > maxRU {
				maxRU = ru
			}
		}
	}
	return maxRU
}

// excessReturns 计算逐期收益率并扣除按日折算的无风险利率
func excessReturns(series []models.AccountValuePoint) []float64 {
	var out []float64
	for i := 1; i < len(series); i++ {
		prev := series[i-1].Value
		if prev == 0 {
			continue
		}
		r := series[i].Value/prev - 1
		out = append(out, r-annualRiskFreeRate/252)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev 样本标准差
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func sharpeRatio(series []models.AccountValuePoint) float64 {
	excess := excessReturns(series)
	sd := stddev(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(252)
}

func sortinoRatio(series []models.AccountValuePoint) float64 {
	excess := excessReturns(series)
	var downside []float64
	for _, x := range excess {
		if x < 0 {
			downside = append(downside, x)
		}
	}
	sd := stddev(downside)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(252)
}
