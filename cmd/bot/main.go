package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"grid-trading-bot-go/internal/bot"
	"grid-trading-bot-go/internal/config"
	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "", "override trading mode: live, paper_trading or backtest")
	dataPath := flag.String("data", "", "path to historical data file for backtesting")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	flag.Parse()

	// 在加载配置前先用默认配置初始化日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件, 将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载环境变量。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 命令行参数覆盖配置文件
	if *mode != "" {
		cfg.TradingSettings.Mode = *mode
	}
	if *dataPath != "" {
		cfg.TradingSettings.HistoricalDataFile = *dataPath
	}
	if *startDate != "" {
		cfg.TradingSettings.StartDate = *startDate
	}
	if *endDate != "" {
		cfg.TradingSettings.EndDate = *endDate
	}

	if err := config.Validate(cfg); err != nil {
		logger.S().Fatalf("配置校验失败: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	// --- 构建并运行机器人 ---
	gridBot, err := bot.New(cfg, nil)
	if err != nil {
		logger.S().Fatalf("机器人初始化失败: %v", err)
	}
	defer gridBot.Close()

	// 等待中断信号以实现优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gridBot.Run(ctx); err != nil {
		logger.S().Errorf("机器人运行出错: %v", err)
	}
	gridBot.Stop()
	logger.S().Info("机器人已退出。")
}
