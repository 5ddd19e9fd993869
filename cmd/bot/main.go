package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grid-trading-bot-go/internal/alert"
	"grid-trading-bot-go/internal/config"
	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/grid"
	"grid-trading-bot-go/internal/logger"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/registry"
	"grid-trading-bot-go/internal/reporter"
	"grid-trading-bot-go/internal/scheduler"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "run", "running mode: run, create, stop, status")
	pair := flag.String("pair", "", "trading pair, e.g. btcusdt")
	gridCount := flag.Int("grids", 10, "number of grid intervals")
	amount := flag.Float64("amount", 0, "base asset amount per grid order")
	upper := flag.Float64("upper", 0, "grid upper price bound")
	lower := flag.Float64("lower", 0, "grid lower price bound")
	autoRange := flag.Bool("auto", false, "derive the price range from the recent candle window")
	keepOrders := flag.Bool("keep-orders", false, "when stopping, leave resting orders on the exchange")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 加载配置前先用默认配置初始化，保证早期日志可用
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	app, err := buildApp(cfg)
	if err != nil {
		logger.S().Fatalf("初始化失败: %v", err)
	}
	defer app.close()

	switch *mode {
	case "run":
		runDaemon(cfg, app)
	case "create":
		runCreate(app, grid.CreateGridRequest{
			Pair:          *pair,
			GridCount:     *gridCount,
			AmountPerGrid: *amount,
			UseAutoRange:  *autoRange,
			PriceUpper:    *upper,
			PriceLower:    *lower,
		})
	case "stop":
		runStop(app, *pair, !*keepOrders)
	case "status":
		runStatus(app)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 run/create/stop/status。", *mode)
	}
}

// app 持有所有已初始化的组件。
type app struct {
	exchange *exchange.BinanceExchange
	registry registry.Registry
	engine   *grid.Engine
	feed     *exchange.MarketFeed
	alerts   *alert.Manager
	reporter *reporter.Reporter
}

func (a *app) close() {
	if a.feed != nil {
		a.feed.Stop()
	}
	if a.registry != nil {
		a.registry.Close()
	}
}

func buildApp(cfg *models.Config) (*app, error) {
	// 从环境变量加载API密钥
	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
	}
	if cfg.IsTestnet {
		logger.S().Info("正在使用币安测试网...")
	} else {
		logger.S().Info("正在使用币安生产网...")
	}

	ex := exchange.NewBinanceExchange(apiKey, secretKey, cfg.IsTestnet, logger.S())

	// 优先使用持久化存储；打开失败时退化为内存存储，仅丢失重启恢复能力
	reg, err := registry.NewBadgerRegistry(cfg.DBPath, logger.S())
	if err != nil {
		logger.S().Warnf("无法打开网格存储 (%v)，退化为内存存储。", err)
		reg = registry.NewMemoryRegistry()
	}

	engine := grid.NewEngine(ex, ex, reg, grid.Options{
		DeadBandRate:      cfg.DeadBandRate,
		ReplacementMargin: cfg.ReplacementMargin,
		ProfitMarginRate:  cfg.ProfitMarginRate,
		DriftThreshold:    cfg.DriftThreshold,
		RangeWindow:       time.Duration(cfg.RangeWindowHours) * time.Hour,
		CallTimeout:       time.Duration(cfg.CallTimeoutSec) * time.Second,
	}, logger.S())

	feed := exchange.NewMarketFeed(cfg.WSBaseURL, logger.S())
	notifier := alert.NewLogNotifier(logger.S())
	alerts := alert.NewManager(cfg.AlertsPath, ex, feed, notifier, logger.S())

	return &app{
		exchange: ex,
		registry: reg,
		engine:   engine,
		feed:     feed,
		alerts:   alerts,
		reporter: reporter.NewReporter(os.Stdout),
	}, nil
}

// runDaemon 启动调度器并阻塞直到收到退出信号。
func runDaemon(cfg *models.Config, app *app) {
	logger.S().Info("--- 启动网格交易守护进程 ---")

	// 为每个活动交易对和每个预警交易对开启行情订阅
	for _, pair := range app.engine.ActivePairs() {
		app.feed.Watch(pair)
	}
	for _, a := range app.alerts.ActiveAlerts() {
		app.feed.Watch(a.Pair)
	}

	sched := scheduler.NewScheduler(app.engine, app.alerts, alert.NewLogNotifier(logger.S()), scheduler.Intervals{
		Update: time.Duration(cfg.UpdateIntervalSec) * time.Second,
		Drift:  time.Duration(cfg.DriftIntervalSec) * time.Second,
		Alert:  time.Duration(cfg.AlertIntervalSec) * time.Second,
	}, logger.S())
	sched.Start()

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sched.Stop()
	logger.S().Info("守护进程已成功停止。")
}

func runCreate(app *app, req grid.CreateGridRequest) {
	if req.Pair == "" {
		logger.S().Fatal("create 模式需要 -pair 参数。")
	}
	result, err := app.engine.CreateGrid(context.Background(), req)
	if err != nil {
		logger.S().Fatalf("创建网格失败: %v", err)
	}
	logger.S().Infof("网格已创建: %s, 挂单 %d, 跳过 %d, 失败 %d",
		result.Config.Pair, result.OrdersPlaced, result.LevelsSkipped, result.OrdersFailed)
	app.reporter.GridStatuses([]models.GridStatus{result.Config.Status()})
}

func runStop(app *app, pair string, cancelOrders bool) {
	if pair == "" {
		logger.S().Fatal("stop 模式需要 -pair 参数。")
	}
	result, err := app.engine.StopGrid(context.Background(), pair, cancelOrders)
	if err != nil {
		logger.S().Fatalf("停止网格失败: %v", err)
	}
	logger.S().Infof("网格已停止: %s, 撤单 %d, 撤单失败 %d, 总成交 %d, 估算利润 %.4f",
		result.Pair, result.CancelledOrders, result.CancelFailures, result.TotalTrades, result.TotalProfit)
}

func runStatus(app *app) {
	statuses, err := app.engine.AllStatus()
	if err != nil {
		logger.S().Fatalf("读取网格状态失败: %v", err)
	}
	app.reporter.GridStatuses(statuses)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	balances, err := app.exchange.GetBalances(ctx)
	if err != nil {
		logger.S().Warnf("读取账户余额失败: %v", err)
	} else {
		app.reporter.Balances(balances)
	}

	app.reporter.Alerts(app.alerts.ActiveAlerts())
}
