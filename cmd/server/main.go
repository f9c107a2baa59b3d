package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/betbot/tradelink/internal/controlplane/server"
	"github.com/betbot/tradelink/internal/coordinator"
	"github.com/betbot/tradelink/internal/exchange"
	"github.com/betbot/tradelink/internal/marketplace"
	"github.com/betbot/tradelink/internal/metrics"
	"github.com/betbot/tradelink/internal/notify"
	"github.com/betbot/tradelink/internal/ports"
	"github.com/betbot/tradelink/internal/storage"
	"github.com/betbot/tradelink/pkg/config"
	"github.com/betbot/tradelink/pkg/logger"
	"github.com/betbot/tradelink/pkg/persistence"
	"github.com/betbot/tradelink/pkg/ratelimit"
	"github.com/betbot/tradelink/pkg/secretstore"
	"github.com/betbot/tradelink/pkg/shutdown"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// .env 不存在时直接使用真实环境变量
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("TRADELINK_CONFIG"), "配置文件路径（yaml/json），为空只使用默认值与环境变量")
		listen     = flag.String("listen", "", "控制面监听地址（覆盖配置）")
		noRestore  = flag.Bool("no-restore", false, "启动时不恢复已保存的账号")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("❌ 加载配置失败: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := logger.Init(cfg.Log); err != nil {
		logrus.Fatalf("❌ 初始化日志失败: %v", err)
	}
	defer func() { _ = logger.Close() }()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Log.LogByDay {
		logger.StartRotationChecker(rootCtx)
	}
	sm := shutdown.NewManager()

	// 存储：badger 账号库 + sqlite 库存快照 + JSON 报价记录
	key, err := secretstore.ParseKey(cfg.EncryptionKey)
	if err != nil {
		logger.Errorf("❌ encryption_key 无效: %v", err)
		os.Exit(1)
	}
	if key == nil {
		logger.Warnf("⚠️ 未配置 encryption_key，账号库不加密")
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretStorePath, EncryptionKey: key})
	if err != nil {
		logger.Errorf("❌ 打开账号库失败: %v", err)
		os.Exit(1)
	}
	sm.OnShutdown("secretstore", func(context.Context) { _ = ss.Close() })

	db, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Errorf("❌ 打开库存数据库失败: %v", err)
		os.Exit(1)
	}
	sm.OnShutdown("sqlite", func(context.Context) { _ = db.Close() })

	limits := ratelimit.NewRateLimitManager()
	registry := coordinator.NewRegistry(coordinator.Deps{
		Config:      cfg,
		Accounts:    storage.NewAccountStore(ss),
		Inventory:   storage.NewInventoryRepo(db),
		Persistence: persistence.NewJSONFileService(cfg.OffersDir()),
		Platforms: func(proxyURL string) exchange.Platform {
			return exchange.NewRESTPlatform(cfg.Exchange.BaseURL, proxyURL, limits)
		},
		Connectors: marketplace.NewFactory(cfg, limits),
		Notifier: notify.Multi{
			notify.NewLogNotifier(""),
			ports.NotifierFunc(func(string, string) { metrics.Notifications.Add(1) }),
		},
		Appender: notify.NewFileAppender(),
	})
	sm.OnShutdown("registry", func(context.Context) { registry.Close() })

	if !*noRestore {
		if err := registry.Restore(rootCtx); err != nil {
			logger.Warnf("⚠️ 恢复账号失败: %v", err)
		}
	}

	if cfg.MetricsListen != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.MetricsListen); err != nil {
			logger.Warnf("⚠️ debug server 启动失败: %v", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(registry).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("🚀 控制面监听 %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("❌ 控制面退出: %v", err)
			cancel()
		}
	}()
	sm.OnShutdown("http", func(ctx context.Context) { _ = httpSrv.Shutdown(ctx) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Infof("收到信号 %v，开始关闭", sig)
	case <-rootCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	sm.Shutdown(shutdownCtx)
	cancel()
	logger.Info("👋 已退出")
}
