// =============================================================================
// 文件: cmd/wifimac-sim/main.go
// 描述: 主程序入口 - 并发运行多个仿真种子，集成 Prometheus 指标与事件流
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/wifimac/internal/config"
	"github.com/mrcgq/wifimac/internal/metrics"
	"github.com/mrcgq/wifimac/internal/scenario"
	"github.com/mrcgq/wifimac/internal/trace"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	runs := flag.Int("runs", 0, "并发运行的种子数 (覆盖 sim.runs)")
	duration := flag.String("duration", "", "仿真时长, 如 5s (覆盖 sim.duration)")
	hold := flag.Bool("hold", false, "运行结束后保持指标服务，直到收到信号")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	// 命令行覆盖
	if *runs > 0 {
		cfg.Sim.Runs = *runs
	}
	if *duration != "" {
		d, err := time.ParseDuration(*duration)
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "无效的 -duration: %s\n", *duration)
			os.Exit(1)
		}
		cfg.Sim.Duration = config.Duration(d)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)
	logger := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runStats := metrics.NewRunStats(100)
	live := &scenario.Live{}

	// 事件发布
	var pubs trace.Multi

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.ServerParams(), runStats, logger)
		pubs = append(pubs, metrics.NewMACMetrics(metricsServer.Registry()))
		if err := metricsServer.RegisterCollector(metrics.NewStationCollector(live)); err != nil {
			log.Fatal().Err(err).Msg("注册站点收集器失败")
		}

		if cfg.Trace.WebSocket {
			hub := trace.NewHub(logger)
			metricsServer.MountTrace(hub)
			pubs = append(pubs, hub)
		}

		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return createHealthStatus(runStats)
		})

		if err := metricsServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics 启动失败")
			metricsServer = nil
		}
	}

	if cfg.Trace.NATS.Enabled {
		np, err := trace.NewNATSPublisher(cfg.NATSParams(), logger)
		if err != nil {
			log.Warn().Err(err).Msg("NATS 连接失败，跳过事件发布")
		} else {
			pubs = append(pubs, np)
		}
	}

	printBanner(cfg, metricsServer)

	records := runAll(ctx, cfg, pubs, runStats, live, logger)
	printSummary(records)

	if *hold && metricsServer != nil && ctx.Err() == nil {
		log.Info().Str("addr", metricsServer.Addr()).Msg("仿真结束，指标服务保持运行 (Ctrl+C 退出)")
		<-ctx.Done()
	}

	fmt.Println("\n正在关闭...")
	if metricsServer != nil {
		metricsServer.SetHealthy(false)
		metricsServer.Stop()
	}
	if err := pubs.Close(); err != nil {
		log.Warn().Err(err).Msg("关闭事件发布失败")
	}

	if runStats.Failed() > 0 && ctx.Err() == nil {
		os.Exit(1)
	}
}

// runAll 并发运行 sim.runs 个种子，每个运行独占调度器与信道
func runAll(ctx context.Context, cfg *config.Config, pub trace.Publisher,
	runStats *metrics.RunStats, live *scenario.Live, log zerolog.Logger) []metrics.RunRecord {
	records := make([]metrics.RunRecord, cfg.Sim.Runs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i := 0; i < cfg.Sim.Runs; i++ {
		i := i
		seed := cfg.Sim.Seed + int64(i)
		g.Go(func() error {
			id := uuid.New()
			sc, err := scenario.New(id, cfg, seed, pub, log)
			if err != nil {
				records[i] = metrics.RunRecord{ID: id, Seed: seed, Error: err.Error()}
				return err
			}

			runStats.Begin()
			live.Watch(sc)
			rec, err := sc.Run(gctx)
			live.Release(sc)
			runStats.End(rec)
			records[i] = rec

			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("运行失败")
	}
	return records
}

// setupLogger 配置全局日志
func setupLogger(cfg config.LogConfig) {
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func createHealthStatus(runStats *metrics.RunStats) metrics.HealthStatus {
	status := metrics.HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    Version,
		Uptime:     runStats.Uptime(),
		Components: make(map[string]metrics.ComponentHealth),
	}

	sim := metrics.ComponentHealth{Status: "healthy"}
	if n := runStats.Failed(); n > 0 {
		sim = metrics.ComponentHealth{Status: "degraded", Message: fmt.Sprintf("%d 次运行失败", n)}
		status.Status = "degraded"
	}
	status.Components["simulator"] = sim
	return status
}

func printVersion() {
	fmt.Printf("wifimac-sim %s\n", Version)
	fmt.Printf("  Build:  %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go:     %s\n", runtime.Version())
	fmt.Printf("  OS:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printBanner(cfg *config.Config, metricsServer *metrics.MetricsServer) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Printf("║              wifimac-sim v%-10s                         ║\n", Version)
	fmt.Println("║          802.11 Lower MAC Simulator                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  模式:     %s\n", cfg.MAC.Mode)
	fmt.Printf("  站点:     %d (%s)\n", cfg.Sim.Stations, cfg.Sim.Traffic)
	fmt.Printf("  负载:     %.0f bit/s 每站\n", cfg.Sim.OfferedLoadBps)
	fmt.Printf("  时长:     %s × %d 次运行\n", cfg.Sim.Duration.D(), cfg.Sim.Runs)
	fmt.Printf("  速率策略: %s\n", cfg.MAC.Rate.Strategy)
	if metricsServer != nil {
		fmt.Printf("  指标:     http://%s%s\n", metricsServer.Addr(), cfg.Metrics.Path)
		if cfg.Trace.WebSocket {
			fmt.Printf("  事件流:   ws://%s/trace\n", metricsServer.Addr())
		}
	}
	fmt.Println()
}

func printSummary(records []metrics.RunRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSEED\tSIM TIME\tDELIVERED\tTHROUGHPUT\tDROPPED\tRETRIES\tWALL\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%.2f Mbit/s\t%d\t%d\t%s\t%s\n",
			rec.ID.String()[:8],
			rec.Seed,
			rec.SimTime,
			rec.Delivered,
			rec.Throughput()/1e6,
			rec.Dropped,
			rec.Retransmissions,
			rec.Wall.Round(time.Millisecond),
			rec.Error,
		)
	}
	w.Flush()
}
