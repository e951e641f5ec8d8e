package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/ByLCY/carousel/assets"
	"github.com/ByLCY/carousel/config"
	"github.com/ByLCY/carousel/document"
	"github.com/ByLCY/carousel/export"
	"github.com/ByLCY/carousel/layout"
	"github.com/ByLCY/carousel/logger"
	canvasrenderer "github.com/ByLCY/carousel/renderer/canvas"
	"github.com/ByLCY/carousel/server"
	"github.com/ByLCY/carousel/storage"
)

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径")
	serve := flag.Bool("serve", false, "启动 HTTP 编辑服务")
	input := flag.String("in", "", "文档 JSON 路径")
	output := flag.String("out", "output/carousel.zip", "导出文件路径")
	format := flag.String("format", "", "导出格式 png|jpeg|pdf，默认使用文档设置")
	debug := flag.String("debug", "", "布局调试 JSON 输出路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer appLogger.Sync()

	if *serve {
		if err := runServer(cfg, appLogger); err != nil {
			appLogger.Fatal("服务异常退出", zap.Error(err))
		}
		return
	}
	if *input == "" {
		log.Fatal("需要 -in 或 -serve")
	}

	baseDir := cfg.Assets.BaseDir
	if baseDir == "." {
		baseDir = filepath.Dir(*input)
	}
	fetcher := assets.NewFetcher(assets.FetcherOptions{BaseDir: baseDir, Timeout: cfg.Assets.FetchTimeout})
	r := canvasrenderer.NewRenderer(canvasrenderer.Options{Fetcher: fetcher, Logger: appLogger})
	ex := export.New(export.Options{
		Renderer:    r,
		Logger:      appLogger,
		Concurrency: cfg.Export.Concurrency,
		Quality:     cfg.Export.JPEGQuality,
	})
	if err := run(context.Background(), *input, *output, *format, *debug, r, ex); err != nil {
		appLogger.Fatal("导出失败", zap.Error(err))
	}
	appLogger.Info("导出完成", zap.String("out", *output))
}

// run 读取文档、输出布局调试信息并导出。
func run(ctx context.Context, inputPath, outputPath, format, debugPath string, ts layout.Typesetter, ex *export.Exporter) error {
	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("无法打开文档 %s: %w", inputPath, err)
	}
	defer file.Close()

	doc, err := document.Decode(file)
	if err != nil {
		return fmt.Errorf("解析文档失败: %w", err)
	}
	if format == "" {
		format = doc.OutputFormat
	}

	if debugPath != "" {
		if err := writeDebug(doc, ts, debugPath); err != nil {
			return err
		}
	}

	data, err := ex.Bundle(ctx, doc, format)
	if err != nil {
		return fmt.Errorf("渲染失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("写入导出文件失败: %w", err)
	}
	return nil
}

func writeDebug(doc *document.Document, ts layout.Typesetter, debugPath string) error {
	cw, _ := document.Canvas(doc.AspectRatio)
	var blocks []layout.DebugBlock
	for i, slide := range doc.Slides {
		for _, tb := range slide.TextBlocks {
			opts := tb.LayoutOptions(cw)
			lines, err := ts.LayoutSegments(tb.LayoutSegments(), opts)
			if err != nil {
				return fmt.Errorf("第 %d 张幻灯片排版失败: %w", i+1, err)
			}
			blocks = append(blocks, layout.DebugBlock{Slide: i, BlockID: tb.ID, Options: opts, Lines: lines})
		}
	}
	if err := os.MkdirAll(filepath.Dir(debugPath), 0o755); err != nil {
		return fmt.Errorf("创建调试目录失败: %w", err)
	}
	if err := layout.WriteDebugJSON(blocks, debugPath); err != nil {
		return fmt.Errorf("输出调试 JSON 失败: %w", err)
	}
	return nil
}

func runServer(cfg *config.Config, appLogger *zap.Logger) error {
	repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer repo.Close()

	blobs, err := assets.NewFileStore(cfg.Assets.BlobDir, cfg.Assets.PublicBaseURL)
	if err != nil {
		return err
	}
	fetcher := assets.NewFetcher(assets.FetcherOptions{BaseDir: cfg.Assets.BaseDir, Timeout: cfg.Assets.FetchTimeout})
	r := canvasrenderer.NewRenderer(canvasrenderer.Options{Fetcher: fetcher, Logger: appLogger})

	opts := server.Options{
		Repository: repo,
		Renderer:   r,
		Exporter: export.New(export.Options{
			Renderer:    r,
			Uploader:    blobs,
			Logger:      appLogger,
			Concurrency: cfg.Export.Concurrency,
			Quality:     cfg.Export.JPEGQuality,
		}),
		Fetcher:      fetcher,
		HistoryLimit: cfg.Editor.HistoryLimit,
		Logger:       appLogger,
	}
	if cfg.Generator.URL != "" {
		gen, err := assets.NewHTTPGenerator(cfg.Generator.URL, cfg.Generator.Timeout, blobs, appLogger)
		if err != nil {
			return err
		}
		opts.Generator = gen
	}
	srv := server.New(opts)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP 服务启动", zap.String("addr", cfg.Server.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	appLogger.Info("正在关闭服务")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("关闭服务失败: %w", err)
	}
	srv.Wait()
	appLogger.Info("服务已关闭")
	return nil
}
