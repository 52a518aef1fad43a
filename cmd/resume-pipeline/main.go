package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"resume-pipeline-go/internal/api/handler"
	"resume-pipeline-go/internal/api/router"
	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/extractor"
	"resume-pipeline-go/internal/generator"
	appLogger "resume-pipeline-go/internal/logger"
	"resume-pipeline-go/internal/notifier"
	"resume-pipeline-go/internal/outbox"
	"resume-pipeline-go/internal/postprocessor"
	"resume-pipeline-go/internal/processor"
	"resume-pipeline-go/internal/renderer"
	"resume-pipeline-go/internal/storage"
	"resume-pipeline-go/internal/tracing"
	"resume-pipeline-go/internal/types"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(appLogger.WithContext(context.Background()))
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, &cfg.Tracing)
	if err != nil {
		glog.Warnf("初始化链路追踪失败，继续以noop模式运行: %v", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = shutdownTracing(shutdownCtx)
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	relayLogger := log.New(appLogger.Logger, "[MessageRelay] ", log.LstdFlags|log.Lshortfile)
	messageRelay := outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, relayLogger)
	messageRelay.Start()
	glog.Info("消息中继服务已启动")

	dispatcher, err := storage.NewTaskDispatcher(storageManager.RabbitMQ, &cfg.RabbitMQ)
	if err != nil {
		glog.Fatalf("初始化任务分发器失败: %v", err)
	}

	caseProcessor, err := buildProcessor(ctx, cfg, storageManager, dispatcher)
	if err != nil {
		glog.Fatalf("初始化案件编排器失败: %v", err)
	}
	glog.Info("案件编排器初始化成功")

	caseHandler := handler.NewCaseHandler(cfg, storageManager, dispatcher, caseProcessor)

	startConsumers(ctx, cfg, storageManager, caseHandler)

	tracer, trcCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(trcCfg))

	router.RegisterRoutes(h, caseHandler, cfg.Server.InternalAuthKey)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP服务器启动，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	messageRelay.Stop()
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// buildProcessor 组装流水线各阶段组件
func buildProcessor(ctx context.Context, cfg *config.Config, storageManager *storage.Storage, dispatcher *storage.TaskDispatcher) (*processor.CaseProcessor, error) {
	textExtractor, err := extractor.NewTextExtractor(ctx)
	if err != nil {
		return nil, err
	}

	chatModel, err := generator.NewOpenAIChatModel(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.APIURL,
		config.GetDuration(cfg.LLM.Timeout, 90*time.Second),
	)
	if err != nil {
		return nil, err
	}
	resumeGenerator := generator.NewResumeGenerator(chatModel)

	htmlRenderer, err := renderer.NewHTMLRenderer()
	if err != nil {
		return nil, err
	}

	return processor.NewCaseProcessor(
		processor.Components{
			Repo:          storageManager.MySQL,
			Store:         storageManager.MinIO,
			Dispatcher:    dispatcher,
			Extractor:     textExtractor,
			Generator:     resumeGenerator,
			HTMLRenderer:  htmlRenderer,
			PDFRenderer:   renderer.NewPDFRenderer(&cfg.Renderer),
			DocxRenderer:  renderer.NewDocxRenderer(),
			PostProcessor: postprocessor.NewPipeline(),
			Dedup:         storageManager.Redis,
			Notifier:      notifier.NewWebhookNotifier(&cfg.Notification),
		},
		processor.Settings{
			QueueConfig:       &cfg.RabbitMQ,
			DefaultResumeType: types.ResumeTypeStandard,
			MaxContentRetries: constants.MaxGenerationContentRetries,
		},
	)
}

// startConsumers 启动三个任务队列的消费者。
// 已落定的结果（含确定性丢弃）确认消息，可重试错误交给重投递。
func startConsumers(ctx context.Context, cfg *config.Config, storageManager *storage.Storage, caseHandler *handler.CaseHandler) {
	prefetch := cfg.RabbitMQ.PrefetchCount
	if prefetch <= 0 {
		prefetch = 5
	}

	consumers := []struct {
		queue  string
		handle func(ctx context.Context, body []byte) handler.TaskOutcome
	}{
		{cfg.RabbitMQ.ProcessCaseQueue, caseHandler.HandleProcessCaseTask},
		{cfg.RabbitMQ.ExtractDocumentQueue, caseHandler.HandleExtractDocumentTask},
		{cfg.RabbitMQ.GenerateArtifactQueue, caseHandler.HandleGenerateArtifactTask},
	}

	for _, c := range consumers {
		queue, handle := c.queue, c.handle
		workers := 1
		if n, ok := cfg.RabbitMQ.ConsumerWorkers[queue]; ok && n > 0 {
			workers = n
		}
		for i := 0; i < workers; i++ {
			_, err := storageManager.RabbitMQ.StartConsumer(queue, prefetch, func(data []byte) bool {
				outcome := handle(ctx, data)
				if outcome.Err != nil {
					appLogger.Warn().
						Err(outcome.Err).
						Str("queue", queue).
						Bool("settled", outcome.Settled).
						Bool("discarded", outcome.Discarded).
						Msg("任务处理出错")
				}
				return outcome.Settled || outcome.Discarded
			})
			if err != nil {
				glog.Fatalf("启动队列%s消费者失败: %v", queue, err)
			}
		}
		glog.Infof("队列%s消费者已启动，工作线程数: %d", queue, workers)
	}
}

func initLogger(cfg *config.Config) {
	logConfig := appLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	}
	appLogger.Init(logConfig)

	glog.SetLogger(hertzadapter.From(appLogger.Logger))
}
