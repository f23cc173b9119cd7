package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"arenajudge/internal/common/cache"
	"arenajudge/internal/common/db"
	"arenajudge/internal/common/http/middleware"
	"arenajudge/internal/common/mq"
	"arenajudge/internal/common/storage"
	contestController "arenajudge/internal/contest/controller"
	contestRepo "arenajudge/internal/contest/repository"
	contestService "arenajudge/internal/contest/service"
	judgeController "arenajudge/internal/judge/controller"
	"arenajudge/internal/judge/language"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/judge/problemclient"
	judgeRepo "arenajudge/internal/judge/repository"
	"arenajudge/internal/judge/sandbox"
	"arenajudge/internal/judge/sandbox/engine"
	"arenajudge/internal/judge/sandbox/observer"
	"arenajudge/internal/judge/sandbox/profile"
	judgeService "arenajudge/internal/judge/service"
	submitController "arenajudge/internal/submit/controller"
	submitRepo "arenajudge/internal/submit/repository"
	submitService "arenajudge/internal/submit/service"
	"arenajudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return fmt.Errorf("init minio failed: %w", err)
	}
	if err := objStorage.EnsureBucket(ctx, appCfg.Submit.SourceBucket); err != nil {
		return fmt.Errorf("ensure source bucket failed: %w", err)
	}
	sources, err := storage.NewSourceStore(objStorage, appCfg.Submit.SourceBucket, appCfg.Submit.MaxSourceBytes)
	if err != nil {
		return fmt.Errorf("init source store failed: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observer.NewPrometheusRecorder(registry)
	if err != nil {
		return fmt.Errorf("init metrics failed: %w", err)
	}

	eng, err := engine.NewEngine(appCfg.Sandbox.Config, profile.NewRepository(appCfg.Sandbox.Profiles))
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}
	languages, err := language.NewRegistry(eng, appCfg.Languages, metrics)
	if err != nil {
		return fmt.Errorf("init languages failed: %w", err)
	}
	worker, err := sandbox.NewWorker(sandbox.WorkerConfig{
		Languages: languages,
		WorkRoot:  appCfg.Judge.WorkRoot,
		MountBox:  appCfg.Judge.MountBox,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("init worker failed: %w", err)
	}
	scheduler, err := judgeService.NewScheduler(judgeService.SchedulerConfig{
		Executor:          worker,
		PoolSize:          appCfg.Worker.PoolSize,
		QueueSize:         appCfg.Worker.QueueSize,
		PrioritizeContest: appCfg.Worker.PrioritizeContest,
		MaxRetries:        appCfg.Worker.MaxRetries,
		RetryBaseDelay:    appCfg.Worker.RetryBaseDelay,
		RetryMaxDelay:     appCfg.Worker.RetryMaxDelay,
		Timeout:           appCfg.Worker.Timeout,
		Metrics:           metrics,
	})
	if err != nil {
		return fmt.Errorf("init scheduler failed: %w", err)
	}

	submissions := submitRepo.NewSubmissionRepository(mysqlDB, redisCache, appCfg.Submit.SubmissionTTL)
	statusRepo := judgeRepo.NewStatusRepository(redisCache, appCfg.Judge.StatusTTL)
	problems, err := problemclient.NewClient(problemclient.Config{
		Store:   problemclient.NewMySQLConfigStore(mysqlDB),
		Cache:   redisCache,
		TTL:     appCfg.Judge.ProblemTTL,
		Timeout: appCfg.Judge.ProblemTimeout,
	})
	if err != nil {
		return fmt.Errorf("init problem client failed: %w", err)
	}

	var (
		mqClient  *mq.KafkaQueue
		publisher judgeRepo.StatusEventPublisher
		relay     = &finalStatusRelay{}
	)
	if appCfg.Kafka.Enabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.KafkaConfig)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		publisher = judgeRepo.NewMQStatusEventPublisher(mqClient, appCfg.Kafka.StatusTopic)
	} else {
		logger.Warn(ctx, "kafka brokers not configured, judging in process")
		publisher = relay
	}

	judgeCfg := judgeService.Config{
		Scheduler:      scheduler,
		Problems:       problems,
		Sources:        sources,
		Submissions:    submissions,
		StatusRepo:     statusRepo,
		Publisher:      publisher,
		IORetries:      appCfg.Judge.IORetries,
		IORetryBase:    appCfg.Judge.IORetryBase,
		IORetryMax:     appCfg.Judge.IORetryMax,
		ProblemTimeout: appCfg.Judge.ProblemTimeout,
		StorageTimeout: appCfg.Judge.StorageTimeout,
		StatusTimeout:  appCfg.Judge.StatusTimeout,
	}
	if mqClient != nil {
		judgeCfg.RetryQueue = mqClient
		judgeCfg.RetryTopic = appCfg.Kafka.RetryTopic
		judgeCfg.DeadLetterTopic = appCfg.Kafka.DeadLetterTopic
		judgeCfg.PoolRetryMax = appCfg.Kafka.PoolRetryMax
		judgeCfg.PoolRetryBase = appCfg.Kafka.PoolRetryBase
		judgeCfg.PoolRetryMaxDelay = appCfg.Kafka.PoolRetryMaxD
	}
	judgeSvc, err := judgeService.NewService(judgeCfg)
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}
	worker.SetStatusReporter(judgeSvc)

	contestSvc, err := contestService.NewContestService(contestService.Config{
		Repo:        contestRepo.NewContestRepository(mysqlDB),
		Cache:       redisCache,
		CacheTTL:    appCfg.Ranking.CacheTTL,
		MaxPageSize: appCfg.Ranking.MaxPageSize,
		DBTimeout:   appCfg.Ranking.DBTimeout,
	})
	if err != nil {
		return fmt.Errorf("init contest service failed: %w", err)
	}

	var dispatcher submitService.Dispatcher = submitService.NewLocalDispatcher(judgeSvc)
	if mqClient != nil {
		dispatcher, err = submitService.NewMQDispatcher(mqClient, appCfg.Kafka.Topics, appCfg.Kafka.PublishTimeout)
		if err != nil {
			return fmt.Errorf("init dispatcher failed: %w", err)
		}
	}
	submitSvc, err := submitService.NewSubmitService(submitService.Config{
		SubmissionRepo:      submissions,
		StatusRepo:          statusRepo,
		Sources:             sources,
		Problems:            problems,
		Cache:               redisCache,
		Dispatcher:          dispatcher,
		Contests:            contestSvc,
		FinalStatusHandlers: []submitService.FinalStatusHandler{contestSvc},
		MaxCodeBytes:        appCfg.Submit.MaxCodeBytes,
		IdempotencyTTL:      appCfg.Submit.IdempotencyTTL,
		RateLimit: submitService.RateLimitConfig{
			UserMax: appCfg.Submit.UserRateLimit,
			Window:  appCfg.Submit.UserRateWindow,
		},
		Timeouts: submitService.TimeoutConfig{
			DB:      appCfg.Submit.DBTimeout,
			Cache:   appCfg.Submit.CacheTimeout,
			Storage: appCfg.Submit.StorageTimeout,
			Status:  appCfg.Submit.StatusTimeout,
		},
	})
	if err != nil {
		return fmt.Errorf("init submit service failed: %w", err)
	}
	relay.handler = submitSvc

	if mqClient != nil {
		limiter := mq.NewSlotLimiter(appCfg.Worker.PoolSize)
		if err := subscribe(ctx, mqClient, appCfg.Kafka, limiter, judgeSvc, submitSvc); err != nil {
			return err
		}
	}

	httpServer := buildHTTPServer(appCfg, redisCache, registry, routes{
		submit:  submitController.NewSubmitController(submitSvc, appCfg.Server.WatchPollInterval),
		judge:   judgeController.NewJudgeController(statusRepo, scheduler),
		contest: contestController.NewContestController(contestSvc),
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		logger.Info(gctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
		}
		if mqClient != nil {
			_ = mqClient.Stop()
		}
		return nil
	})
	return g.Wait()
}

// subscribe starts the judge consumers on the submission topics and the
// final status consumer that keeps live status and leaderboards current.
// limiter caps judge messages in flight at the scheduler's pool size.
func subscribe(ctx context.Context, mqClient *mq.KafkaQueue, cfg KafkaConfig, limiter mq.FetchLimiter, judgeSvc *judgeService.Service, submitSvc *submitService.SubmitService) error {
	err := mqClient.SubscribeWeighted(ctx, cfg.weightedTopics(), judgeSvc.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup:   cfg.ConsumerGroup,
		Concurrency:     cfg.Concurrency,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
		DeadLetterTopic: cfg.DeadLetterTopic,
	}, limiter)
	if err != nil {
		return fmt.Errorf("subscribe judge topics failed: %w", err)
	}
	err = mqClient.Subscribe(ctx, cfg.StatusTopic, submitSvc.HandleFinalStatusMessage, &mq.SubscribeOptions{
		ConsumerGroup: cfg.StatusGroup,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("subscribe status topic failed: %w", err)
	}
	if err := mqClient.Start(); err != nil {
		return fmt.Errorf("start kafka consumer failed: %w", err)
	}
	return nil
}

// finalStatusRelay hands final status events straight to the submit service
// when there is no broker between them.
type finalStatusRelay struct {
	handler submitService.FinalStatusHandler
}

func (r *finalStatusRelay) PublishFinalStatus(ctx context.Context, event model.StatusEvent) error {
	if r.handler == nil {
		return nil
	}
	return r.handler.HandleFinalStatus(ctx, event)
}

type routes struct {
	submit  *submitController.SubmitController
	judge   *judgeController.JudgeController
	contest *contestController.ContestController
}

func buildHTTPServer(cfg *AppConfig, limiterCache cache.Cache, registry *prometheus.Registry, r routes) *http.Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger.L()))
	router.Use(middleware.Trace())
	router.Use(middleware.RequestLogger(logger.L(), "/metrics", "/healthz"))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	api := router.Group("/api/v1")
	r.submit.RegisterRoutes(api, middleware.RateLimit(limiterCache, "submit", cfg.Submit.IPRateLimit))
	r.judge.RegisterRoutes(api)
	r.contest.RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
