package main

import (
    "context"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    cfgpkg "github.com/local/rangeplanner/internal/config"
    "github.com/local/rangeplanner/internal/dispatcher"
    "github.com/local/rangeplanner/internal/limiter"
    logpkg "github.com/local/rangeplanner/internal/logger"
    mpkg "github.com/local/rangeplanner/internal/metrics"
    "github.com/local/rangeplanner/internal/orchestrator"
    "github.com/local/rangeplanner/internal/queue"
    "github.com/local/rangeplanner/internal/statuscheck"
    "github.com/local/rangeplanner/internal/storage"
    "github.com/local/rangeplanner/internal/store"
)

func main() {
    cfgpkg.LoadDotEnv()
    cfg := cfgpkg.FromEnv()

    // Init logging
    _ = logpkg.Init(logpkg.Options{
        Level: cfg.Logging.Level,
        Pretty: cfg.Logging.Pretty,
        File: cfg.Logging.File,
        MaxSizeMB: cfg.Logging.MaxSizeMB,
        MaxBackups: cfg.Logging.MaxBackups,
        MaxAgeDays: cfg.Logging.MaxAgeDays,
        Compress: cfg.Logging.Compress,
        SendToAxiom: cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey: cfg.Axiom.APIKey,
        AxiomOrgID: cfg.Axiom.OrgID,
        AxiomDataset: cfg.Axiom.Dataset,
        AxiomFlush: cfg.Axiom.FlushInterval,
    })
    defer logpkg.Close()
    mpkg.Init()

    // One Redis client shared by queue, stores, lock and breaker
    opt, err := redis.ParseURL(cfg.Queue.RedisURL)
    if err != nil { log.Fatal().Err(err).Msg("invalid REDIS_URL") }
    rdb := redis.NewClient(opt)

    rq, err := queue.NewRedisQueueWithClient(rdb, queue.Options{
        Stream:       cfg.Queue.Stream,
        Group:        cfg.Queue.Group,
        PollInterval: cfg.Queue.PollInterval,
    })
    if err != nil {
        log.Fatal().Err(err).Msg("failed to connect to redis")
    }
    defer rq.Close()

    docs := store.NewDocumentStoreWithClient(rdb)
    sessions := store.NewSessionStoreWithClient(rdb, cfg.Session.TTL)
    rs := store.NewRedisStatusWithClient(rdb)
    locker := limiter.NewWithClient(rdb, cfg.Session.LockTTL)

    // Object storage is optional; without it s3:// references cannot be counted
    var (
        s3c     *storage.S3Client
        dl      orchestrator.ObjectDownloader
        buckets statuscheck.BucketChecker
        refs    func(string) string
    )
    if cfg.Storage.S3Bucket != "" || cfg.Storage.S3Region != "" {
        initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        s3c, err = storage.NewS3Client(initCtx, cfg.Storage)
        cancel()
        if err != nil {
            log.Warn().Err(err).Msg("s3 client init failed; s3 references disabled")
        } else {
            dl = s3c
            if s3c.Bucket() != "" {
                buckets = s3c
                refs = s3c.Ref
            }
        }
    }

    checker := statuscheck.New(statuscheck.Options{
        Redis:        rq,
        S3:           buckets,
        ProcessorURL: cfg.Processor.HealthURL,
    })

    orch := orchestrator.New(orchestrator.Dependencies{
        Queue:    rq,
        Docs:     docs,
        Sessions: sessions,
        Status:   rs,
        Locker:   locker,
        Pages:    orchestrator.NewPageCounter(dl, cfg.Processor.Timeout),
        Checker:  checker,
        Refs:     refs,
    })
    mux := http.NewServeMux()
    orch.RegisterRoutes(mux)
    mux.Handle("GET /metrics", mpkg.Handler())

    // Dispatcher worker (optional)
    if cfg.Worker.Enabled {
        if cfg.Processor.URL == "" {
            log.Warn().Msg("RUN_DISPATCHER set but PROCESSOR_URL empty; dispatcher not started")
        } else {
            disp := dispatcher.New(dispatcher.Config{
                Concurrency:        cfg.Worker.Concurrency,
                DequeueBlock:       cfg.Worker.DequeueBlock,
                RangeTimeout:       cfg.Worker.RangeTimeout,
                MaxAttempts:        cfg.Worker.JobMaxAttempts,
                RetryBaseDelay:     cfg.Worker.RetryBaseDelay,
                RetryJitter:        cfg.Worker.RetryJitter,
                RetryBackoffFactor: cfg.Worker.RetryBackoffFactor,
            }, dispatcher.Deps{
                Queue:     rq,
                Docs:      docs,
                Status:    rs,
                Processor: dispatcher.NewHTTPProcessor(cfg.Processor.URL, cfg.Processor.Timeout),
                Breaker:   dispatcher.NewCircuitBreaker(rdb, cfg.Worker.BreakerBaseBackoff, cfg.Worker.BreakerMaxBackoff),
            })
            disp.Start()
            log.Info().Int("concurrency", cfg.Worker.Concurrency).Str("processor", cfg.Processor.URL).Msg("dispatcher started")
            defer func() {
                ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
                defer cancel()
                if err := disp.Stop(ctx); err != nil { log.Warn().Err(err).Msg("dispatcher stop timed out") }
            }()
        }
    }

    // Housekeeping: queue depth gauges and stale temp downloads
    bg, stopBG := context.WithCancel(context.Background())
    defer stopBG()
    go housekeeping(bg, rq, cfg.Queue.DepthEvery)

    srv := &http.Server{Addr: ":"+cfg.HTTP.Port, Handler: logpkg.Middleware(mux)}

    go func(){
        log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
    defer cancel()
    _ = srv.Shutdown(ctx)
    fmt.Println("shutdown complete")
}

func housekeeping(ctx context.Context, rq *queue.RedisQueue, depthEvery time.Duration) {
    if depthEvery <= 0 { depthEvery = 15 * time.Second }
    depth := time.NewTicker(depthEvery)
    defer depth.Stop()
    cleanup := time.NewTicker(time.Hour)
    defer cleanup.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-depth.C:
            stream, delayed, dlq, err := rq.Depths(ctx)
            if err != nil { log.Debug().Err(err).Msg("queue depth read failed"); continue }
            mpkg.SetQueueDepth("stream", stream)
            mpkg.SetQueueDepth("delayed", delayed)
            mpkg.SetQueueDepth("dlq", dlq)
        case <-cleanup.C:
            if n := orchestrator.CleanupTemps(2 * time.Hour); n > 0 {
                log.Info().Int("removed", n).Msg("stale temp downloads removed")
            }
        }
    }
}
