package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/orzlee/jdbot/internal/config"
	"github.com/orzlee/jdbot/internal/db"
	"github.com/orzlee/jdbot/internal/instance"
	"github.com/orzlee/jdbot/internal/qr"
	"github.com/orzlee/jdbot/internal/ratelimit"
	"github.com/orzlee/jdbot/internal/session"
	"github.com/orzlee/jdbot/internal/store"
	"github.com/orzlee/jdbot/internal/store/rabbitmq"
	"github.com/orzlee/jdbot/internal/transport/botapi"
)

type sessionMsg struct {
	JobID string `json:"job_id"`
}

// sessionRunner is what handleSession needs from the orchestrator.
type sessionRunner interface {
	Run(ctx context.Context, trig session.Trigger) session.Outcome
}

// errTransient marks failures that happened before the session ran; the
// delivery is parked on the retry queue instead of being acked.
var errTransient = errors.New("transient pre-session failure")

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	repo := store.NewRepo(gdb)
	if err := repo.AutoMigrate(); err != nil {
		log.Error("db migrate", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	orch := session.New(session.Options{
		Store:        repo,
		Limiter:      ratelimit.New(rdb, "", cfg.RateLimitWindow),
		Manager:      instance.NewShellManager(cfg.InstanceCreateCommand, cfg.InstanceDestroyCommand, cfg.InstanceNamePrefix, cfg.InstanceTimeout, log),
		Replier:      botapi.New(cfg.BotAPIBaseURL, cfg.BotToken),
		Encoder:      qr.NewPNGEncoder(),
		LoginCommand: cfg.LoginCommand,
		LoginTimeout: cfg.LoginTimeout,
		MaxInstances: cfg.MaxInstances,
		AllowList:    cfg.AdminAllowList,
		MinLoginDays: cfg.MinLoginDays,
		Log:          log,
	})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Error("rabbit dial", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Error("rabbit channel", "err", err)
		os.Exit(1)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Error("queue declare", "err", err)
		os.Exit(1)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Error("qos", "err", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Error("consume", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m sessionMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Warn("bad message", "worker", workerID, "err", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				err := handleSession(ctx, orch, repo, m.JobID)
				switch {
				case err == nil:
					log.Info("session done", "worker", workerID, "job", m.JobID, "cost", time.Since(start).String())

				case errors.Is(err, errTransient):
					// the session never started; park the delivery for a
					// later redelivery instead of burning it
					log.Warn("session deferred", "worker", workerID, "job", m.JobID, "err", err)
					if perr := rabbitmq.PublishRetry(context.WithoutCancel(ctx), ch, cfg.RabbitQueue, d.Body); perr != nil {
						log.Error("retry publish failed", "worker", workerID, "job", m.JobID, "err", perr)
						_ = d.Nack(false, false)
						continue
					}

				default:
					log.Warn("session failed", "worker", workerID, "job", m.JobID, "cost", time.Since(start).String(), "err", err)
				}

				// Failed sessions are terminal and their reply was already
				// delivered, so the delivery is acked either way. Requeueing
				// would re-run the whole interactive login.
				if err := d.Ack(false); err != nil {
					log.Warn("ack failed", "worker", workerID, "job", m.JobID, "err", err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleSession(ctx context.Context, run sessionRunner, repo *store.Repo, jobID string) error {
	// Status writes must land even when shutdown has already cancelled ctx;
	// otherwise the acked job stays "running" forever.
	dbCtx := context.WithoutCancel(ctx)

	if err := repo.MarkJobRunning(dbCtx, jobID); err != nil {
		return fmt.Errorf("%w: mark running: %w", errTransient, err)
	}

	j, err := repo.GetJobByID(dbCtx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load job: %w", err)
		}
		return fmt.Errorf("%w: load job: %w", errTransient, err)
	}

	out := run.Run(ctx, session.Trigger{
		RequesterID:   j.RequesterID,
		RequesterName: j.RequesterName,
	})

	if out.Err != nil {
		if markErr := repo.MarkJobFailed(dbCtx, jobID, out.Err.Error()); markErr != nil {
			return errors.Join(out.Err, fmt.Errorf("mark failed: %w", markErr))
		}
		return out.Err
	}

	if err := repo.MarkJobSucceeded(dbCtx, jobID, out.ContainerID); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	return nil
}
