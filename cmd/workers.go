package main

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/cedarmint/cedar"
	"github.com/cedarmint/cedar/config"
	redis_db "github.com/cedarmint/cedar/internal/redis-db"
	"github.com/cedarmint/cedar/internal/traces"
)

// staleHoldSweepSchedule is the cron spec for the hold expiry backstop.
// The scheduled asynq task is the primary path; the sweep catches holds
// whose task was lost.
const staleHoldSweepSchedule = "*/10 * * * *"

func initializeQueues(conf *config.Configuration) map[string]int {
	queues := make(map[string]int)
	queues[conf.Queue.WebhookQueue] = 3
	queues[conf.Queue.HoldExpiryQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(c *cedarInstance, conf *config.Configuration, mux *asynq.ServeMux) {
	mux.HandleFunc(conf.Queue.WebhookQueue, cedar.ProcessWebhook)
	mux.HandleFunc(conf.Queue.HoldExpiryQueue, c.cedar.ProcessHoldExpiry)
}

// startStaleHoldSweep runs the periodic backstop that declines flagged
// transactions whose review deadline passed without the scheduled task
// firing.
func startStaleHoldSweep(c *cedarInstance) *cron.Cron {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(staleHoldSweepSchedule, func() {
		if err := c.cedar.ExpireStaleHolds(context.Background()); err != nil {
			log.Printf("stale hold sweep failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("could not schedule stale hold sweep: %v", err)
	}
	scheduler.Start()
	return scheduler
}

// workerCommands defines the "workers" command. The workers drain the
// webhook and hold expiry queues and run the stale hold sweep.
func workerCommands(c *cedarInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start cedar workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			shutdown, err := traces.SetupOTelSDK(ctx, "CEDAR-WORKERS")
			if err != nil {
				log.Printf("tracing disabled: %v", err)
			} else {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("error flushing traces: %v", err)
					}
				}()
			}

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues(conf)

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(c, conf, mux)

			sweep := startStaleHoldSweep(c)
			defer sweep.Stop()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
