package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/cedarmint/cedar/api"
	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/internal/traces"
)

func initializeRouter(c *cedarInstance) *gin.Engine {
	return api.NewAPI(c.cedar).Router()
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// serverCommands returns the command that starts the HTTP API.
func serverCommands(c *cedarInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start cedar server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			shutdown, err := traces.SetupOTelSDK(ctx, "CEDAR")
			if err != nil {
				log.Printf("tracing disabled: %v", err)
			} else {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("error flushing traces: %v", err)
					}
				}()
			}

			router := initializeRouter(c)

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			if err := startServer(router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
