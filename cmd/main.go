package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cedarmint/cedar"
	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/database"
	"github.com/cedarmint/cedar/internal/notification"
)

// CLI wraps the root cobra command.
type CLI struct {
	cmd *cobra.Command
}

// cedarInstance holds the coordinator and its configuration, shared by
// every subcommand after preRun.
type cedarInstance struct {
	cedar *cedar.Cedar
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the coordinator before
// any command executes.
func preRun(app *cedarInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("cedar.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newCedar, err := setupCedar(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.cedar = newCedar
		app.cnf = cnf

		return nil
	}
}

func setupCedar(cfg *config.Configuration) (*cedar.Cedar, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newCedar, err := cedar.NewCedar(db)
	if err != nil {
		return nil, fmt.Errorf("error creating cedar: %v", err)
	}
	return newCedar, nil
}

// NewCLI builds the command tree: server, workers and migrate.
func NewCLI() *CLI {
	var configFile string
	c := &cedarInstance{}

	var rootCmd = &cobra.Command{
		Use:   "cedar",
		Short: "Fraud-gated ledger",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./cedar.json", "Configuration file for cedar")

	rootCmd.PersistentPreRunE = preRun(c)

	rootCmd.AddCommand(serverCommands(c))
	rootCmd.AddCommand(workerCommands(c))
	rootCmd.AddCommand(migrateCommands())

	return &CLI{cmd: rootCmd}
}

func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
