package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/monkebot/monkebot/bot"
	"github.com/monkebot/monkebot/config"
	"github.com/monkebot/monkebot/database"
	"github.com/monkebot/monkebot/openai"
	"github.com/monkebot/monkebot/queue"
	"github.com/monkebot/monkebot/ratelimit"
	"github.com/monkebot/monkebot/replicate"
	"github.com/monkebot/monkebot/scheduler"
	"github.com/monkebot/monkebot/service"
	"github.com/monkebot/monkebot/watcher"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Runs the monkebot server",
	Long:  `Runs the monkebot server`,
	Run: func(cmd *cobra.Command, args []string) {

		cfg := config.FromEnvfile()

		log.SetLevel(cfg.LogLevel)

		switch cfg.LogFormat {
		case config.LogFormatJSON:
			log.SetFormatter(&log.JSONFormatter{})
		default:
			log.SetFormatter(&log.TextFormatter{})
		}

		if cfg.TestModeEnabled {
			log.Info("TEST MODE ENABLED")
		}

		awsConfig, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		secretsManagerClient := secretsmanager.NewFromConfig(awsConfig)

		databaseURL := cfg.PostgresURL
		if databaseURL == "" {
			// Get the DB secrets from AWS Secrets Manager
			result, err := secretsManagerClient.GetSecretValue(context.Background(), &secretsmanager.GetSecretValueInput{SecretId: aws.String(cfg.PostgresSecretPath)})
			if err != nil {
				log.Fatal(err.Error())
			}
			var pgSecrets config.PostgresSecretData
			err = json.Unmarshal([]byte(*result.SecretString), &pgSecrets)
			if err != nil {
				log.Fatalf("postgres secrets read error: %v", err)
			}
			databaseURL = pgSecrets.ConnectionString
		}

		/*
			Graceful shutdown is possible with errgroup + signal.NotifyContext
			NotifyContext returns a context that will close on OS signals to terminate the process
			errgroup uses that context, and also closes it in case a goroutine errors out
		*/
		ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGKILL)
		defer done()
		g, gCtx := errgroup.WithContext(ctx)

		twitterService := service.NewTwitterService(gCtx, cfg, secretsManagerClient)
		openaiClient := openai.NewClient(cfg.OpenAI.APIKey)
		replicateClient := replicate.NewClient(cfg.Replicate.APIToken)

		database := database.NewDatabase(databaseURL)
		if err = database.Connect(gCtx); err != nil {
			log.Fatalf("error connecting to database: %v", err)
		}
		defer database.Disconnect()

		taskQueue := queue.NewQueue(cfg.Redis)
		if err = taskQueue.Connect(gCtx); err != nil {
			log.Fatalf("error connecting to redis: %v", err)
		}
		defer taskQueue.Close()

		// One tracker instance gates every outbound path for the life of
		// the process; its state is in-memory only.
		tracker := ratelimit.NewTracker()

		executor := bot.NewExecutor(twitterService, openaiClient, replicateClient, database, taskQueue, tracker, cfg.TestModeEnabled)
		if err = executor.VerifyCredentials(gCtx); err != nil {
			log.Fatalf("error verifying credentials: %v", err)
		}

		postScheduler := scheduler.NewScheduler(executor, cfg.PostInterval)

		mentionWatcher := watcher.NewWatcher(twitterService, executor, tracker)

		statusServer := service.NewStatusServer(cfg.StatusPort, database)

		g.Go(func() error {
			defer log.Info("exiting scheduler")
			return postScheduler.Run(gCtx)
		})

		g.Go(func() error {
			defer log.Info("exiting watcher")
			return mentionWatcher.Watch(gCtx)
		})

		g.Go(func() error {
			defer log.Info("exiting queue consumer")
			return taskQueue.Consume(gCtx, executor.ProcessMention)
		})

		// For deployed instances, provide a basic status endpoint to show it's online
		g.Go(func() error {
			if err := statusServer.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		// ...and shut down the server if the bot needs to terminate
		g.Go(func() error {
			<-gCtx.Done()
			defer log.Info("exiting status server")
			return statusServer.Server.Shutdown(context.Background())
		})

		err = g.Wait()
		if err != nil {
			log.Errorf("caught error: %v", err)
		}
	},
}
