package cmds

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/forkchat/pkg/chat"
	"github.com/go-go-golems/forkchat/pkg/events"
	"github.com/go-go-golems/forkchat/pkg/responder"
	"github.com/go-go-golems/forkchat/pkg/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}

	cmd.Flags().String("listen-addr", "127.0.0.1:8089", "Address the HTTP server listens on")
	cmd.Flags().Int("retry-max-attempts", 4, "Attempts per request when a version conflict occurs")
	cmd.Flags().String("responder-provider", "none", "Responder for replies and regenerations (none, echo, openai)")
	cmd.Flags().String("responder-model", "", "Model name for the openai responder")
	cmd.Flags().String("responder-base-url", "", "Base URL of an OpenAI compatible API")
	cmd.Flags().String("responder-api-key", "", "API key for the openai responder")
	cmd.Flags().Int("responder-max-tokens", 0, "Maximum tokens per generated reply (0 for the API default)")
	cmd.Flags().Bool("responder-allow-local", false, "Accept http and local network responder base URLs")

	cobra.CheckErr(viper.BindPFlags(cmd.Flags()))

	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}()

	r, err := responder.New(cfg.Responder)
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(events.WithVerbose(cfg.Verbose))
	if err != nil {
		return errors.Wrap(err, "creating event router")
	}
	router.AddEventHandler("log-events", router.LogEvents)

	publisher := events.NewPublisherManager()
	publisher.SubscribePublisher(events.TopicConversations, router.Publisher)

	service := chat.NewService(store,
		chat.WithPublisher(publisher),
		chat.WithResponder(r),
	)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewServer(service, server.WithRetrySettings(cfg.Retry)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		// start serving once the event handlers are subscribed
		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("store", cfg.Store.Backend).
			Str("responder", cfg.Responder.Provider).
			Msg("serving forkchat")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		return router.Close()
	})

	return eg.Wait()
}
