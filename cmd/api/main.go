package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"chathub/internal/agent"
	"chathub/internal/chat"
	"chathub/internal/checkpoint"
	"chathub/internal/config"
	"chathub/internal/db"
	"chathub/internal/httpapi"
	"chathub/internal/keys"
	"chathub/internal/llm"
	"chathub/internal/quota"
	"chathub/internal/store"
	"chathub/internal/summary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	users := store.NewUsers(pool)
	convs := store.NewConversations(pool)
	msgs := store.NewMessages(pool)
	pins := store.NewPins(pool)
	checkpoints := checkpoint.NewStore(pool)
	ledger := quota.NewLedger(pool, cfg.DailyResponseLimit)

	client, err := llm.NewOpenAIClient(llm.Config{
		BaseURL: cfg.ModelBaseURL,
		APIKey:  cfg.ModelAPIKey,
		Model:   cfg.ModelName,
	})
	if err != nil {
		log.Fatalf("model client: %v", err)
	}

	runtime := agent.NewRuntime(client, checkpoints, "")
	summarizer := summary.NewGenerator(client, msgs, convs, cfg.SummaryMaxWords)

	secrets, err := keys.NewCipher(cfg.SecretsPassphrase)
	if err != nil {
		log.Fatalf("secrets cipher: %v", err)
	}

	svc := chat.NewService(users, convs, msgs, pins, ledger, runtime, summarizer, checkpoints,
		func(userID uuid.UUID) []agent.Tool {
			return agent.UserTools(userID, convs, msgs, users)
		},
		chat.Config{
			HistoryWindow: cfg.HistoryWindow,
			ModelTimeout:  cfg.ModelCallTimeout,
			DefaultLimit:  cfg.DailyResponseLimit,
		})
	svc.EnablePersonalRunners(secrets, func(modelAPIKey string) (chat.Runner, error) {
		personal, err := llm.NewOpenAIClient(llm.Config{
			BaseURL: cfg.ModelBaseURL,
			APIKey:  modelAPIKey,
			Model:   cfg.ModelName,
		})
		if err != nil {
			return nil, err
		}
		return agent.NewRuntime(personal, checkpoints, ""), nil
	})

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Service: svc,
			Users:   users,
			Usage:   ledger,
			Pepper:  cfg.APIKeyPepper,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
