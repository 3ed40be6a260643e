package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/drive-chat/internal/api"
	"gwi.com/drive-chat/internal/auth"
	"gwi.com/drive-chat/internal/cache"
	"gwi.com/drive-chat/internal/config"
	"gwi.com/drive-chat/internal/core"
	"gwi.com/drive-chat/internal/drive"
	"gwi.com/drive-chat/internal/imagefallback"
	"gwi.com/drive-chat/internal/llm"
	"gwi.com/drive-chat/internal/logger"
	"gwi.com/drive-chat/internal/notify"
	"gwi.com/drive-chat/internal/store"
)

const (
	scrapeTimeout = 15 * time.Second
	probeTimeout  = 5 * time.Second
)

func main() {
	issueToken := flag.String("issue-token", "", "Print a staff JWT for the given name and exit")
	tokenTTL := flag.Duration("token-ttl", 12*time.Hour, "Lifetime of tokens issued with -issue-token")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.LogLevel)

	if *issueToken != "" {
		token, err := auth.GenerateJWT(cfg.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			log.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if cfg.GeminiAPIKey == "" {
		log.Error("GEMINI_API_KEY environment variable not set")
		os.Exit(1)
	}

	ctx := context.Background()

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbStore.Close()

	var kv cache.Cache = cache.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "drive-chat:")
		if err != nil {
			log.Warn("redis unavailable, using in-process cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer rc.Close()
			kv = rc
		}
	}

	llmService, err := llm.NewService(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		log.Error("failed to create Gemini client", "error", err)
		os.Exit(1)
	}
	defer llmService.Close()

	var moderator llm.Moderator
	switch cfg.ModerationProvider {
	case config.ModerationOpenAI:
		if cfg.OpenAIAPIKey == "" {
			log.Error("OPENAI_API_KEY is required when MODERATION_PROVIDER=openai")
			os.Exit(1)
		}
		moderator = llm.NewOpenAIModerator(llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), cfg.OpenAIModel)
	default:
		moderator = llm.NewGeminiModerator(llmService, cfg.ModerationModel)
	}
	moderator = llm.WithRetry(moderator, llm.NewRetrier(cfg.ModerationRetries, cfg.ModerationBaseDelay))

	answers := llm.NewAnswerGenerator(llmService, cfg.ChatModel, cfg.StructuredOutput,
		llm.NewRetrier(cfg.GenerationRetries, time.Second))

	var (
		files     drive.Client
		knowledge core.KnowledgeSource
		folderID  = cfg.DriveFolderID
		driveErr  = cfg.DriveConfigError()
	)
	switch {
	case cfg.MockDrive():
		log.Warn("drive is not configured, serving the built-in sample folder", "reason", driveErr)
		files, folderID, driveErr = drive.NewSampleClient(), drive.SampleFolderID, nil
	case driveErr == nil:
		gc, err := drive.NewGoogleClient(ctx, drive.Credentials{
			File:        cfg.GoogleCredentialsFile,
			ClientEmail: cfg.GoogleServiceAccountEmail,
			PrivateKey:  cfg.GooglePrivateKey,
		}, cfg.DriveRequestsPerSecond)
		if err != nil {
			log.Error("failed to create Drive client", "error", err)
			driveErr = fmt.Errorf("%w: %v", config.ErrDriveNotConfigured, err)
		} else {
			files = gc
		}
	default:
		log.Error("drive is not configured; chat requests will report it", "error", driveErr)
	}
	if files != nil {
		knowledge = drive.NewBuilder(files, kv, cfg.KnowledgeCacheTTL, cfg.DriveConcurrency)
	}

	var scraper imagefallback.Scraper
	if cfg.HeadlessResolve {
		scraper = imagefallback.NewChromeScraper(cfg.ChromePath, scrapeTimeout)
	}
	var prober imagefallback.Prober
	if cfg.ProbeImages {
		prober = imagefallback.NewHTTPProber(probeTimeout)
	}
	resolver := imagefallback.NewResolver(scraper, prober, kv, cfg.DirectURLTTL)

	chatService := core.NewChatService(core.ChatDeps{
		Knowledge:   knowledge,
		FolderID:    folderID,
		DriveErr:    driveErr,
		Moderator:   moderator,
		Answers:     answers,
		Prompts:     core.NewPromptBuilder(llmService, kv, cfg.MaxContextChars),
		Resolver:    resolver,
		Renderer:    core.NewRenderer(),
		Transcripts: core.NewTranscripts(cfg.SessionTTL),
		MaxImages:   cfg.MaxImages,
	})

	var notifier notify.Notifier = notify.Nop{}
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel)
	}
	ticketService := core.NewTicketService(dbStore, notifier)

	var downloader api.Downloader
	if files != nil {
		downloader = files
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set, staff ticket routes will reject every request")
	}
	apiHandler := api.NewAPIHandler(chatService, ticketService, downloader, driveErr, resolver, cfg.JWTSecret)
	router := api.NewRouter(apiHandler, cfg.AllowedOrigins)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: api.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting server", "addr", serverAddr, "env", cfg.AppEnv, "folder_id", folderID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("could not listen", "addr", serverAddr, "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return
	}
	log.Info("server exited gracefully")
}
