package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/caretrack/internal/archive"
	"github.com/zombor/caretrack/internal/banksync"
	"github.com/zombor/caretrack/internal/classify"
	"github.com/zombor/caretrack/internal/config"
	"github.com/zombor/caretrack/internal/ledger"
	"github.com/zombor/caretrack/internal/mileage"
	"github.com/zombor/caretrack/internal/scanning"
	"github.com/zombor/caretrack/internal/server"
	"github.com/zombor/caretrack/internal/store"
	"github.com/zombor/caretrack/internal/triage"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("caretrack")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "caretrack.db", "Database file path")
		configPath  = fs.StringLong("config", "", "YAML file overriding pipeline thresholds and limits")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat   = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		userID      = fs.StringLong("user", "default", "Owner of expenses when basic auth is off")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		storageType = fs.StringLong("storage", "local", "Receipt image storage: 'local' or 's3'")
		storagePath = fs.StringLong("storage-path", "./receipts", "Local storage directory path")
		s3Bucket    = fs.StringLong("s3-bucket", "", "S3 bucket for receipt images")
		s3Region    = fs.StringLong("s3-region", "", "S3 region")
		s3Endpoint  = fs.StringLong("s3-endpoint", "", "S3-compatible endpoint URL (e.g. MinIO)")
		s3AccessKey = fs.StringLong("s3-access-key", "", "S3 access key (defaults to the AWS credential chain)")
		s3SecretKey = fs.StringLong("s3-secret-key", "", "S3 secret key")
		s3Prefix    = fs.StringLong("s3-prefix", "receipts/", "Key prefix for receipt images")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		mileageURL  = fs.StringLong("mileage-url", "", "Distance endpoint URL (optional)")
		plaidID     = fs.StringLong("plaid-client-id", "", "Plaid client ID (optional)")
		plaidSecret = fs.StringLong("plaid-secret", "", "Plaid secret")
		plaidEnv    = fs.StringLong("plaid-env", "sandbox", "Plaid environment: 'sandbox' or 'production'")
		plaidToken  = fs.StringLong("plaid-access-token", "", "Plaid access token for the linked item")
		ofxDir      = fs.StringLong("ofx-dir", "", "Directory of downloaded OFX/QFX statements to sync (optional)")
		syncEvery   = fs.DurationLong("sync-interval", 6*time.Hour, "How often to sync bank transactions")
		lookback    = fs.DurationLong("sync-lookback", 30*24*time.Hour, "How far back each bank sync looks")
		_           = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CARETRACK"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	setupLogging(*logLevel, *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := store.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize OCR endpoint based on type
	var endpoint scanning.OCREndpoint
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		endpoint, err = scanning.NewGemini(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		endpoint, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		err = fmt.Errorf("invalid scanner type %q: valid are gemini or ollama", *scannerType)
	}
	if err != nil {
		slog.Error("Failed to initialize scanner", "error", err)
		os.Exit(1)
	}
	defer endpoint.Close()

	// Initialize receipt image storage
	var files archive.Storage
	switch *storageType {
	case "local":
		files, err = archive.NewLocalStorage(*storagePath)
	case "s3":
		files, err = archive.NewS3Storage(ctx, archive.S3Config{
			Bucket:    *s3Bucket,
			Region:    *s3Region,
			Endpoint:  *s3Endpoint,
			AccessKey: *s3AccessKey,
			SecretKey: *s3SecretKey,
			Prefix:    *s3Prefix,
		})
	default:
		err = fmt.Errorf("invalid storage type %q: valid are local or s3", *storageType)
	}
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	classifier := classify.NewClassifier(pipeline.Classification, nil)
	queue := triage.NewQueue(db, classifier)

	services := server.Services{
		Extractor:  scanning.NewExtractor(endpoint, pipeline.Extraction),
		Classifier: classifier,
		Queue:      queue,
		Ledger:     ledger.NewMaterializer(db, db, pipeline.Ledger),
		Archive:    files,
	}
	if *mileageURL != "" {
		services.Mileage = mileage.NewClient(*mileageURL)
	}

	// Bank sources
	var sources []banksync.Source
	if *plaidID != "" {
		plaidSource, err := banksync.NewPlaidSource(banksync.PlaidConfig{
			ClientID:    *plaidID,
			Secret:      *plaidSecret,
			Environment: *plaidEnv,
			AccessToken: *plaidToken,
		})
		if err != nil {
			slog.Error("Failed to initialize Plaid", "error", err)
			os.Exit(1)
		}
		sources = append(sources, plaidSource)
	}
	if *ofxDir != "" {
		sources = append(sources, banksync.NewOFXDirSource(*ofxDir))
	}

	var worker *banksync.Worker
	if len(sources) > 0 {
		worker = banksync.NewWorker(sources, queue, banksync.WorkerConfig{
			Interval: *syncEvery,
			Lookback: *lookback,
		})
		services.BankSync = worker
	}

	srv := server.NewServer(services, server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}, *userID)

	g, ctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf(":%d", *port)
	g.Go(func() error {
		return srv.Run(ctx, addr)
	})
	if worker != nil {
		g.Go(func() error {
			return worker.Run(ctx)
		})
	}

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}

func setupLogging(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
