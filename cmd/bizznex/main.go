package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"go.etcd.io/bbolt"

	"github.com/bizznex/bizznex/internal/auth"
	"github.com/bizznex/bizznex/internal/billing"
	"github.com/bizznex/bizznex/internal/metering"
	"github.com/bizznex/bizznex/internal/receipt"
	"github.com/bizznex/bizznex/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// Local development keeps secrets in .env; absence is fine.
	_ = godotenv.Load()

	fs := ff.NewFlagSet("bizznex")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "bizznex.db", "Database file path")
		storagePath = fs.StringLong("storage", "./receipts", "Storage directory path")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		jwtSecret   = fs.StringLong("jwt-secret", "", "HS256 secret for bearer tokens (or set BIZZNEX_JWT_SECRET env var)")

		stripeKey        = fs.StringLong("stripe-key", "", "Stripe secret key (billing disabled when empty)")
		stripePricePro   = fs.StringLong("stripe-price-pro", "", "Stripe price ID for the pro plan")
		stripePricePrem  = fs.StringLong("stripe-price-premium", "", "Stripe price ID for the premium plan")
		stripeWebhookKey = fs.StringLong("stripe-webhook-secret", "", "Stripe webhook signing secret")
		frontendURL      = fs.StringLong("frontend-url", "", "Frontend base URL for checkout redirects")

		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BIZZNEX"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	secret := *jwtSecret
	if secret == "" {
		secret = os.Getenv("BIZZNEX_JWT_SECRET")
	}
	verifier, err := auth.NewHMACVerifier(secret)
	if err != nil {
		slog.Error("JWT secret is required. Set --jwt-secret flag or BIZZNEX_JWT_SECRET environment variable")
		os.Exit(1)
	}

	slog.Info("Opening database...", "path", *dbPath)
	db, err := bbolt.Open(*dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	receiptDB, err := receipt.NewBoltDB(db)
	if err != nil {
		slog.Error("Failed to initialize receipt database", "error", err)
		os.Exit(1)
	}

	counters, err := metering.NewBoltCounterStore(db)
	if err != nil {
		slog.Error("Failed to initialize usage counters", "error", err)
		os.Exit(1)
	}

	plans, err := billing.NewBoltPlanStore(db)
	if err != nil {
		slog.Error("Failed to initialize plan store", "error", err)
		os.Exit(1)
	}

	meter := metering.NewMeter(counters, billing.NewQuotaResolver(plans))

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Warn("Gemini API key not configured; scans will fall back to manual entry")
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := receipt.NewService(receiptDB, scanner, store, meter)

	serverBilling := receipt.Billing{Plans: plans}
	if *stripeKey != "" {
		checkout, err := billing.NewStripeCheckout(billing.StripeConfig{
			SecretKey:      *stripeKey,
			PriceIDPro:     *stripePricePro,
			PriceIDPremium: *stripePricePrem,
			FrontendURL:    *frontendURL,
			WebhookSecret:  *stripeWebhookKey,
		})
		if err != nil {
			slog.Error("Failed to initialize Stripe", "error", err)
			os.Exit(1)
		}
		serverBilling.Checkout = checkout
		serverBilling.Webhooks = checkout
		slog.Info("Billing enabled")
	} else {
		slog.Info("Billing disabled; all users stay on the free plan")
	}

	server := receipt.NewServer(service, verifier, serverBilling)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
