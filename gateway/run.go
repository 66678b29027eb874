// Copyright 2025 ToolGate
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"toolgate/platform/gateway/quarantine"
	"toolgate/platform/llm"
	"toolgate/platform/llm/anthropic"
	"toolgate/platform/llm/openai"
	"toolgate/platform/shared/logger"
)

// ToolGate Gateway - credential-layered tool routing with taint quarantine
// This service sits between AI agents and the tool servers they call

// Prometheus metrics
var (
	promToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_tool_calls_total",
			Help: "Total number of tool calls processed by the gateway",
		},
		[]string{"status"},
	)
	promToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_tool_call_duration_milliseconds",
			Help:    "Tool call duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
		},
		[]string{"decision"},
	)
	promToolListDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toolgate_tool_list_duration_milliseconds",
			Help:    "Tool listing duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		},
	)
	promQuarantineVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_quarantine_verdicts_total",
			Help: "Total number of quarantine evaluations by decision",
		},
		[]string{"decision"},
	)
	promAuthDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_authorization_denied_total",
			Help: "Total number of rejected authorization attempts",
		},
	)
	promAuditQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_audit_queued_total",
			Help: "Total number of audit records queued",
		},
	)
	promAuditFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_audit_fallback_total",
			Help: "Total number of audit records written to the fallback file",
		},
	)
)

func init() {
	prometheus.MustRegister(promToolCallsTotal)
	prometheus.MustRegister(promToolCallDuration)
	prometheus.MustRegister(promToolListDuration)
	prometheus.MustRegister(promQuarantineVerdicts)
	prometheus.MustRegister(promAuthDenied)
	prometheus.MustRegister(promAuditQueued)
	prometheus.MustRegister(promAuditFallback)
}

// Application readiness state for health checks
var appReady atomic.Bool

// Global router and server - allows health checks to pass immediately
// while initialization (database, Redis, providers) happens
var (
	globalRouter *mux.Router
	globalCORS   *cors.Cors
	serviceStart = time.Now()
)

// initServerImmediately starts the HTTP server with just /health so
// load-balancer health checks pass during the potentially slow
// initialization phase. Other routes are added after initialization
// completes; the server never restarts.
func initServerImmediately(port string) {
	globalRouter = mux.NewRouter()

	globalCORS = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	globalRouter.HandleFunc("/health", readinessAwareHealthHandler).Methods("GET")

	go func() {
		handler := globalCORS.Handler(globalRouter)
		log.Printf("ToolGate gateway starting on port %s (status: starting)", port)
		if err := http.ListenAndServe(":"+port, handler); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Small delay so the listener is accepting before init proceeds
	time.Sleep(50 * time.Millisecond)
}

// readinessAwareHealthHandler reports readiness state without blocking
func readinessAwareHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "starting"
	if appReady.Load() {
		status = "healthy"
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"service":   "toolgate-gateway",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// buildDatabaseURL assembles the connection string from DATABASE_* env
// vars, falling back to a legacy DATABASE_URL
func buildDatabaseURL() string {
	dbHost := os.Getenv("DATABASE_HOST")
	dbPort := os.Getenv("DATABASE_PORT")
	dbName := os.Getenv("DATABASE_NAME")
	dbUser := os.Getenv("DATABASE_USER")
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	dbSSLMode := os.Getenv("DATABASE_SSLMODE")

	dbURL := os.Getenv("DATABASE_URL")
	if dbHost != "" && dbPassword != "" {
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbName == "" {
			dbName = "toolgate"
		}
		if dbUser == "" {
			dbUser = "toolgate_app"
		}
		if dbSSLMode == "" {
			dbSSLMode = "require"
		}
		// URL-encode credentials to survive special characters in URI form
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			url.QueryEscape(dbUser), url.QueryEscape(dbPassword), dbHost, dbPort, dbName, dbSSLMode)
	}
	return dbURL
}

// connectDB opens the database with retry. Retry is needed because
// container DNS can take a few seconds after startup.
func connectDB(dbURL string) (*sql.DB, error) {
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= 5; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = db.PingContext(pingCtx)
			cancel()
			if err == nil {
				return db, nil
			}
			_ = db.Close()
		}
		log.Printf("Database connection attempt %d/5 failed: %v", attempt, err)
		time.Sleep(time.Second * time.Duration(attempt))
	}
	return nil, fmt.Errorf("database unreachable after 5 attempts: %w", err)
}

// newProvider builds the reasoning-role LLM provider from config
func newProvider(cfg LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return anthropic.NewProvider(anthropic.Config{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "openai":
		return openai.NewProvider(openai.Config{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// Run is the exported entry point for the gateway service
func Run() {
	cfg, err := LoadConfig(getEnv("GATEWAY_CONFIG", "gateway.yaml"))
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	port := getEnv("PORT", cfg.Port)
	initServerImmediately(port)

	gwLogger := logger.New("gateway")

	dbURL := buildDatabaseURL()
	if dbURL == "" {
		log.Fatal("DATABASE_URL (or DATABASE_HOST/DATABASE_PASSWORD) is required")
	}

	db, err := connectDB(dbURL)
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewPostgresCredentialStore(initCtx, db)
	if err != nil {
		log.Fatalf("Credential store initialization failed: %v", err)
	}
	log.Println("Credential store ready")

	audit, err := NewAuditQueue(initCtx, db, cfg.AuditQueue.Size, cfg.AuditQueue.Workers, cfg.AuditQueue.FallbackPath)
	if err != nil {
		log.Fatalf("Audit queue initialization failed: %v", err)
	}

	// Taint tracker: Redis when configured (multi-instance deployments),
	// in-memory otherwise
	var tracker quarantine.Tracker
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisTracker, err := quarantine.NewRedisTracker(redisURL)
		if err != nil {
			log.Fatalf("Redis taint tracker initialization failed: %v", err)
		}
		tracker = redisTracker
		log.Println("Taint tracker: redis")
	} else {
		tracker = quarantine.NewMemoryTracker()
		log.Println("Taint tracker: in-memory (set REDIS_URL for multi-instance deployments)")
	}

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		log.Fatalf("LLM provider initialization failed: %v", err)
	}
	providers := llm.NewRegistry()
	if err := providers.Register(provider); err != nil {
		log.Fatalf("LLM provider registration failed: %v", err)
	}
	log.Printf("Quarantine provider: %s", provider.Name())

	evaluator := quarantine.NewEvaluator(provider, tracker, cfg.Quarantine, logger.New("quarantine"))

	registry := NewToolRegistry()
	registered, err := cfg.RegisteredTools()
	if err != nil {
		log.Fatalf("Tool registry configuration error: %v", err)
	}
	for _, tool := range registered {
		if err := registry.Register(tool); err != nil {
			log.Fatalf("Tool registration failed: %v", err)
		}
	}
	log.Printf("Registered %d external tools", registry.Len())

	confirmSecret := os.Getenv("CONFIRMATION_SECRET")
	var confirmer *ConfirmationSigner
	if confirmSecret != "" {
		confirmer, err = NewConfirmationSigner([]byte(confirmSecret))
		if err != nil {
			log.Fatalf("Confirmation signer initialization failed: %v", err)
		}
	} else {
		log.Println("CONFIRMATION_SECRET not set - user-confirmation replay disabled")
	}

	builtins := NewBuiltinTools(tracker, registry)
	executor := NewHTTPToolExecutor(30*time.Second, gwLogger)
	authorizer := NewAuthorizer(store, gwLogger)

	router := NewToolRouter(authorizer, store, registry, executor, builtins, evaluator, tracker, audit, confirmer, gwLogger)

	// /health was registered in initServerImmediately() - add the rest now
	globalRouter.HandleFunc("/metrics", metricsHandler(audit, providers)).Methods("GET")
	globalRouter.Handle("/prometheus", promhttp.Handler()).Methods("GET")
	router.RegisterRoutes(globalRouter)

	appReady.Store(true)
	log.Printf("ToolGate gateway ready on port %s", port)

	// Block until shutdown, then drain the audit queue
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := audit.Shutdown(shutdownCtx); err != nil {
		log.Printf("Audit queue shutdown error: %v", err)
	}
	if closer, ok := tracker.(*quarantine.RedisTracker); ok {
		_ = closer.Close()
	}
	_ = db.Close()
}

// metricsHandler serves a JSON operational summary (Prometheus data is on
// /prometheus)
func metricsHandler(audit *AuditQueue, providers *llm.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processed, failed, queued := audit.Stats()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"service":         "toolgate-gateway",
			"uptime_seconds":  int(time.Since(serviceStart).Seconds()),
			"audit_processed": processed,
			"audit_failed":    failed,
			"audit_queued":    queued,
			"llm_providers":   providers.Names(),
		})
	}
}

// getEnv returns the env value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
