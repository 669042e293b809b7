package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/internal/database/models"
	"github.com/y0ug/detreg/internal/metrics"
	"github.com/y0ug/detreg/internal/registry"
	"github.com/y0ug/detreg/pkg/auth"
)

// WebServer holds the data needed for handling HTTP requests.
type WebServer struct {
	Registry    *registry.Registry
	config      *WebserverConfig
	authConfig  *auth.Config
	authHandler *auth.Handler
	metrics     *metrics.Collector
	limiter     *callerLimiter
	Logger      *logrus.Logger
}

// NewWebServer initializes a new WebServer. collector may be nil when
// metrics are disabled.
func NewWebServer(reg *registry.Registry, config *WebserverConfig, authConfig *auth.Config, authHandler *auth.Handler, collector *metrics.Collector, logger *logrus.Logger) *WebServer {
	return &WebServer{
		Registry:    reg,
		config:      config,
		authConfig:  authConfig,
		authHandler: authHandler,
		metrics:     collector,
		limiter:     newCallerLimiter(config.RateLimit),
		Logger:      logger,
	}
}

// StartWebServer binds the listen address and serves in the background.
// A bind failure is returned directly. Serve failures after that are sent
// on the returned channel, which is closed once the server stops.
func StartWebServer(ctx context.Context, ws *WebServer) (*http.Server, <-chan error, error) {
	router := ws.InitRouter()

	// Configure CORS options
	corsOptions := cors.Options{
		AllowedOrigins:   ws.config.CorsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", auth.CallerHeader},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		Debug:            false,
	}

	// Create CORS handler
	handler := cors.New(corsOptions).Handler(router)

	// Create the server
	server := &http.Server{
		Addr:              ws.config.ListenTo,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		ws.Logger.Infof("Server starting on %s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.Logger.WithError(err).Error("HTTP server stopped")
			errCh <- err
		}
	}()

	return server, errCh, nil
}

// InitRouter initializes the HTTP routes.
func (ws *WebServer) InitRouter() *mux.Router {
	// Hashes may contain "/", clients send them escaped.
	r := mux.NewRouter().UseEncodedPath()
	if ws.metrics != nil {
		r.Use(ws.instrument)
		r.Handle("/metrics", ws.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	authRouter := r.PathPrefix("/auth").Subrouter()

	// Authentication routes
	if ws.authConfig.AuthType == auth.AuthTypeOAuth2 {
		authRouter.HandleFunc("/providers", ws.authHandler.HandlerProviders).Methods("GET")
		authRouter.HandleFunc("/login/{provider}", ws.authHandler.HandleLogin).Methods("GET")
		authRouter.HandleFunc("/callback/{provider}", ws.authHandler.HandleCallback).Methods("GET")

		authRouter.Handle("/status", ws.authHandler.AuthMiddleware(http.HandlerFunc(ws.authHandler.HandleStatus))).Methods("GET")
		authRouter.Handle("/logout", ws.authHandler.AuthMiddleware(http.HandlerFunc(ws.authHandler.HandleLogout))).Methods("POST", "GET")
		authRouter.HandleFunc("/refresh", ws.authHandler.HandleRefresh).Methods("POST", "GET")
	}

	api.Use(ws.authHandler.AuthMiddleware)

	// API routes
	api.Handle("/reporters", ws.rateLimit(http.HandlerFunc(ws.handleAddReporter))).Methods(http.MethodPut)
	api.HandleFunc("/reporters", ws.handleListReporters).Methods(http.MethodGet)
	api.HandleFunc("/reporters/{id}", ws.handleGetReporter).Methods(http.MethodGet)
	api.Handle("/detections", ws.rateLimit(http.HandlerFunc(ws.handleReportDetection))).Methods(http.MethodPut)
	api.Handle("/detections/{hash}/confirm", ws.rateLimit(http.HandlerFunc(ws.handleConfirmDetection))).Methods(http.MethodPost)
	api.HandleFunc("/detections/{hash}", ws.handleGetDetection).Methods(http.MethodGet)
	api.HandleFunc("/stats", ws.handleGetStats).Methods(http.MethodGet)
	api.HandleFunc("/whoami", ws.handleWhoAmI).Methods(http.MethodGet)

	return r
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func (ws *WebServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		ws.metrics.ObserveRequest(r.Method, route, rec.status, time.Since(start))
	})
}

// rateLimit rejects callers exceeding their mutation budget.
func (ws *WebServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := auth.CallerFromContext(r.Context())
		if err != nil {
			key = auth.ClientIP(r)
		}
		if !ws.limiter.Allow(key) {
			ws.Logger.WithField("caller", key).Warn("Rate limit exceeded")
			auth.WriteErrorResponse(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerOrFail returns the authenticated caller or writes a 401.
func (ws *WebServer) callerOrFail(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, err := auth.CallerFromContext(r.Context())
	if err != nil {
		auth.WriteErrorResponse(w, "Caller identity is required", http.StatusUnauthorized)
		return "", false
	}
	return caller, true
}

// writeRegistryError maps registry errors to HTTP statuses.
func (ws *WebServer) writeRegistryError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, registry.ErrUnauthorized):
		auth.WriteErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, registry.ErrNotFound):
		auth.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrInvalidIdentity):
		auth.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		ws.Logger.WithError(err).Error(message)
		auth.WriteErrorResponse(w, message, http.StatusInternalServerError)
	}
}

// pathVar returns the unescaped route variable name.
func pathVar(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value, err := url.PathUnescape(mux.Vars(r)[name])
	if err != nil {
		auth.WriteErrorResponse(w, "Invalid "+name+" in path", http.StatusBadRequest)
		return "", false
	}
	return value, true
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleAddReporter handles the PUT /api/reporters endpoint.
func (ws *WebServer) handleAddReporter(w http.ResponseWriter, r *http.Request) {
	caller, ok := ws.callerOrFail(w, r)
	if !ok {
		return
	}

	var req models.ReporterRequest
	if err := decodeJSON(r, &req); err != nil {
		ws.Logger.WithError(err).Warn("Invalid JSON payload")
		auth.WriteErrorResponse(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := ws.Registry.AddTrustedReporter(r.Context(), caller, req.Reporter); err != nil {
		ws.writeRegistryError(w, err, "Failed to add reporter")
		return
	}

	auth.WriteSuccessResponse(w, "Reporter added successfully", models.ReporterStatusResponse{
		Reporter: req.Reporter,
		Trusted:  true,
	})
}

// handleGetReporter handles the GET /api/reporters/{id} endpoint.
func (ws *WebServer) handleGetReporter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathVar(w, r, "id")
	if !ok {
		return
	}

	trusted, err := ws.Registry.IsTrustedReporter(r.Context(), id)
	if err != nil {
		ws.writeRegistryError(w, err, "Failed to check reporter")
		return
	}

	auth.WriteSuccessResponse(w, "Reporter status retrieved successfully", models.ReporterStatusResponse{
		Reporter: id,
		Trusted:  trusted,
	})
}

// handleListReporters handles the GET /api/reporters endpoint.
func (ws *WebServer) handleListReporters(w http.ResponseWriter, r *http.Request) {
	reporters, err := ws.Registry.ListTrustedReporters(r.Context())
	if err != nil {
		ws.writeRegistryError(w, err, "Failed to retrieve reporters")
		return
	}

	auth.WriteSuccessResponse(w, "Reporters retrieved successfully", models.ReportersResponse{
		Reporters: reporters,
		Total:     len(reporters),
	})
}

// handleReportDetection handles the PUT /api/detections endpoint.
func (ws *WebServer) handleReportDetection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := ws.callerOrFail(w, r)
	if !ok {
		return
	}

	var req models.DetectionRequest
	if err := decodeJSON(r, &req); err != nil {
		ws.Logger.WithError(err).Warn("Invalid JSON payload")
		auth.WriteErrorResponse(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := ws.Registry.ReportDetection(ctx, caller, req.FileHash, req.Timestamp); err != nil {
		ws.writeRegistryError(w, err, "Failed to report detection")
		return
	}

	ws.writeDetection(w, r, req.FileHash, "Detection reported successfully")
}

// handleConfirmDetection handles the POST /api/detections/{hash}/confirm endpoint.
func (ws *WebServer) handleConfirmDetection(w http.ResponseWriter, r *http.Request) {
	caller, ok := ws.callerOrFail(w, r)
	if !ok {
		return
	}
	hash, ok := pathVar(w, r, "hash")
	if !ok {
		return
	}

	if err := ws.Registry.ConfirmDetection(r.Context(), caller, hash); err != nil {
		ws.writeRegistryError(w, err, "Failed to confirm detection")
		return
	}

	ws.writeDetection(w, r, hash, "Detection confirmed successfully")
}

// handleGetDetection handles the GET /api/detections/{hash} endpoint.
func (ws *WebServer) handleGetDetection(w http.ResponseWriter, r *http.Request) {
	hash, ok := pathVar(w, r, "hash")
	if !ok {
		return
	}
	ws.writeDetection(w, r, hash, "Detection retrieved successfully")
}

func (ws *WebServer) writeDetection(w http.ResponseWriter, r *http.Request, hash, message string) {
	d, found, err := ws.Registry.LookupDetection(r.Context(), hash)
	if err != nil {
		ws.writeRegistryError(w, err, "Failed to retrieve detection")
		return
	}
	if !found {
		auth.WriteErrorResponse(w, "Detection not found", http.StatusNotFound)
		return
	}

	auth.WriteSuccessResponse(w, message, models.DetectionDetailResponse{Detection: d})
}

// handleGetStats handles the GET /api/stats endpoint.
func (ws *WebServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ws.Registry.Stats(r.Context())
	if err != nil {
		ws.writeRegistryError(w, err, "Failed to retrieve statistics")
		return
	}

	auth.WriteSuccessResponse(w, "Statistics retrieved successfully", models.StatsResponse{
		Owner:               stats.Owner,
		TotalDetections:     stats.TotalDetections,
		ConfirmedDetections: stats.ConfirmedDetections,
		TrustedReporters:    stats.TrustedReporters,
	})
}

// handleWhoAmI handles the GET /api/whoami endpoint.
func (ws *WebServer) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	caller, ok := ws.callerOrFail(w, r)
	if !ok {
		return
	}

	trusted, err := ws.Registry.IsTrustedReporter(r.Context(), caller)
	if err != nil {
		ws.writeRegistryError(w, err, "Failed to check caller")
		return
	}

	auth.WriteSuccessResponse(w, "Caller retrieved successfully", models.WhoAmIResponse{
		Caller:  caller,
		IsOwner: caller == ws.Registry.Owner(),
		Trusted: trusted,
	})
}
