package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wayfarer/wayfarer/internal/audit"
	"github.com/wayfarer/wayfarer/internal/bootstrap"
	"github.com/wayfarer/wayfarer/internal/config"
	"github.com/wayfarer/wayfarer/internal/credential"
	"github.com/wayfarer/wayfarer/internal/graph"
	"github.com/wayfarer/wayfarer/internal/jwt"
	"github.com/wayfarer/wayfarer/internal/observe"
	"github.com/wayfarer/wayfarer/internal/retry"
	"github.com/wayfarer/wayfarer/internal/server"
	"github.com/wayfarer/wayfarer/internal/user"
)

// services are the collaborators behind the routes. Drive and Lists are nil
// when Graph is disabled.
type services struct {
	Accounts Accounts
	Planner  Planner
	Drive    DriveService
	Lists    ListService
}

func configureServerRoutes(cfg config.Config, svc services) (http.Handler, error) {
	// routes are traced unless registered with Untraced
	mux := observe.NewMux(http.NewServeMux())

	// configure middleware
	auditor := audit.Middleware()

	authorizer, err := jwt.Middleware(cfg.Authorization)
	if err != nil {
		return nil, fmt.Errorf("authorizer configuration failed: %w", err)
	}

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Uploads have their own limit.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)
	uploadLimiter := maxRequestSize(graph.MaxUploadBytes)

	publicRouteMiddleware := alice.New(requestLimiter, auditor)
	authorizedRouteMiddleware := alice.New(requestLimiter, auditor, authorizer)
	uploadRouteMiddleware := alice.New(uploadLimiter, auditor, authorizer)
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("POST /auth/register", publicRouteMiddleware.Then(handlePostRegister(svc.Accounts)))
	mux.Handle("POST /auth/login", publicRouteMiddleware.Then(handlePostLogin(svc.Accounts)))

	mux.Handle("GET /travel/plan/{destination}", authorizedRouteMiddleware.Then(handleGetPlan(svc.Planner)))

	if svc.Drive != nil {
		mux.Handle("GET /sharepoint/sites/{siteName}", authorizedRouteMiddleware.Then(handleGetSite(svc.Drive)))
		mux.Handle("GET /sharepoint/sites/{siteId}/drive", authorizedRouteMiddleware.Then(handleGetDrive(svc.Drive)))
		mux.Handle("GET /sharepoint/sites/{siteId}/drives/{driveId}/files", authorizedRouteMiddleware.Then(handleListFiles(svc.Drive)))
		mux.Handle("GET /sharepoint/sites/{siteId}/drives/{driveId}/folders/{folder...}", authorizedRouteMiddleware.Then(handleFolderChildren(svc.Drive)))
		mux.Handle("PUT /sharepoint/sites/{siteId}/drives/{driveId}/files/{fileName}", uploadRouteMiddleware.Then(handlePutFile(svc.Drive)))
		mux.Handle("DELETE /sharepoint/sites/{siteId}/drives/{driveId}/files/{fileName}", authorizedRouteMiddleware.Then(handleDeleteFile(svc.Drive)))
	}

	if svc.Lists != nil {
		mux.Handle("GET /sharepoint/sites/{siteId}/lists", authorizedRouteMiddleware.Then(handleGetLists(svc.Lists)))
		mux.Handle("POST /sharepoint/sites/{siteId}/lists", authorizedRouteMiddleware.Then(handlePostList(svc.Lists)))
		mux.Handle("DELETE /sharepoint/sites/{siteId}/lists/{listId}", authorizedRouteMiddleware.Then(handleDeleteList(svc.Lists)))
		mux.Handle("GET /sharepoint/sites/{siteId}/lists/{listId}/items", authorizedRouteMiddleware.Then(handleGetListItems(svc.Lists)))
		mux.Handle("POST /sharepoint/sites/{siteId}/lists/{listId}/items", authorizedRouteMiddleware.Then(handlePostListItem(svc.Lists)))
		mux.Handle("DELETE /sharepoint/sites/{siteId}/lists/{listId}/items/{itemId}", authorizedRouteMiddleware.Then(handleDeleteListItem(svc.Lists)))
	}

	// healthchecks are not included in telemetry or authorization
	mux.Untraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return corsMiddleware(cfg.Server.AllowedOrigins)(mux), nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	svc, err := configureServices(ctx, cfg, hooks)
	if err != nil {
		return err
	}

	// telemetry is flushed last so that shutdown of other hooks is recorded
	hooks.AddContext("telemetry", shutdownTelemetry)

	handler, err := configureServerRoutes(cfg, svc)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if err := server.Serve(ctx, srv, nil, shutdownTimeout, hooks); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// configureServices builds the route collaborators, registering anything
// that holds resources with hooks.
func configureServices(ctx context.Context, cfg config.Config, hooks *server.ShutdownHooks) (services, error) {
	store, err := user.Open(ctx, cfg.Users.DSN)
	if err != nil {
		return services{}, fmt.Errorf("user store configuration failed: %w", err)
	}
	hooks.AddCloser("user store", store)

	issuer, err := jwt.NewIssuer(cfg.Authorization)
	if err != nil {
		return services{}, fmt.Errorf("token issuer configuration failed: %w", err)
	}

	accounts := user.NewService(store, issuer)
	if cfg.Users.SeedFile != "" {
		seeds, err := user.LoadSeed(cfg.Users.SeedFile)
		if err != nil {
			return services{}, err
		}
		if err := accounts.Seed(ctx, seeds); err != nil {
			return services{}, err
		}
	}

	creds, credsCloser, err := bootstrap.Credentials(ctx, cfg)
	if err != nil {
		return services{}, err
	}
	if credsCloser != nil {
		hooks.AddCloser("token cache", credsCloser)
	}

	gen, genCloser, err := bootstrap.Generator(ctx, cfg.Model, http.DefaultClient)
	if err != nil {
		return services{}, fmt.Errorf("model configuration failed: %w", err)
	}
	if genCloser != nil {
		hooks.AddCloser("model client", genCloser)
	}

	planner, err := bootstrap.ItineraryClient(cfg, gen, creds)
	if err != nil {
		return services{}, err
	}

	svc := services{
		Accounts: accounts,
		Planner:  planner,
	}

	if cfg.Graph.Enabled {
		drive, lists, err := configureGraph(ctx, cfg, creds)
		if err != nil {
			return services{}, err
		}
		svc.Drive, svc.Lists = drive, lists
	}

	return svc, nil
}

func configureGraph(ctx context.Context, cfg config.Config, creds *credential.Cache) (*graph.Drive, *graph.Lists, error) {
	if creds == nil {
		return nil, nil, fmt.Errorf("graph requires an identity configuration")
	}

	drive := graph.NewDrive(
		cfg.Graph.APIURL,
		cfg.Graph.SiteHostname,
		creds.TokenSource(ctx, cfg.Graph.Scope),
		graph.WithBaseTransport(http.DefaultTransport),
		graph.WithReadPolicy(retry.PolicyFromConfig("graph", cfg.Retry)),
	)

	lists, err := graph.NewLists(creds.Credential(), cfg.Graph.Scope, cfg.Graph.APIURL)
	if err != nil {
		return nil, nil, fmt.Errorf("graph configuration failed: %w", err)
	}

	log.Info().Str("api", cfg.Graph.APIURL).Msg("graph: document store enabled")
	return drive, lists, nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// audit entries are written at a custom level above error
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == audit.Level {
			return audit.LevelName
		}
		return l.String()
	}

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
