package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cyclecal/internal/auth"
	"cyclecal/internal/db"
	"cyclecal/internal/event"
	"cyclecal/internal/metrics"
	"cyclecal/internal/model"
	"cyclecal/internal/rider"
	"cyclecal/internal/upstream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "cyclecal"

const proxyPath = "/api/proxy"

// Events is the calendar service the handlers call.
type Events interface {
	EventsByType(ctx context.Context, d model.Discipline) ([]model.Event, error)
	Event(ctx context.Context, d model.Discipline, id string) (model.Event, error)
	RegisteredRiders(ctx context.Context, d model.Discipline, after time.Time) (upstream.Registrations, error)
	RiderLists(ctx context.Context, d model.Discipline, id string, after time.Time) (model.Event, rider.Lists, error)
	UpdateEvent(ctx context.Context, patch model.UpdateEventData) (model.Event, error)
	MoveRider(ctx context.Context, req event.MoveRequest) (model.Event, error)
	RemoveRider(ctx context.Context, req event.RemoveRequest) (model.Event, error)
	SubmitEvent(ctx context.Context, req event.SubmitRequest) (model.Event, error)
	SubmitSpecialEvent(ctx context.Context, req event.SpecialEventRequest) (model.Event, error)
	DeleteEvent(ctx context.Context, d model.Discipline, id string) error
	ClearCaches(ctx context.Context)
}

type Opts struct {
	Events Events
	Users  db.UserRepository
	Tokens *auth.TokenAuth
	Proxy  http.Handler
	Logger *zap.Logger

	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Now            func() time.Time
}

type Server struct {
	events Events
	users  db.UserRepository
	tokens *auth.TokenAuth
	authn  *auth.Authenticator
	proxy  http.Handler
	logger *zap.Logger
	now    func() time.Time
	opts   Opts

	router     chi.Router
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
}

func NewServer(opts Opts) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 100
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	s := &Server{
		events: opts.Events,
		users:  opts.Users,
		tokens: opts.Tokens,
		authn:  auth.NewAuthenticator(opts.Tokens, opts.Users, opts.Logger),
		proxy:  opts.Proxy,
		logger: opts.Logger,
		now:    opts.Now,
		opts:   opts,
	}

	s.grpcServer = grpc.NewServer(grpc.MaxConcurrentStreams(100))
	s.health = health.NewServer()
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(s.logger))
	r.Use(middleware.Recoverer)
	// The proxy enforces its own origin list and answers its own preflights.
	r.Use(SkipPaths(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}), proxyPath))
	r.Use(RateLimit(s.opts.RateLimit, s.opts.RateBurst))
	r.Use(TimeoutMiddleware(s.opts.RequestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/login", s.handleLogin)
	r.Post("/signup", s.handleSignup)

	r.Route("/api", func(r chi.Router) {
		r.Get("/getEventsByType", s.handleGetEventsByType)
		r.Get("/events/{type}/{id}", s.handleGetEvent)
		r.Get("/events/{type}/{id}/riders", s.handleGetRiderLists)
		r.Get("/getRegisteredRiders", s.handleGetRegisteredRiders)
		r.Patch("/updateEvent", s.handleUpdateEvent)
		r.Post("/moveRider", s.handleMoveRider)
		r.Post("/removeRider", s.handleRemoveRider)
		r.Post("/submitEvent", s.handleSubmitEvent)
		r.Post("/submitSpecialEvent", s.handleSubmitSpecialEvent)
		if s.proxy != nil {
			r.Handle("/proxy", s.proxy)
		}
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authn.Middleware)
		r.Use(auth.RequireAdmin)
		r.Delete("/events/{type}/{id}", s.handleDeleteEvent)
		r.Post("/cache/clear", s.handleClearCache)
	})

	return r
}

// Handler multiplexes gRPC and the HTTP API over one h2c listener.
func (s *Server) Handler() http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.ProtoMajor == 2 && req.Header.Get("Content-Type") == "application/grpc" {
			s.grpcServer.ServeHTTP(w, req)
			return
		}
		s.router.ServeHTTP(w, req)
	})
	return h2c.NewHandler(handler, &http2.Server{})
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.logger.Info("starting server", zap.String("addr", listener.Addr().String()))

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the service as not serving and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	defer s.grpcServer.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
