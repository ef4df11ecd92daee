// Package http wires the intake API: login acceptance, verification
// completion, token lifecycle and operational endpoints.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/finthenticate/server/internal/application/login"
	"github.com/finthenticate/server/internal/application/verify"
	"github.com/finthenticate/server/internal/config"
	jwtinfra "github.com/finthenticate/server/internal/infrastructure/jwt"
	redisstore "github.com/finthenticate/server/internal/infrastructure/redis"
	"github.com/finthenticate/server/internal/pkg/password"
	"github.com/finthenticate/server/internal/transport/http/handler"
	appmiddleware "github.com/finthenticate/server/internal/transport/http/middleware"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	RDB         redis.UniversalClient
	Users       *redisstore.UserRepo
	Attempts    *redisstore.AttemptRepo
	Devices     *redisstore.DeviceRepo
	Security    *redisstore.SecurityRepo
	Sessions    *redisstore.SessionRepo
	Tokens      *redisstore.TokenRepo
	Events      *redisstore.EventBus
	Accumulator *login.Accumulator
	Verifier    *password.Verifier
	JWTProvider *jwtinfra.Provider
	Logger      *slog.Logger
}

type storePinger struct {
	rdb redis.UniversalClient
}

func (p storePinger) Ping(ctx context.Context) error {
	return redisstore.Ping(ctx, p.rdb)
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, applied to sensitive public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	loginSvc := login.NewService(deps.Users, deps.Attempts, deps.Verifier, deps.Accumulator, deps.Logger)
	verifySvc := verify.NewService(deps.Users, deps.Devices, deps.Security, deps.Sessions, deps.Tokens, deps.JWTProvider, deps.Events, deps.Logger)

	healthH := handler.NewHealthHandler(storePinger{rdb: deps.RDB})
	loginH := handler.NewLoginHandler(loginSvc)
	verifyH := handler.NewVerifyHandler(verifySvc)

	r.Get("/health", healthH.Check)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check", healthH.Check)

		r.With(sensitiveRL.Limit).Post("/auth/login", loginH.Login)
		r.With(sensitiveRL.Limit).Post("/auth/verify-device", verifyH.VerifyDevice)
		r.With(sensitiveRL.Limit).Post("/auth/verify-2fa", verifyH.VerifyTwoFactor)
		r.Post("/auth/refresh", verifyH.Refresh)
		r.Post("/auth/logout", verifyH.Logout)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
