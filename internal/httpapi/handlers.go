// Package httpapi exposes the FAMLocator services over HTTP (JSON, SSE and
// WebSocket) and gRPC health.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"famlocator.app/internal/account"
	"famlocator.app/internal/auth"
	"famlocator.app/internal/chat"
	"famlocator.app/internal/members"
	"famlocator.app/internal/obs"
	"famlocator.app/internal/settings"
	"famlocator.app/internal/stream"
)

const serviceName = "famlocator-api"

// Pinger is anything whose availability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the store and, when configured, Redis.
type ReadyProbe struct {
	Store Pinger
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store != nil {
		if err := rp.Store.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Subscriber opens live chat feeds.
type Subscriber interface {
	Subscribe(ctx context.Context, chatID string) <-chan stream.Event
}

// Options wires the services behind the API.
type Options struct {
	Accounts *account.Service
	Members  *members.Service
	Chats    *chat.Service
	Settings *settings.Service
	Sessions *auth.Sessions
	Feed     Subscriber
	Ready    readinessChecker

	Version      string
	MapsAPIKey   string
	CookieSecure bool
	SetupTTL     time.Duration
	CORSOrigins  []string

	// AuthRateBurst and AuthRatePerSec limit the unauthenticated auth endpoints per client IP.
	AuthRateBurst  int
	AuthRatePerSec float64
	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is the client.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	accounts *account.Service
	members  *members.Service
	chats    *chat.Service
	settings *settings.Service
	sessions *auth.Sessions
	feed     Subscriber
	ready    readinessChecker

	version      string
	mapsAPIKey   string
	cookieSecure bool
	setupTTL     time.Duration
	origins      []string
	rateBurst    int
	ratePerSec   float64
	clientIPs    ClientIPs
	keepAlive    time.Duration

	router chi.Router
}

func New(opts Options) *API {
	a := &API{
		accounts:     opts.Accounts,
		members:      opts.Members,
		chats:        opts.Chats,
		settings:     opts.Settings,
		sessions:     opts.Sessions,
		feed:         opts.Feed,
		ready:        opts.Ready,
		version:      opts.Version,
		mapsAPIKey:   opts.MapsAPIKey,
		cookieSecure: opts.CookieSecure,
		setupTTL:     opts.SetupTTL,
		origins:      opts.CORSOrigins,
		rateBurst:    opts.AuthRateBurst,
		ratePerSec:   opts.AuthRatePerSec,
		clientIPs:    NewClientIPs(opts.TrustedProxies),
		keepAlive:    25 * time.Second,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.setupTTL <= 0 {
		a.setupTTL = 15 * time.Minute
	}
	if len(a.origins) == 0 {
		a.origins = []string{"*"}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 1
	}
	a.router = a.routes()
	return a
}

// Handler returns the root handler with all middleware applied.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, Recover, Logging, SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: !a.anyOrigin(),
		MaxAge:           300,
	}))
	r.Use(obs.Instrument)
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return RateLimit(next, a.rateBurst, a.ratePerSec, a.clientIPs)
			})
			r.Post("/auth/register", a.handleRegister)
			r.Post("/auth/login", a.handleLogin)
			r.Post("/auth/verify", a.handleVerify)
			r.Post("/auth/resend", a.handleResend)
		})
		r.Get("/settings", a.handleGetSettings)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Post("/auth/logout", a.handleLogout)
			r.With(a.requirePermission(auth.PermAdminSetup)).Post("/auth/setup", a.handleSetup)

			r.Group(func(r chi.Router) {
				r.Use(a.requirePermission(auth.PermDirectoryRead))
				r.Get("/me", a.handleMe)
				r.Get("/bootstrap", a.handleBootstrap)
				r.Get("/members", a.handleListMembers)
			})
			r.Group(func(r chi.Router) {
				r.Use(a.requirePermission(auth.PermProfileWrite))
				r.Patch("/members/me", a.handleUpdateProfile)
				r.Put("/members/me/location", a.handleUpdateLocation)
			})

			r.Route("/chats", func(r chi.Router) {
				r.Use(a.requirePermission(auth.PermChatUse))
				r.Get("/", a.handleListChats)
				r.Post("/", a.handleCreateChat)
				r.Delete("/{id}", a.handleDeleteChat)
				r.Get("/{id}/messages", a.handleMessages)
				r.Post("/{id}/messages", a.handleSendMessage)
				r.Delete("/{id}/messages", a.handleClearChat)
				r.Get("/{id}/events", a.handleChatEvents)
				r.Get("/{id}/ws", a.handleChatSocket)
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(a.requirePermission(auth.PermMembersApprove)).Post("/users/{id}/authorize", a.handleAuthorize)
				r.With(a.requirePermission(auth.PermMembersSuspend)).Post("/users/{id}/suspend", a.handleSuspend)
				r.With(a.requirePermission(auth.PermMembersSuspend)).Post("/users/{id}/reactivate", a.handleReactivate)
				r.With(a.requirePermission(auth.PermChatsPurge)).Delete("/messages", a.handleClearAllChats)
				r.With(a.requirePermission(auth.PermAuditRead)).Get("/audit", a.handleAuditTrail)
			})
			r.With(a.requirePermission(auth.PermSettingsWrite)).Put("/settings", a.handleSaveSettings)
		})
	})
	return r
}

func (a *API) anyOrigin() bool {
	for _, o := range a.origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// --- health ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		status := "not_ready"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": status,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, http.StatusOK, "", map[string]any{
		"name":       serviceName,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    a.version,
		"mapsApiKey": a.mapsAPIKey,
	})
}
