package main

import (
	"context"
	"net/http"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/auth"
	"github.com/PaulBabatuyi/biodata-api/internal/data"
	"github.com/PaulBabatuyi/biodata-api/internal/metrics"
	"github.com/PaulBabatuyi/biodata-api/internal/middleware"
	"github.com/PaulBabatuyi/biodata-api/internal/payment"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// The handler dependencies are interfaces so tests can run without MongoDB.

type usersStore interface {
	EnsureUser(ctx context.Context, nu data.NewUser) (*data.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	RoleOf(ctx context.Context, email string) (data.Role, error)
	AddFavourite(ctx context.Context, email string, biodataID int) error
	RemoveFavourite(ctx context.Context, email string, biodataID int) error
	SetRole(ctx context.Context, email string, role data.Role) error
	MarkPremiumRequested(ctx context.Context, email string) error
	List(ctx context.Context, pattern string) ([]*data.User, error)
}

type biodatasStore interface {
	Create(ctx context.Context, owner string, b *data.Biodata) (*data.Biodata, error)
	GetByBiodataID(ctx context.Context, id int) (*data.Biodata, error)
	GetByEmail(ctx context.Context, email string) (*data.Biodata, error)
	Similar(ctx context.Context, b *data.Biodata) ([]*data.Biodata, error)
	List(ctx context.Context, filter bson.D, sortBy bson.D, skip, limit int64) ([]*data.Biodata, int64, error)
	ListPremium(ctx context.Context, sortBy bson.D, limit int64) ([]*data.Biodata, error)
	ListByIDs(ctx context.Context, ids []int) ([]*data.Biodata, error)
	Update(ctx context.Context, email string, set bson.D) (*data.Biodata, error)
}

type premiumStore interface {
	Create(ctx context.Context, b *data.Biodata) (*data.PremiumRequest, error)
	ListOutstanding(ctx context.Context) ([]*data.PremiumRequest, error)
}

type premiumApprover interface {
	Approve(ctx context.Context, email string) (*data.PremiumRequest, error)
}

type contactsStore interface {
	Create(ctx context.Context, req *data.ContactRequest) (*data.ContactRequest, error)
	ListForRequester(ctx context.Context, email string) ([]*data.ContactRequest, error)
	ListAll(ctx context.Context) ([]*data.ContactRequest, error)
	Approve(ctx context.Context, id bson.ObjectID) (*data.ContactRequest, error)
	Delete(ctx context.Context, id bson.ObjectID, email string) error
}

type storiesStore interface {
	Create(ctx context.Context, email string, story *data.SuccessStory) (*data.SuccessStory, error)
	List(ctx context.Context, sortBy bson.D) ([]*data.SuccessStory, error)
}

type statsSource interface {
	Public(ctx context.Context) (*data.PublicStats, error)
	Admin(ctx context.Context) (*data.AdminStats, error)
}

type tokenIssuer interface {
	GenerateToken(email string) (string, time.Time, error)
	VerifyToken(token string) (*auth.Claims, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	users    usersStore
	biodatas biodatasStore
	premium  premiumStore
	approver premiumApprover
	contacts contactsStore
	stories  storiesStore
	stats    statsSource
	payments payment.Provider
	tokens   tokenIssuer
	cookies  auth.CookieIssuer
	limiter  *middleware.LimiterStore
	currency string
}

// routerOptions carries the router settings that come from config.
type routerOptions struct {
	AllowedOrigins []string
	Timeout        time.Duration
	// TrustProxy lets forwarding headers replace the socket address.
	TrustProxy bool
}

// routes builds the chi router.
func (s *Server) routes(o routerOptions) http.Handler {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	if o.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(requestLogger)
	r.Use(metrics.Instrument)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(o.Timeout))

	// CORS; credentials are required for the session cookie
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   o.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Public routes
	r.Post("/logout", s.logout)
	r.Post("/users", s.createUser)
	r.Get("/biodatas", s.listBiodatas)
	r.Get("/biodatas/premium", s.listPremiumBiodatas)
	r.Get("/success-stories", s.listStories)
	r.Get("/stats", s.publicStats)

	// token issuing and payment intents are rate limited per client IP
	r.With(s.rateLimited).Post("/jwt", s.issueToken)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s.tokens))

		r.Get("/users/me", s.me)

		r.Get("/biodatas/mine", s.myBiodata)
		r.Get("/biodatas/{biodataId}", s.getBiodata)
		r.Post("/biodatas", s.createBiodata)
		r.Put("/biodatas", s.updateBiodata)
		r.Patch("/biodatas/premium-request", s.requestPremium)

		r.Get("/favourites", s.listFavourites)
		r.Post("/favourites/{biodataId}", s.addFavourite)
		r.Delete("/favourites/{biodataId}", s.removeFavourite)

		r.With(s.rateLimited).Post("/payment-intents", s.createPaymentIntent)
		r.Post("/contact-requests", s.createContactRequest)
		r.Get("/contact-requests/mine", s.myContactRequests)
		r.Delete("/contact-requests/{id}", s.deleteContactRequest)

		r.Post("/success-stories", s.createStory)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.users))

			r.Get("/premium-requests", s.listPremiumRequests)
			r.Patch("/premium-requests/{email}/approve", s.approvePremium)
			r.Get("/contact-requests", s.listContactRequests)
			r.Patch("/contact-requests/{id}/approve", s.approveContactRequest)
			r.Get("/admin/stats", s.adminStats)
			r.Get("/admin/users", s.listUsers)
			r.Patch("/admin/users/{email}/role", s.setRole)
		})
	})

	return r
}

// rateLimited applies the limiter when one is configured.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return middleware.RateLimit(s.limiter)(next)
}

// healthz reports liveness; store reachability is served by the gRPC probe.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
