package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/safar/greenvillage/internal/auth"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/orders"
	"github.com/safar/greenvillage/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (*models.Order, bool, error)
	UpdateStatus(ctx context.Context, orderID int64, status string) (*models.Order, error)
	Get(ctx context.Context, orderID int64, requester orders.Requester) (*models.Order, error)
	ListOwn(ctx context.Context, ownerID int64, cursor string, limit int) (*orders.Page, error)
	ListAll(ctx context.Context, requester orders.Requester, cursor string, limit int) (*orders.Page, error)
}

type Catalog interface {
	ListProducts(ctx context.Context, filter store.ProductFilter, page, pageSize int) (*store.OffsetPage[models.Product], error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
	CreateProduct(ctx context.Context, in store.ProductInput) (*models.Product, error)
	UpdateProduct(ctx context.Context, id int64, version int, in store.ProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) (*models.Product, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	CreateCategory(ctx context.Context, name, slug string) (*models.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
}

type ImageStore interface {
	Save(ctx context.Context, r io.Reader) (models.Image, error)
	Delete(ctx context.Context, publicID string) error
}

type Deps struct {
	Log     *slog.Logger
	Env     string
	Orders  OrderService
	Catalog Catalog
	Images  ImageStore
	Auth    auth.Verifier
	// RateLimit wraps every /api route when set.
	RateLimit func(http.Handler) http.Handler
	// UploadDir is served under /uploads/ when set.
	UploadDir string
}

type Handler struct {
	log      *slog.Logger
	env      string
	orders   OrderService
	catalog  Catalog
	images   ImageStore
	auth     auth.Verifier
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewRouter(d Deps) http.Handler {
	h := &Handler{
		log:      d.Log,
		env:      d.Env,
		orders:   d.Orders,
		catalog:  d.Catalog,
		images:   d.Images,
		auth:     d.Auth,
		validate: newValidator(),
		tracer:   otel.Tracer("greenvillage-http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(traceContext)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	if d.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.UploadDir))))
	}

	r.Route("/api", func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}
		r.Use(h.authenticate)

		r.Get("/health", h.health)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.placeOrder)
			r.With(requireUser).Get("/me", h.listMyOrders)
			r.With(requireAdmin).Get("/", h.listOrders)
			r.With(requireUser).Get("/{id}", h.getOrder)
			r.With(requireAdmin).Patch("/{id}/status", h.updateOrderStatus)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Get("/{slug}", h.getProduct)
			r.With(requireAdmin).Post("/", h.createProduct)
			r.With(requireAdmin).Put("/{id}", h.updateProduct)
			r.With(requireAdmin).Delete("/{id}", h.deleteProduct)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.listCategories)
			r.With(requireAdmin).Post("/", h.createCategory)
			r.With(requireAdmin).Delete("/{id}", h.deleteCategory)
		})

		r.With(requireAdmin).Post("/uploads", h.uploadImages)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "env": h.env})
}
