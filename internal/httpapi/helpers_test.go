package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/safar/greenvillage/internal/auth"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/httpapi"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/orders"
	"github.com/safar/greenvillage/internal/orders/orderstest"
	"github.com/safar/greenvillage/internal/store"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	handler http.Handler
	repo    *orderstest.Repository
	catalog *fakeCatalog
	images  *fakeImages
	tokens  *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		repo:    orderstest.New(),
		catalog: newFakeCatalog(),
		images:  &fakeImages{},
		tokens:  auth.NewService("test-secret", time.Hour),
	}
	f.handler = httpapi.NewRouter(httpapi.Deps{
		Log:     log,
		Env:     "test",
		Orders:  orders.NewService(f.repo, orders.DefaultPricing(), log),
		Catalog: f.catalog,
		Images:  f.images,
		Auth:    f.tokens,
	})
	return f
}

func (f *fixture) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	token, err := f.tokens.Issue(auth.Identity{UserID: userID, Role: role})
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path string, body any, token string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type fakeCatalog struct {
	mu         sync.Mutex
	products   map[int64]models.Product
	categories map[int64]models.Category
	nextID     int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:   map[int64]models.Product{},
		categories: map[int64]models.Category{},
	}
}

func (c *fakeCatalog) ListProducts(_ context.Context, filter store.ProductFilter, page, pageSize int) (*store.OffsetPage[models.Product], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := []models.Product{}
	for _, p := range c.products {
		if p.IsActive || filter.IncludeInactive {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return &store.OffsetPage[models.Product]{Items: items, Total: int64(len(items)), Page: page, PageSize: pageSize, TotalPages: 1}, nil
}

func (c *fakeCatalog) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return &p, nil
}

func (c *fakeCatalog) GetProductBySlug(_ context.Context, slug string) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, database.ErrProductNotFound
}

func (c *fakeCatalog) CreateProduct(_ context.Context, in store.ProductInput) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if p.Slug == in.Slug {
			return nil, database.ErrSlugTaken
		}
	}
	c.nextID++
	p := productFromInput(c.nextID, 1, in)
	c.products[p.ID] = p
	return &p, nil
}

func (c *fakeCatalog) UpdateProduct(_ context.Context, id int64, version int, in store.ProductInput) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	if current.Version != version {
		return nil, database.ErrOptimisticLockFailed
	}
	p := productFromInput(id, version+1, in)
	c.products[id] = p
	return &p, nil
}

func (c *fakeCatalog) DeleteProduct(_ context.Context, id int64) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	delete(c.products, id)
	return &p, nil
}

func (c *fakeCatalog) ListCategories(context.Context) ([]models.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := []models.Category{}
	for _, cat := range c.categories {
		list = append(list, cat)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return list, nil
}

func (c *fakeCatalog) CreateCategory(_ context.Context, name, slug string) (*models.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cat := range c.categories {
		if cat.Name == name {
			return nil, database.ErrCategoryExists
		}
	}
	c.nextID++
	cat := models.Category{ID: c.nextID, Name: name, Slug: slug}
	c.categories[cat.ID] = cat
	return &cat, nil
}

func (c *fakeCatalog) DeleteCategory(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.categories[id]; !ok {
		return database.ErrCategoryNotFound
	}
	delete(c.categories, id)
	return nil
}

func productFromInput(id int64, version int, in store.ProductInput) models.Product {
	return models.Product{
		ID:            id,
		Slug:          in.Slug,
		Name:          in.Name,
		Description:   in.Description,
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
		Unit:          in.Unit,
		Images:        in.Images,
		CategoryID:    in.CategoryID,
		IsActive:      in.IsActive,
		Version:       version,
	}
}

type fakeImages struct {
	mu      sync.Mutex
	saved   [][]byte
	deleted []string
}

func (s *fakeImages) Save(_ context.Context, r io.Reader) (models.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Image{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, data)
	id := "img-" + string(rune('a'+len(s.saved)-1))
	return models.Image{PublicID: id, URL: "/uploads/" + id}, nil
}

func (s *fakeImages) Delete(_ context.Context, publicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, publicID)
	return nil
}
