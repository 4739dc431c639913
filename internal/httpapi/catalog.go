package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gosimple/slug"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/store"
	"github.com/shopspring/decimal"
)

var (
	errNegativePrice = errors.New("price must not be negative")
	errEmptySlug     = errors.New("name must contain letters or digits")
)

type productRequest struct {
	Name          string          `json:"name" validate:"required,max=200"`
	Slug          string          `json:"slug" validate:"omitempty,max=200"`
	Description   string          `json:"description" validate:"max=5000"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity *int            `json:"stock_quantity" validate:"required,gte=0"`
	Unit          string          `json:"unit" validate:"omitempty,oneof=kg pcs ltr"`
	Images        []models.Image  `json:"images" validate:"required,min=1"`
	CategoryID    *int64          `json:"category_id"`
	IsActive      *bool           `json:"is_active"`
}

type updateProductRequest struct {
	productRequest
	Version int `json:"version" validate:"required,gte=1"`
}

func (req productRequest) input() (store.ProductInput, error) {
	if req.Price.IsNegative() {
		return store.ProductInput{}, errNegativePrice
	}

	s := slug.Make(req.Slug)
	if req.Slug == "" {
		s = slug.Make(req.Name)
	}
	if s == "" {
		return store.ProductInput{}, errEmptySlug
	}

	unit := req.Unit
	if unit == "" {
		unit = models.UnitKilogram
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	return store.ProductInput{
		Slug:          s,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: *req.StockQuantity,
		Unit:          unit,
		Images:        req.Images,
		CategoryID:    req.CategoryID,
		IsActive:      active,
	}, nil
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := h.catalog.ListProducts(r.Context(), store.ProductFilter{
		Query:        q.Get("q"),
		CategorySlug: q.Get("category"),
	}, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err == nil && !product.IsActive {
		err = database.ErrProductNotFound
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("product created", "product_id", product.ID, "slug", product.Slug)
	respondJSON(w, http.StatusCreated, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "product")
	if !ok {
		return
	}

	var req updateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	current, err := h.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	product, err := h.catalog.UpdateProduct(r.Context(), productID, req.Version, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.removeImages(r.Context(), droppedImages(current.Images, product.Images))
	respondJSON(w, http.StatusOK, product)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "product")
	if !ok {
		return
	}

	product, err := h.catalog.DeleteProduct(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.removeImages(r.Context(), product.Images)
	h.log.Info("product deleted", "product_id", product.ID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

// removeImages is best effort: the catalog change has already committed.
func (h *Handler) removeImages(ctx context.Context, images []models.Image) {
	for _, img := range images {
		if err := h.images.Delete(ctx, img.PublicID); err != nil {
			h.log.Warn("remove product image", "public_id", img.PublicID, "err", err)
		}
	}
}

func droppedImages(before, after []models.Image) []models.Image {
	kept := make(map[string]bool, len(after))
	for _, img := range after {
		kept[img.PublicID] = true
	}

	var dropped []models.Image
	for _, img := range before {
		if !kept[img.PublicID] {
			dropped = append(dropped, img)
		}
	}
	return dropped
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"required,max=60"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	s := slug.Make(req.Name)
	if s == "" {
		respondError(w, http.StatusBadRequest, errEmptySlug.Error())
		return
	}

	category, err := h.catalog.CreateCategory(r.Context(), req.Name, s)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, category)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(w, r, "category")
	if !ok {
		return
	}

	if err := h.catalog.DeleteCategory(r.Context(), categoryID); err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "category deleted"})
}
