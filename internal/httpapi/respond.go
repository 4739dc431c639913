package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/safar/greenvillage/internal/blob"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/orders"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("encode json response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// writeError maps domain errors to responses. Anything unrecognised is logged
// and answered with a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rej        *orders.RejectionError
		transition *orders.TransitionError
		invalid    validator.ValidationErrors
	)

	switch {
	case errors.As(err, &rej):
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": rej.Error(), "code": string(rej.Code)})
	case errors.As(err, &transition):
		respondError(w, http.StatusBadRequest, transition.Error())
	case errors.As(err, &invalid):
		respondError(w, http.StatusBadRequest, validationMessage(invalid))
	case errors.Is(err, orders.ErrForbidden):
		respondError(w, http.StatusForbidden, "not authorized to view this order")
	case errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrInvalidCursor),
		errors.Is(err, blob.ErrUnsupportedType):
		respondError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrCategoryNotFound),
		errors.Is(err, database.ErrUserNotFound):
		respondError(w, http.StatusNotFound, rootMessage(err))
	case errors.Is(err, database.ErrOptimisticLockFailed):
		respondError(w, http.StatusConflict, "product was modified by someone else, reload and retry")
	case errors.Is(err, database.ErrSlugTaken),
		errors.Is(err, database.ErrCategoryExists):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// rootMessage drops wrapping context such as "decode cursor: ".
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(errs validator.ValidationErrors) string {
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, resource string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid "+resource+" id")
		return 0, false
	}
	return id, true
}
