package httpapi

import (
	"net/http"
	"strings"

	"github.com/safar/greenvillage/internal/models"
)

const (
	maxUploadFiles = 5
	maxUploadBytes = 5 << 20
)

func (h *Handler) uploadImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadFiles*maxUploadBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no images uploaded")
		return
	}
	if len(files) > maxUploadFiles {
		respondError(w, http.StatusBadRequest, "at most 5 images per upload")
		return
	}

	for _, fh := range files {
		if fh.Size > maxUploadBytes {
			respondError(w, http.StatusBadRequest, fh.Filename+" is larger than 5MB")
			return
		}
		if ct := fh.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
			respondError(w, http.StatusBadRequest, fh.Filename+" is not an image")
			return
		}
	}

	uploaded := make([]models.Image, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.removeImages(r.Context(), uploaded)
			h.writeError(w, r, err)
			return
		}
		img, err := h.images.Save(r.Context(), f)
		f.Close()
		if err != nil {
			h.removeImages(r.Context(), uploaded)
			h.writeError(w, r, err)
			return
		}
		uploaded = append(uploaded, img)
	}

	h.log.Info("images uploaded", "count", len(uploaded))
	respondJSON(w, http.StatusCreated, uploaded)
}
