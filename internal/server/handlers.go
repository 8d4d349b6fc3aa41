package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/collectica/zipserve/internal/admission"
	"github.com/collectica/zipserve/internal/archive"
	"github.com/collectica/zipserve/internal/catalog"
	"github.com/collectica/zipserve/internal/logging"
	"github.com/collectica/zipserve/internal/progress"
)

// errorBody is the JSON error payload. RetryAfter is in seconds.
type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

func writeRejection(w http.ResponseWriter, rej *admission.Rejection) {
	status := http.StatusTooManyRequests
	switch rej.Reason {
	case admission.ReasonDownloadTooLarge, admission.ReasonTooManyFiles:
		status = http.StatusRequestEntityTooLarge
	}
	body := errorBody{Error: string(rej.Reason)}
	if rej.RetryAfter > 0 {
		body.RetryAfter = int64(rej.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfter, 10))
	}
	writeJSON(w, status, body)
}

// parseMediaIDs parses a comma-separated id list, dropping duplicates
// while preserving first-seen order.
func parseMediaIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	seen := make(map[int64]bool)
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad media id %q", part)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// contentDisposition builds the attachment header. The plain filename
// stays ASCII for legacy agents; the RFC 5987 form carries the real
// title.
func contentDisposition(title string, itemID int64) string {
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("item-%d", itemID)
	}
	var b strings.Builder
	for _, r := range title {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return fmt.Sprintf(`attachment; filename="download.zip"; filename*=UTF-8''%s.zip`,
		url.PathEscape(b.String()))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_item_id")
		return
	}
	ids, err := parseMediaIDs(r.PostForm.Get("media_ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_media_ids")
		return
	}

	item, err := s.catalog.Item(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item_not_found")
			return
		}
		s.log.Error("catalog item", "item_id", itemID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "no_media_selected")
		return
	}
	media := item.SelectMedia(ids)
	if len(media) == 0 {
		writeError(w, http.StatusForbidden, "no_accessible_media")
		return
	}

	token := strings.TrimSpace(r.PostForm.Get("progress_token"))
	if token == "" {
		token = uuid.NewString()
	}
	log := logging.DownloadLogger(token, item.ID)

	var total int64
	if v := r.PostForm.Get("estimated_total_bytes"); v != "" {
		total, _ = strconv.ParseInt(v, 10, 64)
	}
	if total <= 0 {
		total, _ = s.estimator.Total(ctx, item, media)
	}

	_, rej, err := s.admission.Admit(ctx, token, total, len(media))
	if err != nil {
		log.Error("admit", "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	if rej != nil {
		writeRejection(w, rej)
		return
	}

	w.Header().Set("X-Progress-Token", token)

	started := false
	onStart := func() error {
		h := w.Header()
		h.Set("Content-Type", "application/zip")
		h.Set("Content-Disposition", contentDisposition(item.Title, item.ID))
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("X-Zip-Trace", fmt.Sprintf("token=%s files=%d estimate=%d", token, len(media), total))
		h.Set("Trailer", "X-Zip-Added, X-Zip-Added-Original, X-Zip-Added-IIIF, X-Zip-Added-Thumbnail")
		started = true
		return nil
	}

	stats, err := s.builder.Build(ctx, w, token, item, media, onStart)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrNoEntries):
			writeError(w, http.StatusForbidden, "no_accessible_media")
		case errors.Is(err, archive.ErrCanceled):
			if !started {
				writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
			}
			// Mid-stream cancel just truncates the body.
		default:
			log.Error("build", "error", err)
			if !started {
				writeError(w, http.StatusInternalServerError, "build_failed")
			}
		}
		return
	}

	h := w.Header()
	h.Set("X-Zip-Added", strconv.Itoa(stats.Added))
	h.Set("X-Zip-Added-Original", strconv.Itoa(stats.Original))
	h.Set("X-Zip-Added-IIIF", strconv.Itoa(stats.Remote))
	h.Set("X-Zip-Added-Thumbnail", strconv.Itoa(stats.Thumbnail))
	log.Info("download complete",
		"added", stats.Added,
		"skipped", stats.Skipped,
		"bytes", stats.Bytes,
	)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	ids, err := parseMediaIDs(r.PostForm.Get("media_ids"))
	if err != nil || len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "bad_media_ids")
		return
	}

	var item *catalog.Item
	if v := r.PostForm.Get("item_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			item, _ = s.catalog.Item(ctx, id)
		}
	}

	var media []catalog.Media
	for _, id := range ids {
		m, err := s.catalog.Media(ctx, id)
		if err != nil {
			continue
		}
		media = append(media, *m)
	}

	total, files := s.estimator.Total(ctx, item, media)
	writeJSON(w, http.StatusOK, map[string]any{
		"total_bytes": total,
		"total_files": files,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}
	rec, err := s.store.Get(r.Context(), token)
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) || errors.Is(err, progress.ErrInvalidToken) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
			return
		}
		s.log.Error("status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	token := strings.TrimSpace(r.PostForm.Get("progress_token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}
	if err := s.store.Cancel(r.Context(), token); err != nil {
		s.log.Error("cancel", "error", err)
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
