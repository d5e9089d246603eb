package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/malwarebo/partnersync/models"
	"github.com/malwarebo/partnersync/stores"
	"github.com/malwarebo/partnersync/utils"
)

type QueueReader interface {
	Get(ctx context.Context, id uint64) (*models.QueueItem, error)
	List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
	Cancel(ctx context.Context, id uint64) error
}

type QueueHandler struct {
	queue QueueReader
}

func CreateQueueHandler(queue QueueReader) *QueueHandler {
	return &QueueHandler{queue: queue}
}

func queueError(err error) error {
	switch {
	case errors.Is(err, stores.ErrItemNotFound):
		return utils.ErrQueueItemNotFound
	case errors.Is(err, stores.ErrInvalidTransition):
		return utils.ErrQueueItemConflict
	}
	return err
}

func itemID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, utils.ErrInvalidRequest.WithDetails("id must be a positive integer")
	}
	return id, nil
}

func (h *QueueHandler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	filter := models.QueueFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		s := models.QueueItemStatus(status)
		filter.Status = &s
	}
	ownerID, err := queryInt(r, "owner_id")
	if err != nil {
		writeError(w, err)
		return
	}
	category, err := queryInt(r, "category")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	filter.OwnerID = ownerID
	filter.Category = category
	filter.Limit = clampLimit(0)
	if limit != nil {
		filter.Limit = clampLimit(*limit)
	}
	if offset != nil && *offset > 0 {
		filter.Offset = *offset
	}

	items, err := h.queue.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *QueueHandler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := h.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, queueError(err))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *QueueHandler) HandleCancelItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.queue.Cancel(r.Context(), id); err != nil {
		writeError(w, queueError(err))
		return
	}
	item, err := h.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, queueError(err))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *QueueHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
