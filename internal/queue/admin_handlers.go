package queue

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/common"
)

// Inspector is the subset of asynq.Inspector used by AdminHandler.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	RunAllArchivedTasks(queue string) (int, error)
}

var _ Inspector = (*asynq.Inspector)(nil)

// AdminHandler exposes archived (dead-letter) task management and queue stats.
type AdminHandler struct {
	Inspector    Inspector
	DefaultQueue string
	PageSize     int
	Logger       zerolog.Logger
}

type dlqItem struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	FailedAt  *time.Time      `json:"failedAt,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type replayRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

// ListDLQ returns archived tasks of a queue with pagination.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	queue := h.queueName(r)
	page, size := parsePagination(r, h.pageSize())
	tasks, err := h.Inspector.ListArchivedTasks(queue, asynq.Page(page), asynq.PageSize(size))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	items := make([]dlqItem, 0, len(tasks))
	for _, task := range tasks {
		item := dlqItem{
			ID:        task.ID,
			Kind:      task.Type,
			Attempts:  task.Retried,
			LastError: task.LastErr,
		}
		if !task.LastFailedAt.IsZero() {
			failed := task.LastFailedAt
			item.FailedAt = &failed
		}
		if json.Valid(task.Payload) {
			item.Payload = json.RawMessage(task.Payload)
		}
		items = append(items, item)
	}
	h.refreshMetrics(queue)
	common.JSON(w, http.StatusOK, map[string]any{
		"queue": queue,
		"page":  page,
		"data":  items,
	})
}

// ReplayDLQ moves archived tasks back to pending, by id or all at once.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	queue := h.queueName(r)
	ids := uniqueStrings(req.IDs)
	if len(ids) == 0 && !req.All {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or all required", nil)
		return
	}
	resp := map[string]any{"queue": queue}
	if req.All && len(ids) == 0 {
		n, err := h.Inspector.RunAllArchivedTasks(queue)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
			return
		}
		resp["replayed"] = n
	} else {
		replayed := make([]string, 0, len(ids))
		failed := make(map[string]string)
		for _, id := range ids {
			if err := h.Inspector.RunTask(queue, id); err != nil {
				failed[id] = err.Error()
				continue
			}
			replayed = append(replayed, id)
		}
		resp["replayed"] = replayed
		if len(failed) > 0 {
			resp["failed"] = failed
		}
	}
	h.Logger.Info().Str("queue", queue).Interface("replayed", resp["replayed"]).Msg("archived tasks replayed")
	h.refreshMetrics(queue)
	common.JSON(w, http.StatusOK, resp)
}

// Stats reports task counts and latency for a queue.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Inspector == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue inspector unavailable", nil)
		return
	}
	queue := h.queueName(r)
	info, err := h.Inspector.GetQueueInfo(queue)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "QUEUE_NOT_FOUND", err.Error(), nil)
		return
	}
	setGauges(info)
	common.JSON(w, http.StatusOK, map[string]any{
		"queue":           info.Queue,
		"pending":         info.Pending,
		"active":          info.Active,
		"scheduled":       info.Scheduled,
		"retry":           info.Retry,
		"dlq":             info.Archived,
		"processed_today": info.Processed,
		"failed_today":    info.Failed,
		"oldest_lag_ms":   info.Latency.Milliseconds(),
		"paused":          info.Paused,
	})
}

func (h *AdminHandler) refreshMetrics(queue string) {
	info, err := h.Inspector.GetQueueInfo(queue)
	if err != nil {
		return
	}
	setGauges(info)
}

func setGauges(info *asynq.QueueInfo) {
	if info == nil {
		return
	}
	if QueueDepth != nil {
		QueueDepth.WithLabelValues(queueLabel(info.Queue)).Set(float64(info.Pending + info.Scheduled))
	}
	if QueueDLQSize != nil {
		QueueDLQSize.WithLabelValues(queueLabel(info.Queue)).Set(float64(info.Archived))
	}
}

func (h *AdminHandler) queueName(r *http.Request) string {
	if q := strings.TrimSpace(r.URL.Query().Get("queue")); q != "" {
		return q
	}
	if h.DefaultQueue != "" {
		return h.DefaultQueue
	}
	return "default"
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func parsePagination(r *http.Request, defaultSize int) (page, size int) {
	page = 1
	size = defaultSize
	if size <= 0 {
		size = 50
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			size = parsed
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("page")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	}
	return
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
