package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"vpnkeys-bot/internal/stories/messages"
)

type messageService interface {
	Broadcast(ctx context.Context, req messages.BroadcastRequest) (*messages.BroadcastReport, error)
	ListTasks(ctx context.Context) ([]*messages.Task, error)
	CreateTask(ctx context.Context, req messages.CreateTaskRequest) (*messages.Task, error)
	SetActive(ctx context.Context, id int64, active bool) (*messages.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

type sendMessageRequest struct {
	Text     string  `json:"text" validate:"required,max=4096"`
	AllUsers bool    `json:"all_users"`
	UserIDs  []int64 `json:"user_ids" validate:"required_without=AllUsers,dive,gt=0"`
}

type createTaskRequest struct {
	TaskType       string `json:"task_type" validate:"required"`
	CronExpression string `json:"cron_expression" validate:"required"`
	MessageText    string `json:"message_text" validate:"required,max=4096"`
	IsActive       *bool  `json:"is_active"`
}

type updateTaskRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type sendMessageResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Recipients int    `json:"recipients"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

type taskResponse struct {
	ID             int64      `json:"id"`
	TaskType       string     `json:"task_type"`
	CronExpression string     `json:"cron_expression"`
	MessageText    string     `json:"message_text"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRun        *time.Time `json:"last_run"`
	NextRun        *time.Time `json:"next_run"`
}

// MessagesHandler serves broadcasts and scheduled message tasks.
type MessagesHandler struct {
	messages  messageService
	validator *Validator
	logger    *slog.Logger
}

func NewMessagesHandler(messages messageService, validator *Validator, logger *slog.Logger) *MessagesHandler {
	return &MessagesHandler{messages: messages, validator: validator, logger: logger}
}

func (h *MessagesHandler) Routes(r chi.Router) {
	r.Post("/messages/send", h.send)
	r.Post("/send_message", h.send)
	r.Get("/messages/tasks", h.listTasks)
	r.Post("/messages/tasks", h.createTask)
	r.Patch("/messages/tasks/{task_id}", h.updateTask)
	r.Delete("/messages/tasks/{task_id}", h.deleteTask)
}

func (h *MessagesHandler) send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	report, err := h.messages.Broadcast(r.Context(), messages.BroadcastRequest{
		Text:     req.Text,
		AllUsers: req.AllUsers,
		UserIDs:  req.UserIDs,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		Success:    true,
		Message:    "Messages sent",
		Recipients: report.Recipients,
		Sent:       report.Sent,
		Failed:     report.Failed,
	})
}

func (h *MessagesHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.messages.ListTasks(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(tasks, func(t *messages.Task, _ int) taskResponse { return toTaskResponse(t) }))
}

func (h *MessagesHandler) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.messages.CreateTask(r.Context(), messages.CreateTaskRequest{
		Type:           messages.TaskType(req.TaskType),
		CronExpression: req.CronExpression,
		MessageText:    req.MessageText,
		IsActive:       lo.FromPtrOr(req.IsActive, true),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

func (h *MessagesHandler) updateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "task_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.messages.SetActive(r.Context(), id, *req.IsActive)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *MessagesHandler) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "task_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.messages.DeleteTask(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func toTaskResponse(t *messages.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		TaskType:       string(t.Type),
		CronExpression: t.CronExpression,
		MessageText:    t.MessageText,
		IsActive:       t.IsActive,
		CreatedAt:      t.CreatedAt,
		LastRun:        t.LastRun,
		NextRun:        t.NextRun,
	}
}
