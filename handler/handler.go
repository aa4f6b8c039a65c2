// Package handler exposes the digest workflow over API Gateway proxy events.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"digest-agent/internal/domain"
	"digest-agent/internal/integrations/schedule"
	"digest-agent/internal/usecase"
)

const scheduleLogsLimit = 20

// workflow is the slice of the workflow service the handler needs.
type workflow interface {
	GenerateDigest(ctx context.Context) domain.Report
	GenerateImage(ctx context.Context) domain.Report
	Deliver(ctx context.Context, channel string) (domain.Report, error)
	SetPost(post string)
	History() []domain.HistoryEntry
	Snapshot() usecase.StateView
	DefaultChannel(ctx context.Context) string
	SetDefaultChannel(ctx context.Context, channel string)
	ScheduleID(ctx context.Context) (string, error)
}

// scheduler is the slice of the schedule client the handler needs.
type scheduler interface {
	Get(ctx context.Context, id string) (schedule.Schedule, error)
	Logs(ctx context.Context, id string, limit int) ([]schedule.ExecutionLog, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	TriggerNow(ctx context.Context, id string) error
}

type Handler struct {
	svc   workflow
	sched scheduler
}

func NewHandler(svc workflow, sched scheduler) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: workflow service must not be nil")
	}
	if sched == nil {
		return nil, errors.New("handler: schedule client must not be nil")
	}
	return &Handler{svc: svc, sched: sched}, nil
}

type deliverRequest struct {
	Channel string `json:"channel"`
}

type postRequest struct {
	Post string `json:"post"`
}

type channelBody struct {
	Channel string `json:"channel"`
}

type stageResponse struct {
	Report domain.Report     `json:"report"`
	State  usecase.StateView `json:"state"`
}

type historyResponse struct {
	History []domain.HistoryEntry `json:"history"`
}

type scheduleResponse struct {
	Schedule  schedule.Schedule `json:"schedule"`
	CronHuman string            `json:"cron_human"`
}

type logsResponse struct {
	Executions []schedule.ExecutionLog `json:"executions"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes one API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := slog.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)

	resp := h.route(ctx, log, event)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["Content-Type"] = "application/json"
	resp.Headers["X-Correlation-Id"] = corrID
	return resp, nil
}

func (h *Handler) route(ctx context.Context, log *slog.Logger, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	method := event.HTTPMethod
	path := strings.TrimRight(event.Path, "/")
	if path == "" {
		path = "/"
	}

	switch {
	case method == http.MethodPost && path == "/digest":
		report := h.svc.GenerateDigest(ctx)
		return jsonResponse(http.StatusOK, stageResponse{Report: report, State: h.svc.Snapshot()})

	case method == http.MethodPost && path == "/image":
		report := h.svc.GenerateImage(ctx)
		return jsonResponse(http.StatusOK, stageResponse{Report: report, State: h.svc.Snapshot()})

	case method == http.MethodPost && path == "/deliver":
		return h.deliver(ctx, log, event.Body)

	case method == http.MethodPut && path == "/post":
		var req postRequest
		if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
			return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, "malformed_json")
		}
		h.svc.SetPost(req.Post)
		return jsonResponse(http.StatusOK, h.svc.Snapshot())

	case method == http.MethodGet && path == "/state":
		return jsonResponse(http.StatusOK, h.svc.Snapshot())

	case method == http.MethodGet && path == "/history":
		return jsonResponse(http.StatusOK, historyResponse{History: h.svc.History()})

	case method == http.MethodGet && path == "/settings/channel":
		return jsonResponse(http.StatusOK, channelBody{Channel: h.svc.DefaultChannel(ctx)})

	case method == http.MethodPut && path == "/settings/channel":
		var req channelBody
		if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
			return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, "malformed_json")
		}
		h.svc.SetDefaultChannel(ctx, req.Channel)
		return jsonResponse(http.StatusOK, channelBody{Channel: req.Channel})

	case strings.HasPrefix(path, "/schedule"):
		return h.scheduleRoute(ctx, log, method, path)
	}

	return errorJSON(http.StatusNotFound, "NOT_FOUND", "unknown_route")
}

func (h *Handler) deliver(ctx context.Context, log *slog.Logger, body string) events.APIGatewayProxyResponse {
	var req deliverRequest
	if body != "" {
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, "malformed_json")
		}
	}
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		channel = h.svc.DefaultChannel(ctx)
	}

	report, err := h.svc.Deliver(ctx, channel)
	if err != nil {
		return mapUseCaseError(log, err)
	}
	return jsonResponse(http.StatusOK, stageResponse{Report: report, State: h.svc.Snapshot()})
}

func (h *Handler) scheduleRoute(ctx context.Context, log *slog.Logger, method, path string) events.APIGatewayProxyResponse {
	id, err := h.svc.ScheduleID(ctx)
	if err != nil {
		return mapUseCaseError(log, err)
	}

	switch {
	case method == http.MethodGet && path == "/schedule":
		sched, err := h.sched.Get(ctx, id)
		if err != nil {
			return scheduleError(log, err)
		}
		return jsonResponse(http.StatusOK, scheduleResponse{
			Schedule:  sched,
			CronHuman: schedule.CronToHuman(sched.CronExpression),
		})

	case method == http.MethodGet && path == "/schedule/logs":
		logs, err := h.sched.Logs(ctx, id, scheduleLogsLimit)
		if err != nil {
			return scheduleError(log, err)
		}
		return jsonResponse(http.StatusOK, logsResponse{Executions: logs})

	case method == http.MethodPost && path == "/schedule/pause":
		if err := h.sched.Pause(ctx, id); err != nil {
			return scheduleError(log, err)
		}
		return jsonResponse(http.StatusOK, statusResponse{Status: "paused"})

	case method == http.MethodPost && path == "/schedule/resume":
		if err := h.sched.Resume(ctx, id); err != nil {
			return scheduleError(log, err)
		}
		return jsonResponse(http.StatusOK, statusResponse{Status: "resumed"})

	case method == http.MethodPost && path == "/schedule/trigger":
		if err := h.sched.TriggerNow(ctx, id); err != nil {
			return scheduleError(log, err)
		}
		return jsonResponse(http.StatusOK, statusResponse{Status: "triggered"})
	}

	return errorJSON(http.StatusNotFound, "NOT_FOUND", "unknown_route")
}

func mapUseCaseError(log *slog.Logger, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error("unexpected error", "err", err)
		return errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, "")
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		log.Warn("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return errorJSON(status, ucErr.Code, ucErr.Reason)
}

func scheduleError(log *slog.Logger, err error) events.APIGatewayProxyResponse {
	log.Error("schedule service call failed", "err", err)
	return errorJSON(http.StatusBadGateway, usecase.ErrorUpstream, "schedule_service_error")
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		slog.Error("failed to marshal response body", "err", err)
		return errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, "")
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(buf)}
}

func errorJSON(status int, code usecase.ErrorCode, reason string) events.APIGatewayProxyResponse {
	buf, _ := json.Marshal(errorResponse{Error: string(code), Reason: reason})
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(buf)}
}

// correlationID returns the inbound correlation id header, case-insensitively,
// or mints a fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
