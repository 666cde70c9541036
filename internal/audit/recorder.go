package audit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"whatsapp-sync/internal/metrics"
	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/repository"
)

// APICall describes one outbound provider request.
type APICall struct {
	Provider     string
	Method       string
	Endpoint     string
	Success      bool
	Latency      time.Duration
	StatusCode   int
	Attempts     int
	Error        string
	MessageID    string
	GroupID      string
	ContactPhone string
}

// Operation describes an internal operation such as a sync step.
type Operation struct {
	Name     string
	Provider string
	Success  bool
	Duration time.Duration
	Error    string
	GroupID  string
}

// Recorder receives audit events. Implementations must never fail the caller.
type Recorder interface {
	RecordAPICall(ctx context.Context, call APICall)
	RecordOperation(ctx context.Context, op Operation)
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	usernameKey
)

// WithRequestID attaches a request id that audit entries will carry.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithUsername attaches the acting operator.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func username(ctx context.Context) string {
	u, _ := ctx.Value(usernameKey).(string)
	return u
}

type recorder struct {
	repo    repository.AuditLogRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRecorder persists audit entries and mirrors them into prometheus.
func NewRecorder(repo repository.AuditLogRepository, m *metrics.Metrics, logger *zap.Logger) Recorder {
	return &recorder{repo: repo, metrics: m, logger: logger}
}

func (r *recorder) RecordAPICall(ctx context.Context, call APICall) {
	r.metrics.ObserveAPICall(call.Provider, call.Endpoint, call.Success, call.Latency)

	entry := &models.AuditLog{
		Operation:      OperationName(call.Endpoint),
		Provider:       call.Provider,
		Username:       username(ctx),
		Success:        call.Success,
		ResponseTimeMs: call.Latency.Milliseconds(),
		Method:         call.Method,
		Endpoint:       call.Endpoint,
		ErrorMessage:   call.Error,
		MessageID:      call.MessageID,
		GroupID:        call.GroupID,
		ContactPhone:   call.ContactPhone,
		RequestID:      requestID(ctx),
	}
	if call.Attempts > 1 {
		entry.RetryCount = call.Attempts - 1
	}
	if !call.Success && call.StatusCode != 0 {
		entry.ErrorCode = strconv.Itoa(call.StatusCode)
	}
	r.insert(entry)
}

func (r *recorder) RecordOperation(ctx context.Context, op Operation) {
	r.insert(&models.AuditLog{
		Operation:      op.Name,
		Provider:       op.Provider,
		Username:       username(ctx),
		Success:        op.Success,
		ResponseTimeMs: op.Duration.Milliseconds(),
		ErrorMessage:   op.Error,
		GroupID:        op.GroupID,
		RequestID:      requestID(ctx),
	})
}

func (r *recorder) insert(entry *models.AuditLog) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Insert(entry); err != nil {
		r.logger.Warn("Failed to write audit log entry",
			zap.String("operation", entry.Operation),
			zap.String("provider", entry.Provider),
			zap.Error(err),
		)
	}
}

// OperationName derives "api_<last path segment>" from an endpoint.
func OperationName(endpoint string) string {
	path := endpoint
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "api_call"
	}
	return "api_" + strings.ToLower(path)
}

// NopRecorder drops every event.
type NopRecorder struct{}

func (NopRecorder) RecordAPICall(context.Context, APICall)    {}
func (NopRecorder) RecordOperation(context.Context, Operation) {}
