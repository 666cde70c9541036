package audit

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/repository"
)

// Provider health levels.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// PerformanceMetrics summarizes the audit log over a time window.
type PerformanceMetrics struct {
	PeriodHours       int            `json:"period_hours"`
	Provider          string         `json:"provider,omitempty"`
	TotalCalls        int            `json:"total_calls"`
	SuccessfulCalls   int            `json:"successful_calls"`
	FailedCalls       int            `json:"failed_calls"`
	SuccessRate       float64        `json:"success_rate"`
	AvgResponseTimeMs float64        `json:"avg_response_time_ms"`
	ErrorsByType      map[string]int `json:"errors_by_type"`
}

// ProviderHealth is the last-hour verdict for one provider.
type ProviderHealth struct {
	Provider          string  `json:"provider"`
	Status            string  `json:"status"`
	TotalCalls        int     `json:"total_calls"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// DailyStat aggregates one calendar day (UTC).
type DailyStat struct {
	Date              string  `json:"date"`
	TotalCalls        int     `json:"total_calls"`
	SuccessfulCalls   int     `json:"successful_calls"`
	FailedCalls       int     `json:"failed_calls"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Service answers statistics queries over the audit log.
type Service struct {
	repo   repository.AuditLogRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo repository.AuditLogRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

func (s *Service) PerformanceMetrics(hours int, provider string) (*PerformanceMetrics, error) {
	if hours <= 0 {
		hours = 24
	}
	entries, err := s.repo.ListSince(s.now().Add(-time.Duration(hours)*time.Hour), provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit logs: %w", err)
	}

	result := &PerformanceMetrics{PeriodHours: hours, Provider: provider, ErrorsByType: map[string]int{}}
	var totalMs int64
	for _, e := range entries {
		result.TotalCalls++
		totalMs += e.ResponseTimeMs
		if e.Success {
			result.SuccessfulCalls++
			continue
		}
		result.FailedCalls++
		code := e.ErrorCode
		if code == "" {
			code = "unknown"
		}
		result.ErrorsByType[code]++
	}
	if result.TotalCalls > 0 {
		result.SuccessRate = float64(result.SuccessfulCalls) / float64(result.TotalCalls) * 100
		result.AvgResponseTimeMs = float64(totalMs) / float64(result.TotalCalls)
	}
	return result, nil
}

// ProviderHealthSummary grades each provider on the last hour of calls.
func (s *Service) ProviderHealthSummary(providers []string) ([]ProviderHealth, error) {
	out := make([]ProviderHealth, 0, len(providers))
	for _, p := range providers {
		m, err := s.PerformanceMetrics(1, p)
		if err != nil {
			return nil, err
		}
		out = append(out, ProviderHealth{
			Provider:          p,
			Status:            healthStatus(m),
			TotalCalls:        m.TotalCalls,
			SuccessRate:       m.SuccessRate,
			AvgResponseTimeMs: m.AvgResponseTimeMs,
		})
	}
	return out, nil
}

func healthStatus(m *PerformanceMetrics) string {
	switch {
	case m.TotalCalls == 0:
		return HealthUnknown
	case m.SuccessRate >= 95 && m.AvgResponseTimeMs < 5000:
		return HealthHealthy
	case m.SuccessRate >= 80 && m.AvgResponseTimeMs < 10000:
		return HealthDegraded
	}
	return HealthUnhealthy
}

func (s *Service) DailyStats(days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 7
	}
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
	entries, err := s.repo.ListSince(start, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load audit logs: %w", err)
	}

	byDay := make(map[string]*DailyStat, days)
	totals := make(map[string]int64, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i).Format("2006-01-02")
		byDay[d] = &DailyStat{Date: d}
	}
	for _, e := range entries {
		d := e.CreatedAt.UTC().Format("2006-01-02")
		stat, ok := byDay[d]
		if !ok {
			continue
		}
		stat.TotalCalls++
		totals[d] += e.ResponseTimeMs
		if e.Success {
			stat.SuccessfulCalls++
		} else {
			stat.FailedCalls++
		}
	}

	out := make([]DailyStat, 0, len(byDay))
	for d, stat := range byDay {
		if stat.TotalCalls > 0 {
			stat.AvgResponseTimeMs = float64(totals[d]) / float64(stat.TotalCalls)
		}
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Cleanup deletes entries older than the retention window.
func (s *Service) Cleanup(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	removed, err := s.repo.DeleteOlderThan(s.now().AddDate(0, 0, -retentionDays))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit logs: %w", err)
	}
	s.logger.Info("Old audit log entries removed", zap.Int64("removed", removed), zap.Int("retention_days", retentionDays))
	return removed, nil
}

// Recent returns raw entries for the last hours.
func (s *Service) Recent(hours int, provider string) ([]*models.AuditLog, error) {
	if hours <= 0 {
		hours = 1
	}
	return s.repo.ListSince(s.now().Add(-time.Duration(hours)*time.Hour), provider)
}
