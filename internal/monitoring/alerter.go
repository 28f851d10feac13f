package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spimex-sync/internal/config"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPhaseFailureRate AlertType = "phase_failure_rate"
	AlertStalePhase       AlertType = "stale_phase"
	AlertFormatChanged    AlertType = "source_format_changed"
)

// minFinishedRuns is the number of finished runs needed before a failure
// rate is meaningful.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Phase     model.Phase    `json:"phase"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts,
// ordered by phase.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	phases := make([]model.Phase, 0, len(snap.Phases))
	for p := range snap.Phases {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })

	for _, phase := range phases {
		ps := snap.Phase(phase)

		finished := ps.Complete + ps.Failed
		if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedRuns && ps.FailRate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertPhaseFailureRate,
				Severity: "high",
				Phase:    phase,
				Message: fmt.Sprintf(
					"%s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
					phase, ps.FailRate*100, a.cfg.FailureRateThreshold*100,
					ps.Failed, finished, snap.LookbackHours,
				),
				Details: map[string]any{
					"failure_rate": ps.FailRate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       ps.Failed,
					"finished":     finished,
				},
				Timestamp: now,
			})
		}

		if a.cfg.StaleAfterHours > 0 {
			limit := time.Duration(a.cfg.StaleAfterHours) * time.Hour
			if ps.LastSuccess == nil || now.Sub(*ps.LastSuccess) > limit {
				last := "never"
				if ps.LastSuccess != nil {
					last = ps.LastSuccess.Format(time.RFC3339)
				}
				alerts = append(alerts, Alert{
					Type:     AlertStalePhase,
					Severity: "medium",
					Phase:    phase,
					Message:  fmt.Sprintf("no successful %s run in the last %dh (last success: %s)", phase, a.cfg.StaleAfterHours, last),
					Details: map[string]any{
						"last_success":      last,
						"stale_after_hours": a.cfg.StaleAfterHours,
					},
					Timestamp: now,
				})
			}
		}

		if l := ps.Latest; l != nil && l.Status == model.RunStatusFailed && l.ErrorKind == string(resilience.KindParse) {
			alerts = append(alerts, Alert{
				Type:     AlertFormatChanged,
				Severity: "high",
				Phase:    phase,
				Message:  fmt.Sprintf("latest %s run failed to parse any bulletin: %s", phase, l.Error),
				Details: map[string]any{
					"run_id":     l.ID,
					"started_at": l.StartedAt.Format(time.RFC3339),
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Delivery failures are logged, not returned.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		log := zap.L().With(
			zap.String("type", string(alert.Type)),
			zap.String("phase", string(alert.Phase)),
		)
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			log.Error("monitoring: alert not delivered", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert delivered", zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

// post sends one alert as JSON. 5xx and 429 replies are transient.
func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(
			eris.Errorf("monitoring: webhook replied %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook rejected alert with %d", resp.StatusCode)
	}
	return nil
}
