package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hasl-sensors/hasl/internal/apiclient"
)

// payloads builds the request body for each webhook type.
var payloads = map[string]func(*Alert) any{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  func(a *Alert) any { return map[string]any{"alert": a} },
}

// deliver posts a to every configured webhook. Failures are logged only.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			slog.Debug("alerts: webhook url not set", "url_env", wh.URLEnv)
			continue
		}
		build, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		log := slog.With("type", wh.Type, "rule", a.RuleName, "entity", a.EntityID, "state", a.State)
		if err := e.post(url, build(a)); err != nil {
			log.Error("alerts: webhook delivery failed", "err", err)
			continue
		}
		log.Debug("alerts: webhook delivered")
	}
}

func slackPayload(a *Alert) any {
	text := fmt.Sprintf("*%s* %s", label(a), a.Message)
	if a.EntityID != "" {
		text += fmt.Sprintf(" (`%s`)", a.EntityID)
	}
	return map[string]string{"text": text}
}

func teamsPayload(a *Alert) any {
	facts := []map[string]string{
		{"name": "Entity", "value": a.EntityID},
		{"name": "Entry", "value": a.EntryID},
		{"name": "Value", "value": strconv.FormatFloat(a.Value, 'f', -1, 64)},
		{"name": "State", "value": a.State},
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("%s HASL: %s", label(a), a.RuleName),
		"text":       a.Message,
		"sections":   []map[string]any{{"facts": facts}},
	}
}

func (e *Engine) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), apiclient.DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	return apiclient.Check(resp)
}

func label(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	}
	return "[INFO]"
}

// severityColor returns the Teams card accent for s.
func severityColor(s string) string {
	switch s {
	case "critical":
		return "C62828"
	case "warning":
		return "F9A825"
	}
	return "1565C0"
}
