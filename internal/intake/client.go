// Package intake предоставляет клиент сервиса приёма заявок, сопоставляющего заявки с форм и лиды.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmeshcher/leadmatch/internal/apperr"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом приёма заявок.
// Ответы не кэшируются: каждое обращение идёт в сервис.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Submission описывает ответ сервиса приёма по одной заявке с формы.
type Submission struct {
	SubmissionID string `json:"submission_id"`
	LeadID       string `json:"lead_id"`
}

// NewClient создаёт HTTP-клиент для обращения к сервису приёма по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// ResolveLead возвращает идентификатор лида для заявки с формы.
// 404 и пустой lead_id означают apperr.ErrLeadUnresolved, 429, 5xx и сетевые сбои считаются временными.
func (c *Client) ResolveLead(ctx context.Context, submissionID string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("intake client not configured")
	}

	u := fmt.Sprintf("%s/api/submissions/%s", c.baseURL, url.PathEscape(submissionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Transient("do request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", apperr.ErrLeadUnresolved
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return "", apperr.Transient("resolve submission", fmt.Errorf("unexpected status: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Submission
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if result.LeadID == "" {
		return "", apperr.ErrLeadUnresolved
	}

	return result.LeadID, nil
}
