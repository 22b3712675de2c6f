package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Passage is one retrieved lore/style passage, ordered by relevance.
type Passage struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// ContextReader exposes the retrieval layer used for Director/Narrator prompt
// assembly. Deterministic stages never consult it.
type ContextReader interface {
	GetRelevantContext(ctx context.Context, query string, budgetTokens int) ([]Passage, error)
}

// HTTPContextClient is the HTTP implementation of ContextReader.
type HTTPContextClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPContextClient creates a retrieval client for the given base URL.
func NewHTTPContextClient(baseURL string, logger *zap.Logger) *HTTPContextClient {
	return &HTTPContextClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Named("HTTPContextClient"),
	}
}

// GetRelevantContext implements ContextReader.
func (c *HTTPContextClient) GetRelevantContext(ctx context.Context, query string, budgetTokens int) ([]Passage, error) {
	requestBody := struct {
		Query        string `json:"query"`
		BudgetTokens int    `json:"budgetTokens"`
	}{Query: query, BudgetTokens: budgetTokens}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/context/search", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create context request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("context service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Context service returned non-OK status", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("context service returned status %d", resp.StatusCode)
	}

	var out struct {
		Passages []Passage `json:"passages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode context response: %w", err)
	}
	return out.Passages, nil
}
