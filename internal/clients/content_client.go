package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Faction is a content pack faction definition.
type Faction struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Disposition string   `json:"disposition"`
	Rivals      []string `json:"rivals"`
}

// Location is a content pack location definition.
type Location struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Dangerous bool     `json:"dangerous"`
	Exits     []string `json:"exits"`
	Tags      []string `json:"tags"`
}

// NPCCandidate is an NPC definition eligible to spawn at a location.
type NPCCandidate struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HP        int    `json:"hp"`
	Defense   int    `json:"defense"`
	Hostile   bool   `json:"hostile"`
	FactionID string `json:"factionId"`
}

// ContentReader exposes the catalog/content system to the engine.
// Lookups are pure and side-effect free; results are cached by this client.
type ContentReader interface {
	GetFaction(ctx context.Context, id string) (*Faction, error)
	GetLocation(ctx context.Context, id string) (*Location, error)
	GetNPCCandidates(ctx context.Context, locationID string, tags []string) ([]NPCCandidate, error)
}

// HTTPContentClient is an HTTP implementation of ContentReader with a small
// in-memory TTL cache, since the content system serves immutable definition packs.
type HTTPContentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	body      []byte
	expiresAt time.Time
}

// NewHTTPContentClient creates a content client for the given base URL.
func NewHTTPContentClient(baseURL string, logger *zap.Logger) *HTTPContentClient {
	return &HTTPContentClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger.Named("HTTPContentClient"),
		cache:      make(map[string]cacheEntry),
		ttl:        5 * time.Minute,
	}
}

// GetFaction implements ContentReader.
func (c *HTTPContentClient) GetFaction(ctx context.Context, id string) (*Faction, error) {
	var out Faction
	if err := c.getJSON(ctx, "/internal/factions/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLocation implements ContentReader.
func (c *HTTPContentClient) GetLocation(ctx context.Context, id string) (*Location, error) {
	var out Location
	if err := c.getJSON(ctx, "/internal/locations/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNPCCandidates implements ContentReader.
func (c *HTTPContentClient) GetNPCCandidates(ctx context.Context, locationID string, tags []string) ([]NPCCandidate, error) {
	path := fmt.Sprintf("/internal/locations/%s/npc-candidates", url.PathEscape(locationID))
	if len(tags) > 0 {
		path += "?tags=" + url.QueryEscape(strings.Join(tags, ","))
	}
	var out []NPCCandidate
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPContentClient) getJSON(ctx context.Context, path string, out any) error {
	if body, ok := c.cached(path); ok {
		return json.Unmarshal(body, out)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create content request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("content service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("content %s: not found", path)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Content service returned non-OK status",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("content service returned status %d", resp.StatusCode)
	}

	var buf json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&buf); err != nil {
		return fmt.Errorf("failed to decode content response: %w", err)
	}
	c.store(path, buf)
	return json.Unmarshal(buf, out)
}

func (c *HTTPContentClient) cached(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.body, true
}

func (c *HTTPContentClient) store(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{body: body, expiresAt: time.Now().Add(c.ttl)}
}
