package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a Searcher backed by a remote retrieval service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type searchRequest struct {
	CollectionName string `json:"collection_name"`
	Query          string `json:"query"`
	TopK           int    `json:"top_k"`
}

type searchResponse struct {
	RetrievedChunks []struct {
		Text     string `json:"text"`
		Metadata struct {
			Source  string `json:"source"`
			Section string `json:"section"`
			Topic   string `json:"topic"`
		} `json:"metadata"`
	} `json:"retrieved_chunks"`
}

// Search implements Searcher.
func (c *Client) Search(ctx context.Context, collection, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 3
	}
	body, err := json.Marshal(searchRequest{CollectionName: collection, Query: query, TopK: topK})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge service: status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("knowledge service: decode: %w", err)
	}

	results := make([]Result, 0, len(decoded.RetrievedChunks))
	for _, chunk := range decoded.RetrievedChunks {
		source := chunk.Metadata.Source
		if source == "" {
			source = chunk.Metadata.Section
		}
		if source == "" {
			source = chunk.Metadata.Topic
		}
		if source == "" {
			source = "unknown"
		}
		results = append(results, Result{Text: chunk.Text, Source: source})
	}
	return results, nil
}
