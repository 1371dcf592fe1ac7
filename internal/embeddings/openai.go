package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"knowledgebase/internal/config"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/logging"
)

// modelDimensions lists the dense-vector widths of the OpenAI embedding
// models this client knows about.
var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

const defaultModel = "text-embedding-3-small"

// OpenAIEmbedder calls the OpenAI embeddings REST API directly over
// net/http.
type OpenAIEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	batchSize  int
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIEmbedder builds an OpenAIEmbedder from EmbedderConfig. Model
// dimensions default from modelDimensions when cfg.Dimensions is unset.
func NewOpenAIEmbedder(cfg config.EmbedderConfig, logger logging.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, kberrors.New("embeddings.NewOpenAIEmbedder", kberrors.ProviderAuthRequired,
			fmt.Errorf("OpenAI API key is required"))
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = modelDimensions[model]
		if dims == 0 {
			dims = 1536
		}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIEmbedder{
		apiKey:     cfg.APIKey,
		baseURL:    "https://api.openai.com/v1",
		model:      model,
		dimensions: dims,
		batchSize:  batchSize,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent("embeddings.openai"),
	}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errEmpty("OpenAIEmbedder.Embed")
	}
	vecs, err := e.callAPI(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder, sub-batching at e.batchSize.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, kberrors.New("OpenAIEmbedder.EmbedBatch", kberrors.EmbedFailed,
				fmt.Errorf("text at index %d cannot be empty", i))
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.callAPI(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// CountTokens approximates token cost by whitespace-delimited word count.
// The real tokenizer lives behind OpenAI's API; this client-side estimate
// only needs to be good enough to keep requests under the batch/context
// limits, not byte-exact.
func (e *OpenAIEmbedder) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Dimensions implements Embedder.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": e.model,
	})
	if err != nil {
		return nil, kberrors.New("OpenAIEmbedder.callAPI", kberrors.EmbedFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, kberrors.New("OpenAIEmbedder.callAPI", kberrors.EmbedFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, kberrors.New("OpenAIEmbedder.callAPI", kberrors.ProviderTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kberrors.New("OpenAIEmbedder.callAPI", kberrors.EmbedFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := kberrors.EmbedFailed
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			kind = kberrors.ProviderTransient
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			kind = kberrors.ProviderAuthRequired
		}
		return nil, kberrors.New("OpenAIEmbedder.callAPI", kind,
			fmt.Errorf("openai embeddings error (status %d): %s", resp.StatusCode, string(body)))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, kberrors.New("OpenAIEmbedder.callAPI", kberrors.EmbedFailed, err)
	}

	vecs := make([][]float32, len(parsed.Data))
	for _, item := range parsed.Data {
		vecs[item.Index] = item.Embedding
	}

	e.logger.Debug("embeddings generated", "count", len(vecs), "model", e.model)
	return vecs, nil
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}
