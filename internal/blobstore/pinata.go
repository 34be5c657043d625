package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

const (
	DefaultPinataAPIURL = "https://api.pinata.cloud"
	DefaultGateway      = "https://gateway.pinata.cloud"
	defaultTimeout      = 30 * time.Second
)

type PinataConfig struct {
	APIKey    string
	SecretKey string
	APIURL    string
	Gateway   string
	Timeout   time.Duration
}

// Pinata pins article JSON to IPFS through the Pinata API and reads it back
// through a gateway.
type Pinata struct {
	apiKey     string
	secretKey  string
	apiURL     string
	gateway    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewPinata(cfg PinataConfig, log *zap.Logger) *Pinata {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultPinataAPIURL
	}
	if cfg.Gateway == "" {
		cfg.Gateway = DefaultGateway
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pinata{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		gateway:    strings.TrimRight(cfg.Gateway, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("pinata"),
	}
}

type pinRequest struct {
	PinataContent  json.RawMessage `json:"pinataContent"`
	PinataMetadata PinMetadata     `json:"pinataMetadata"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

type pinListResponse struct {
	Rows []struct {
		IpfsPinHash string `json:"ipfs_pin_hash"`
		DatePinned  string `json:"date_pinned"`
		Metadata    struct {
			KeyValues map[string]any `json:"keyvalues"`
		} `json:"metadata"`
	} `json:"rows"`
}

func (p *Pinata) Pin(ctx context.Context, article model.IPFSArticle) (string, error) {
	doc, err := encodeDocument(article)
	if err != nil {
		return "", fmt.Errorf("encode article: %w", err)
	}
	body, err := json.Marshal(pinRequest{PinataContent: doc, PinataMetadata: MetadataFor(article)})
	if err != nil {
		return "", fmt.Errorf("encode pin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinJSONToIPFS", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: pin: %v", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.log.Warn("pin rejected", zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("%w: pin: status %d", apperr.ErrUpstream, resp.StatusCode)
	}

	var out pinResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: pin: decode response: %v", apperr.ErrUpstream, err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("%w: pin: empty content id", apperr.ErrUpstream)
	}
	return out.IpfsHash, nil
}

func (p *Pinata) List(ctx context.Context) ([]model.PublishedArticle, error) {
	filter, _ := json.Marshal(map[string]string{"value": AppTag, "op": "eq"})
	q := url.Values{}
	q.Set("status", "pinned")
	q.Set("metadata[keyvalues][app]", string(filter))
	q.Set("pageLimit", fmt.Sprint(ListLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/data/pinList?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list: status %d", apperr.ErrUpstream, resp.StatusCode)
	}

	var out pinListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: list: decode response: %v", apperr.ErrUpstream, err)
	}

	articles := make([]model.PublishedArticle, 0, len(out.Rows))
	for _, row := range out.Rows {
		kv := make(map[string]string, len(row.Metadata.KeyValues))
		for k, v := range row.Metadata.KeyValues {
			kv[k] = fmt.Sprint(v)
		}
		articles = append(articles, projection(row.IpfsPinHash, kv, row.DatePinned))
	}
	return articles, nil
}

func (p *Pinata) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if !ValidCID(cid) {
		return nil, fmt.Errorf("%w: malformed content id", apperr.ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.GatewayURL(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fetch: %v", apperr.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: fetch: %v", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, cid)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: fetch: status %d", apperr.ErrUpstream, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocSize))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", apperr.ErrUpstream, err)
	}
	return data, nil
}

func (p *Pinata) GatewayURL(cid string) string {
	return p.gateway + "/ipfs/" + cid
}

func (p *Pinata) authorize(req *http.Request) {
	req.Header.Set("pinata_api_key", p.apiKey)
	req.Header.Set("pinata_secret_api_key", p.secretKey)
}
