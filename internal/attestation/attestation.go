// Package attestation reports whether the process runs inside a verifiable
// execution environment.
package attestation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/google/go-tdx-guest/client"
	"go.uber.org/zap"
)

const (
	ProviderEigenCompute = "EigenCompute (Intel TDX)"
	ProviderLocalTDX     = "Intel TDX (configfs quote)"
	ProviderNone         = "none (development)"

	defaultTimeout = 5 * time.Second
)

var (
	teeGuarantees = []string{
		"Code runs inside Intel TDX Trusted Execution Environment",
		"Operator cannot access source identities or encryption keys",
		"AI journalist code is tamper-proof and verifiable",
		"Attestation is cryptographically signed by TEE hardware",
	}
	devGuarantees = []string{
		"TEE not detected, running in standard environment",
		"Deploy via EigenCompute for verifiable execution guarantees",
	}
)

type Environment struct {
	Go        string `json:"go"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
	ImageHash string `json:"imageHash"`
}

type Report struct {
	TEE         bool            `json:"tee"`
	Provider    string          `json:"provider"`
	Attestation json.RawMessage `json:"attestation,omitempty"`
	Quote       string          `json:"quote,omitempty"`
	ReportData  string          `json:"reportData,omitempty"`
	Environment *Environment    `json:"environment,omitempty"`
	Guarantees  []string        `json:"guarantees"`
	Timestamp   string          `json:"timestamp"`
}

// QuoteProvider produces a raw TDX quote binding reportData.
type QuoteProvider interface {
	GetRawQuote(reportData [64]byte) ([]byte, error)
}

type Config struct {
	// RemoteURL is an attestation document served by the hosting platform.
	RemoteURL string
	// TDX enables local quote generation through configfs.
	TDX     bool
	Timeout time.Duration
}

type Service struct {
	remoteURL  string
	httpClient *http.Client
	quotes     QuoteProvider
	image      [32]byte
	imageHash  string
	now        func() time.Time
	log        *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Service {
	var quotes QuoteProvider
	if cfg.TDX {
		quotes = &client.LinuxConfigFsQuoteProvider{}
	}
	return newService(cfg, quotes, imageDigest(), time.Now, log)
}

func newService(cfg Config, quotes QuoteProvider, image [32]byte, now func() time.Time, log *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	imageHash := "unavailable"
	if image != ([32]byte{}) {
		imageHash = hex.EncodeToString(image[:])[:16]
	}
	return &Service{
		remoteURL:  cfg.RemoteURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		quotes:     quotes,
		image:      image,
		imageHash:  imageHash,
		now:        now,
		log:        log.Named("attestation"),
	}
}

// Report prefers the platform's attestation document, then a local quote,
// and otherwise describes the development environment. It never reports a
// TEE without evidence from one of the first two.
func (s *Service) Report(ctx context.Context) Report {
	ts := s.now().UTC().Format(time.RFC3339Nano)

	if s.remoteURL != "" {
		doc, err := s.fetchRemote(ctx)
		if err == nil {
			return Report{TEE: true, Provider: ProviderEigenCompute, Attestation: doc, Guarantees: teeGuarantees, Timestamp: ts}
		}
		s.log.Warn("remote attestation unavailable", zap.Error(err))
	}

	env := &Environment{Go: runtime.Version(), Platform: runtime.GOOS, Arch: runtime.GOARCH, ImageHash: s.imageHash}

	if s.quotes != nil {
		var reportData [64]byte
		copy(reportData[:], s.image[:])
		quote, err := s.quotes.GetRawQuote(reportData)
		if err == nil {
			return Report{
				TEE:         true,
				Provider:    ProviderLocalTDX,
				Quote:       base64.StdEncoding.EncodeToString(quote),
				ReportData:  hex.EncodeToString(reportData[:]),
				Environment: env,
				Guarantees:  teeGuarantees,
				Timestamp:   ts,
			}
		}
		s.log.Warn("tdx quote unavailable", zap.Error(err))
	}

	return Report{TEE: false, Provider: ProviderNone, Environment: env, Guarantees: devGuarantees, Timestamp: ts}
}

func (s *Service) fetchRemote(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching attestation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attestation service returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading attestation: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("attestation is not JSON")
	}
	return json.RawMessage(body), nil
}

// imageDigest fingerprints the running executable. A zero digest means the
// binary could not be read.
func imageDigest() [32]byte {
	path, err := os.Executable()
	if err != nil {
		return [32]byte{}
	}
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
