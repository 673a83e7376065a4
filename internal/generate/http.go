package generate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wayfarer/wayfarer/internal/failure"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20 // 4 MiB

// HTTP calls a model endpoint directly with a JSON POST.
type HTTP struct {
	endpoint     string
	envelope     Envelope
	params       Parameters
	apiKey       string
	apiKeyHeader string
	client       *http.Client
	limiter      *rate.Limiter
}

type HTTPOption func(*HTTP)

// WithAPIKey sends key in header on every request. An empty header name
// sends it as a "key" query parameter instead, as the Gemini REST API expects.
func WithAPIKey(header, key string) HTTPOption {
	return func(h *HTTP) {
		h.apiKeyHeader = header
		h.apiKey = key
	}
}

func WithParameters(params Parameters) HTTPOption {
	return func(h *HTTP) {
		h.params = params
	}
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = client
	}
}

// WithRateLimit bounds outbound requests per second. A non-positive limit
// disables limiting.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(h *HTTP) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewHTTP(endpoint string, envelope Envelope, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint: endpoint,
		envelope: envelope,
		params:   DefaultParameters(),
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Generate posts the prompt and returns the generated text. Non-2xx
// responses are classified with failure.ForStatus; transport errors are
// returned untagged so that callers can classify them as network failures.
func (h *HTTP) Generate(ctx context.Context, req Request) (string, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return "", failure.Wrap(failure.KindTransient, "generate", err, "rate limit wait")
		}
	}

	body, err := h.envelope.EncodeRequest(req.Prompt, h.params)
	if err != nil {
		return "", failure.Wrap(failure.KindPermanent, "generate", err, "encoding request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", failure.Wrap(failure.KindPermanent, "generate", err, "creating request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}
	if h.apiKey != "" {
		if h.apiKeyHeader != "" {
			httpReq.Header.Set(h.apiKeyHeader, h.apiKey)
		} else {
			q := httpReq.URL.Query()
			q.Set("key", h.apiKey)
			httpReq.URL.RawQuery = q.Encode()
		}
	}

	res, err := h.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading model response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Ctx(ctx).Debug().
			Int("status", res.StatusCode).
			Str("envelope", h.envelope.Name()).
			Msg("model endpoint returned an error status")
		return "", failure.ForStatus("generate", res.StatusCode, "model endpoint returned "+http.StatusText(res.StatusCode))
	}

	text, err := h.envelope.DecodeResponse(payload)
	if err != nil {
		// a 2xx without usable text: the reply itself is unusable
		return "", failure.Wrap(failure.KindExtraction, "generate", err, "unexpected response envelope")
	}

	return text, nil
}
