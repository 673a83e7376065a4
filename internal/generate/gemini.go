package generate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/wayfarer/wayfarer/internal/failure"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// Gemini generates text through the Gemini SDK.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGemini(ctx context.Context, apiKey, modelName string, params Parameters) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(params.Temperature)
	model.SetTopP(params.TopP)
	model.SetMaxOutputTokens(params.MaxOutputTokens)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Close releases the SDK client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Generate ignores req.BearerToken: the SDK authenticates with its API key.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", failure.New(failure.KindExtraction, "generate", "no response candidates from Gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}

	return text.String(), nil
}

// classifyGeminiError maps SDK errors onto failure kinds using the HTTP
// status or gRPC code they carry. Errors with neither are returned as-is for
// network classification.
func classifyGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return wrapStatus(gerr.Code, err)
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			return wrapStatus(code, err)
		}
		if st := aerr.GRPCStatus(); st != nil {
			return wrapStatus(httpStatusForCode(st.Code()), err)
		}
	}

	return err
}

func wrapStatus(status int, err error) error {
	fe := failure.ForStatus("generate", status, "gemini request failed")
	fe.Err = err
	return fe
}

func httpStatusForCode(code codes.Code) int {
	switch code {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.Aborted:
		return http.StatusServiceUnavailable
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
