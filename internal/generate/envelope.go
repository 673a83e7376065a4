package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope describes the request and response shapes of a model endpoint.
type Envelope interface {
	Name() string
	EncodeRequest(prompt string, params Parameters) ([]byte, error)
	DecodeResponse(body []byte) (string, error)
}

// EnvelopeFor returns the envelope registered under name: "gemini" or "flat".
func EnvelopeFor(name string) (Envelope, error) {
	switch name {
	case "gemini":
		return GeminiEnvelope{}, nil
	case "flat":
		return FlatEnvelope{}, nil
	default:
		return nil, fmt.Errorf("unknown envelope %q", name)
	}
}

var errNoText = errors.New("response contained no generated text")

// GeminiEnvelope is the nested contents/candidates shape of the Gemini REST API.
type GeminiEnvelope struct{}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"topP"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (GeminiEnvelope) Name() string { return "gemini" }

func (GeminiEnvelope) EncodeRequest(prompt string, params Parameters) ([]byte, error) {
	return json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     params.Temperature,
			TopP:            params.TopP,
			MaxOutputTokens: params.MaxOutputTokens,
		},
	})
}

func (GeminiEnvelope) DecodeResponse(body []byte) (string, error) {
	var res geminiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(res.Candidates) == 0 {
		return "", errNoText
	}

	var text strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", errNoText
	}
	return text.String(), nil
}

// FlatEnvelope is the inputs/generated_text shape used by Hugging Face style
// inference endpoints. The response may be a single object or an array.
type FlatEnvelope struct{}

type flatRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters flatParameters `json:"parameters"`
}

type flatParameters struct {
	MaxNewTokens   int32   `json:"max_new_tokens"`
	Temperature    float32 `json:"temperature"`
	TopP           float32 `json:"top_p"`
	ReturnFullText bool    `json:"return_full_text"`
}

type flatResponse struct {
	GeneratedText string `json:"generated_text"`
}

func (FlatEnvelope) Name() string { return "flat" }

func (FlatEnvelope) EncodeRequest(prompt string, params Parameters) ([]byte, error) {
	return json.Marshal(flatRequest{
		Inputs: prompt,
		Parameters: flatParameters{
			MaxNewTokens: params.MaxOutputTokens,
			Temperature:  params.Temperature,
			TopP:         params.TopP,
		},
	})
}

func (FlatEnvelope) DecodeResponse(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))

	var text string
	if strings.HasPrefix(trimmed, "[") {
		var res []flatResponse
		if err := json.Unmarshal(body, &res); err != nil {
			return "", fmt.Errorf("decoding flat response: %w", err)
		}
		if len(res) > 0 {
			text = res[0].GeneratedText
		}
	} else {
		var res flatResponse
		if err := json.Unmarshal(body, &res); err != nil {
			return "", fmt.Errorf("decoding flat response: %w", err)
		}
		text = res.GeneratedText
	}

	if text == "" {
		return "", errNoText
	}
	return text, nil
}
