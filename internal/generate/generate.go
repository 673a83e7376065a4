// Package generate sends a single prompt to a generative model and returns
// the raw text it produced. Implementations tag failures with
// failure.Kind so that callers can decide whether to retry.
package generate

// Request is one generation call.
type Request struct {
	Prompt string
	// BearerToken, when non-empty, is sent as an Authorization header.
	BearerToken string
}

// Parameters are the sampling settings sent with every request.
type Parameters struct {
	Temperature     float32
	TopP            float32
	MaxOutputTokens int32
}

func DefaultParameters() Parameters {
	return Parameters{
		Temperature:     0.7,
		TopP:            0.9,
		MaxOutputTokens: 1000,
	}
}
