package itinerary

import (
	"fmt"
	"strings"

	"github.com/wayfarer/wayfarer/internal/failure"
	"golang.org/x/text/unicode/norm"
)

const (
	MinStops = 5
	MaxStops = 7
)

const promptTemplate = `You are a travel planner. Create a realistic one-day walking and transit itinerary for %[1]s.

Rules:
1. Decide which distance unit is customary in the region of %[1]s (for example "km" or "miles") and use that one unit for every distance in the reply.
2. The first stop's distanceFromPrevious must be "0 <unit>", using the unit chosen above.
3. Every duration (timeToSpend and totalTime) must use the format "Xh Ym", for example "1h 30m" or "0h 45m".
4. Include between %[2]d and %[3]d stops, in visiting order.
5. The time spent at all stops plus travel between them must total between 8 and 10 hours.
6. totalDistance is the sum of every distanceFromPrevious; totalTime is the length of the whole day.

Reply with ONLY a JSON object matching this schema. Do not add explanations, markdown or any text before or after the JSON:
{
  "destination": "%[1]s",
  "stops": [
    {
      "name": "string",
      "distanceFromPrevious": "string",
      "timeToSpend": "string",
      "description": "string"
    }
  ],
  "totalDistance": "string",
  "totalTime": "string"
}`

// BuildPrompt renders the generation prompt for destination. The destination
// is trimmed and NFC-normalized; an empty result is a failure.KindInvalidInput
// error.
func BuildPrompt(destination string) (string, error) {
	normalized, err := NormalizeDestination(destination)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(promptTemplate, normalized, MinStops, MaxStops), nil
}

// NormalizeDestination trims and NFC-normalizes a destination name.
func NormalizeDestination(destination string) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(destination))
	if normalized == "" {
		return "", failure.New(failure.KindInvalidInput, "build prompt", "destination is required")
	}
	return normalized, nil
}
