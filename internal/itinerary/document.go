// Package itinerary requests one-day travel itineraries from a generative
// model and turns its free-form reply into a Document.
package itinerary

// Document is a one-day itinerary. Distance and time fields are opaque
// strings in the unit and "Xh Ym" formats requested in the prompt; they are
// never parsed numerically.
type Document struct {
	Destination   string `json:"destination"`
	Stops         []Stop `json:"stops"`
	TotalDistance string `json:"totalDistance"`
	TotalTime     string `json:"totalTime"`
}

type Stop struct {
	Name                 string `json:"name"`
	DistanceFromPrevious string `json:"distanceFromPrevious"`
	TimeToSpend          string `json:"timeToSpend"`
	Description          string `json:"description"`
}
