package models

// Channel is one entry of the fixed broadcast channel registry.
type Channel struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	MatchKey    string   `json:"matchKey"`
	Aliases     []string `json:"aliases,omitempty"` // alternative club names resolving to this channel
}
