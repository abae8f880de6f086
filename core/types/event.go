package types

// Event is the canonical structured payload emitted by the settlement
// engines and mirrored by downstream indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
