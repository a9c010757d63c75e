package models

// Chunk is a contiguous piece of text bounded by a token budget.
type Chunk struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
	Index  int    `json:"index"`
}
