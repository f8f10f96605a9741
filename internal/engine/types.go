package engine

import "headswap/internal/graph"

type promptRequest struct {
	Prompt   graph.Graph `json:"prompt"`
	ClientID string      `json:"client_id,omitempty"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}

// Image describes one file produced by an output node
type Image struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type NodeOutput struct {
	Images []Image `json:"images"`
}

type Status struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// HistoryEntry is the record GET /history/{prompt_id} returns for one prompt
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  *Status               `json:"status,omitempty"`
}
