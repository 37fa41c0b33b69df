package model

// Message is one chat-completion message of the final prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// KnownPrompts are depth-injected prompts captured at generation start.
// They are matched by content when they leak into chat history.
type KnownPrompts struct {
	AuthorsNote    string `json:"authorsNote,omitempty"`
	CharacterNote  string `json:"characterNote,omitempty"`
	StartReplyWith string `json:"startReplyWith,omitempty"`
}

// VectorChunk is one result of the RAG plugin's last search.
type VectorChunk struct {
	Hash  string  `json:"hash"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// VectorSearch is the RAG plugin's last-search object.
type VectorSearch struct {
	Query  string        `json:"query"`
	Chunks []VectorChunk `json:"chunks"`
}
