package models

const (
	// ContextSeparator joins retrieved passages inside a prompt.
	ContextSeparator = "\n\n---\n\n"
	// ThinkTag matches reasoning blocks some chat models prepend to their output.
	ThinkTag = `(?s)<think>.*?</think>`

	MetaSource     = "source"
	MetaPage       = "page"
	MetaChunkIndex = "chunk_index"
)
