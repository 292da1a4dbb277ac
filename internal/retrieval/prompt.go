package retrieval

import "strings"

// contextSeparator divides passages inside the prompt's context block.
const contextSeparator = "\n\n---\n\n"

// promptInstruction grounds the generator in the retrieved passages.
const promptInstruction = "Answer the question using only the context below. " +
	"If the context does not contain the answer, say that you do not know " +
	"instead of guessing."

// BuildPrompt assembles the generator prompt from its three fixed parts:
// the grounding instruction, the context block with passages in reranked
// order, and the user's question.
func BuildPrompt(passages []string, question string) string {
	var b strings.Builder
	b.WriteString(promptInstruction)
	b.WriteString("\n\nContext:\n")
	b.WriteString(strings.Join(passages, contextSeparator))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return b.String()
}
