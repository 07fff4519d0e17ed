package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/askpdf/internal/engine"
	"github.com/kalambet/askpdf/internal/retrieval"
)

const defaultMaxContextTokens = 3000

const answerInstructions = `You answer questions about the user's documents.
Use the document excerpts below to answer. If they do not contain the answer, say that you don't know instead of making one up.`

const condenseInstructions = `Given the conversation so far and a follow-up question, rephrase the follow-up question as a standalone question in its original language.
Reply with the standalone question only.`

// Composer assembles chat messages from retrieved context chunks, the
// conversation so far and the current question.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (3000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns a system message carrying the instructions and the
// selected chunks, every prior history turn unchanged, then the question
// as the final user message.
func (c *Composer) Compose(history []engine.Message, question string, chunks []retrieval.ContextChunk) []engine.Message {
	msgs := make([]engine.Message, 0, len(history)+2)
	msgs = append(msgs, engine.Message{Role: engine.RoleSystem, Content: c.buildSystem(chunks)})
	msgs = append(msgs, history...)
	msgs = append(msgs, engine.Message{Role: engine.RoleUser, Content: question})
	return msgs
}

// Condense returns messages asking the model to rewrite a follow-up
// question so that it can be understood without the history.
func (c *Composer) Condense(history []engine.Message, question string) []engine.Message {
	var sb strings.Builder
	sb.WriteString("Chat history:\n")
	for _, m := range history {
		switch m.Role {
		case engine.RoleUser:
			sb.WriteString("Human: ")
		case engine.RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			continue
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nFollow-up question: ")
	sb.WriteString(question)
	sb.WriteString("\nStandalone question:")

	return []engine.Message{
		{Role: engine.RoleSystem, Content: condenseInstructions},
		{Role: engine.RoleUser, Content: sb.String()},
	}
}

// buildSystem constructs the system message content, respecting the token
// budget by dropping lowest-scoring chunks first.
func (c *Composer) buildSystem(chunks []retrieval.ContextChunk) string {
	var sb strings.Builder
	sb.WriteString(answerInstructions)

	if len(chunks) == 0 {
		sb.WriteString("\n\n[Context]\n(no matching excerpts)")
		return sb.String()
	}

	// Sort chunks by score descending.
	sorted := make([]retrieval.ContextChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	contextHeader := "\n\n[Context]\n"
	remaining := c.MaxContextTokens - EstimateTokens(contextHeader)

	var selected []string
	for _, ch := range sorted {
		entry := formatChunk(ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	sb.WriteString(contextHeader)
	if len(selected) == 0 {
		sb.WriteString("(no matching excerpts)")
		return sb.String()
	}
	for _, entry := range selected {
		sb.WriteString(entry)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatChunk(ch retrieval.ContextChunk) string {
	return fmt.Sprintf("(Score: %.2f, Source: %s#%s)\n%s\n\n", ch.Score, ch.Source, ch.ID, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
