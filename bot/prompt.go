package bot

import (
	"fmt"
	"strings"

	"github.com/monkebot/monkebot/model"
)

// imagePromptPrefix keys generated images to the bot's visual style.
const imagePromptPrefix = "CMONKE "

const postPrompt = `Generate an engaging post about technology, AI, art, or creativity.
The post should be informative, witty, and encourage interaction.
Keep it under 280 characters and make it conversational.
Include relevant hashtags where appropriate.`

func replyPrompt(content string, context []model.Interaction) string {
	return fmt.Sprintf(`Given this post: %q
And considering the context of our previous interactions,
generate a friendly and engaging reply that maintains continuity
of the conversation. Keep it under 280 characters.%s`, content, formatContext(context))
}

func mentionPrompt(content string, context []model.Interaction) string {
	return fmt.Sprintf(`Someone mentioned me in this post: %q
Generate an appropriate response that's helpful and engaging.
Consider the context of any previous interactions.
Keep it under 280 characters.%s`, content, formatContext(context))
}

func analyzePrompt(content string) string {
	return fmt.Sprintf("Analyze this content and decide if it requires an image response or text response. Content: %s", content)
}

// formatContext renders the most recent interactions as a short transcript
// block. Only a handful of lines go into the prompt; the full window is
// for the model to pick continuity from, not a token budget to burn.
func formatContext(context []model.Interaction) string {
	if len(context) == 0 {
		return ""
	}
	const maxLines = 10
	var b strings.Builder
	b.WriteString("\n\nRecent interactions, newest first:\n")
	for i, interaction := range context {
		if i == maxLines {
			break
		}
		fmt.Fprintf(&b, "- [%s] @%s: %q -> %q\n", interaction.Type, interaction.AuthorHandle, interaction.InputContent, interaction.ResponseContent)
	}
	return b.String()
}
