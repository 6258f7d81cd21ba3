package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/quitline/carechat/internal/core/conversation"
)

// transcriptGutter is the margin glamour puts around rendered blocks.
const transcriptGutter = 4

// transcriptMarkdown lays out a conversation as a markdown document, one
// section per message. Bodies are kept as written so lists and emphasis in
// care instructions render.
func transcriptMarkdown(title string, messages []conversation.Message, self string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", title)
	if len(messages) == 0 {
		b.WriteString("_No messages yet._\n")
		return b.String()
	}

	for i, msg := range messages {
		sender := title
		if msg.SenderIsSelf {
			sender = self
		}
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "**%s** · _%s_\n\n", sender, msg.SentAt.Local().Format("Mon Jan 2 15:04"))
		b.WriteString(msg.Body)
		b.WriteString("\n")
	}
	return b.String()
}

// renderTranscript renders the markdown transcript for a terminal of the
// given width. style is a glamour standard style name ("tokyo-night", "notty", ...).
func renderTranscript(title string, messages []conversation.Message, self, style string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(max(width-transcriptGutter, 20)),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}

	out, err := r.Render(transcriptMarkdown(title, messages, self))
	if err != nil {
		return "", fmt.Errorf("render transcript: %w", err)
	}
	return out, nil
}
