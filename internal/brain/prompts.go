package brain

import (
	"fmt"
	"strings"
	"time"

	"basegraph.app/parley/internal/platform"
)

// NoResponseMarker in a follow-up reply means the model chose to stay silent.
const NoResponseMarker = "[NO_RESPONSE]"

// Mode is why a turn was started.
type Mode string

const (
	ModeMention  Mode = "mention"
	ModeFollowUp Mode = "follow_up"
)

const basePrompt = `You are %s, a helpful assistant taking part in a group chat.

Messages from other people are prefixed with their display name. Messages from %s are yours.
Keep answers conversational and to the point. Use Markdown sparingly: the chat renders
bold, italics, inline code and fenced code blocks, but not tables or headings.

You can call tools to search the web, read web pages, read the project's source files and
re-read older channel history. Use them when they help you answer accurately, and say so
when a tool failed instead of guessing.

Current date: %s`

const followUpPrompt = `

# Follow-up

Nobody mentioned you in the latest message. You were part of this conversation a moment ago,
so you may answer, but only when it is clearly useful. The latest message is:

<latest_message author=%q>
%s
</latest_message>

Reply normally if the message:
- asks you something directly, or continues a question you were answering
- responds to something you said and expects an answer
- asks for information you can provide

Reply with exactly %s and nothing else if the message:
- is people talking to each other
- is a reaction, thanks or acknowledgement that needs no answer
- changes the subject to something that does not involve you`

type promptInput struct {
	self      platform.User
	mode      Mode
	latest    platform.Message
	auxiliary *Auxiliary
	now       time.Time
}

func buildSystemPrompt(in promptInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, basePrompt, in.self.Name, in.self.Name, in.now.UTC().Format("Monday, 2 January 2006"))

	if in.auxiliary != nil {
		sb.WriteString("\n\n# Linked page\n\n")
		sb.WriteString("A recent message linked this page. Its text was fetched for you:\n\n")
		fmt.Fprintf(&sb, "<page url=%q title=%q>\n%s\n</page>", in.auxiliary.URL, in.auxiliary.Title, in.auxiliary.Content)
	}

	if in.mode == ModeFollowUp {
		fmt.Fprintf(&sb, followUpPrompt, in.latest.Author.Name, in.latest.Content, NoResponseMarker)
	}

	return sb.String()
}
