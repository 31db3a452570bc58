package push

import "fmt"

// FormatPost renders a post as KMarkdown: bold title above the
// blockquoted link. ok is false when the post has no link and therefore
// nothing to deliver. A missing title falls back to the link so the
// message never starts with empty bold markers.
func FormatPost(title, link string) (content string, ok bool) {
	if link == "" {
		return "", false
	}
	if title == "" {
		title = link
	}
	return fmt.Sprintf("**%s**\n> %s", title, link), true
}
