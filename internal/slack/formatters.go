// Package slack provides Slack message formatting utilities.
package slack

import (
	"fmt"
)

// threadNameLimit is the number of prompt characters kept in a thread name.
const threadNameLimit = 20

// FormatBold wraps text in bold markers.
func FormatBold(text string) string {
	return fmt.Sprintf("*%s*", text)
}

// FormatError formats an error message for display.
func FormatError(err error) string {
	return fmt.Sprintf(":x: *Error:* Sorry, I encountered an error: %s", err.Error())
}

// TruncateText keeps the first maxLen characters of text, adding an ellipsis when
// anything was cut.
func TruncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

// ThreadName derives a thread name from an edit prompt.
func ThreadName(prompt string) string {
	return TruncateText(prompt, threadNameLimit)
}

// ThreadTitle is the header posted when a thread is opened for an edit request.
func ThreadTitle(prompt string) string {
	return "Image Edit: " + ThreadName(prompt)
}
