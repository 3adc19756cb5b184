// Package compose post-processes specialist replies before they reach the
// caller: it pulls out the embedded intent marker and makes sure the reply
// greets the caller by name.
package compose

import (
	"fmt"
	"strings"
)

// DefaultIntent is reported when a reply carries no intent marker.
const DefaultIntent = "general_inquiry"

// Caller is the display identity a reply is personalized for.
type Caller struct {
	Name string
	Role string
}

// Result is a composed reply.
type Result struct {
	Text   string
	Intent string
}

// Compose strips intent markers from text, records the first one, and
// prepends a greeting when the caller's name does not already appear.
func Compose(text string, caller Caller) Result {
	intent, stripped := ParseIntent(text)
	return Result{
		Text:   Greet(stripped, caller),
		Intent: intent,
	}
}

// Greet prepends "Xin chào {name} ({role})," unless text already mentions
// the name. An empty name leaves text unchanged.
func Greet(text string, caller Caller) string {
	name := strings.TrimSpace(caller.Name)
	if name == "" {
		return text
	}
	if strings.Contains(strings.ToLower(text), strings.ToLower(name)) {
		return text
	}
	role := strings.TrimSpace(caller.Role)
	if role == "" {
		return fmt.Sprintf("Xin chào %s,\n\n%s", name, text)
	}
	return fmt.Sprintf("Xin chào %s (%s),\n\n%s", name, role, text)
}
