// Package intent classifies an incoming chat message into one of a fixed
// set of intents. Classification is deterministic keyword/pattern matching
// with a fixed precedence order; it never errors.
package intent

import (
	"regexp"
	"strings"

	"github.com/carelens/edrisk/internal/extract"
)

// Intent is the routed purpose of one message.
type Intent string

const (
	Reset    Intent = "reset"
	Greeting Intent = "greeting"
	Help     Intent = "help"
	Assess   Intent = "assess"
	Update   Intent = "update"
	Ask      Intent = "ask"
	Unknown  Intent = "unknown"
)

// assessFieldThreshold is how many distinct clinical fields a message must
// carry to imply an assessment request without an explicit trigger word.
const assessFieldThreshold = 2

var (
	reReset    = regexp.MustCompile(`(?i)\b(new patient|reset|clear|start over)\b`)
	reGreeting = regexp.MustCompile(`(?i)^(hi|hello|hey|greetings|good (morning|afternoon|evening))[\s!.]*$`)
	reHelpOnly = regexp.MustCompile(`(?i)^help[\s!.?]*$`)
	reHelpAlt  = regexp.MustCompile(`(?i)\bwhat can you do\b|\bcommands\b|\bhow do i use\b`)
	reQuestion = regexp.MustCompile(`(?i)^(what|why|how|when|where|who|which|tell me|explain|describe)\b`)
	reAssess   = regexp.MustCompile(`(?i)\b(assess|assessment|predict|evaluate|risk|score)\b`)
	reUpdate   = regexp.MustCompile(`(?i)\b(actually|change|update|correct|set)\b.*\b(to|is|=)\b`)
)

// Classify routes a message. Precedence: reset > greeting > help > assess >
// update > ask > unknown. A question-shaped message is never treated as an
// assessment request on trigger words alone; it still classifies as assess
// when it carries enough clinical content.
func Classify(message string) Intent {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Help
	}

	if reReset.MatchString(msg) {
		return Reset
	}
	if reGreeting.MatchString(msg) {
		return Greeting
	}
	if reHelpOnly.MatchString(msg) || reHelpAlt.MatchString(msg) {
		return Help
	}

	question := reQuestion.MatchString(msg) || strings.HasSuffix(msg, "?")
	st, _ := extract.Extract(msg)
	fields := st.FieldCount()

	if fields >= assessFieldThreshold || (reAssess.MatchString(msg) && !question) {
		return Assess
	}
	// A question mentioning a single condition ("tell me about COPD") is a
	// knowledge-base lookup, not a state update.
	if question {
		return Ask
	}
	if fields > 0 || reUpdate.MatchString(msg) {
		return Update
	}
	return Unknown
}
