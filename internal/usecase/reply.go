package usecase

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	replyPong    = "Pong!"
	replyCleared = "Conversation context cleared!"
)

// ParseCommand reports whether text is addressed to the command handler and,
// if so, the lower-cased command name. A bare prefix yields an empty name.
func ParseCommand(text, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return "", true
	}
	return strings.ToLower(fields[0]), true
}

// ReplyText renders the short user-visible message for an error returned by
// RelayService. It never echoes message content.
func ReplyText(err error, commandPrefix string) string {
	var ue *Error
	if !errors.As(err, &ue) {
		return "Sorry, something went wrong. Please try again."
	}

	switch ue.Code {
	case ErrorValidation:
		switch ue.Reason {
		case reasonEmptyInput:
			return "Error: Message cannot be empty."
		case reasonTooLong:
			return "Error: Message is too long."
		case reasonUnsafeContent:
			return "Error: Message contains disallowed content."
		default:
			return "Error: Invalid message."
		}
	case ErrorRateLimited:
		if d, ok := RetryAfter(err); ok {
			return fmt.Sprintf("Please wait %d seconds before sending another message.", waitSeconds(d))
		}
		return "You are sending messages too quickly. Please slow down."
	case ErrorUpstreamUnavailable:
		return "The AI service is temporarily unavailable. Please try again later."
	case ErrorUpstreamRejected:
		return "Sorry, the AI service could not process that request."
	case ErrorUnknownCommand:
		return fmt.Sprintf("Unknown command. Try %shelp.", commandPrefix)
	default:
		return "Sorry, something went wrong. Please try again."
	}
}

// waitSeconds rounds up so the user is never told to wait too little.
func waitSeconds(d time.Duration) int {
	n := int(math.Ceil(d.Seconds()))
	if n < 1 {
		return 1
	}
	return n
}

func helpText(prefix string, minInterval time.Duration, perMinute int) string {
	var b strings.Builder
	b.WriteString("**Commands:**\n\n")
	b.WriteString("Chat: send a message to talk with the AI\n")
	fmt.Fprintf(&b, "%sping - check that the bot is responding\n", prefix)
	fmt.Fprintf(&b, "%sclear - clear your conversation history\n", prefix)
	fmt.Fprintf(&b, "%shelp - show this message\n", prefix)

	var limits []string
	if minInterval > 0 {
		limits = append(limits, fmt.Sprintf("one message every %d seconds", waitSeconds(minInterval)))
	}
	if perMinute > 0 {
		limits = append(limits, fmt.Sprintf("at most %d per minute", perMinute))
	}
	if len(limits) > 0 {
		fmt.Fprintf(&b, "\nRate limit: %s\n", strings.Join(limits, ", "))
	}
	return b.String()
}
