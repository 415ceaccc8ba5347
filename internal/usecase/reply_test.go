package usecase

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/ratelimit"
	"relaybot/internal/validate"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text   string
		name   string
		routed bool
	}{
		{"!ping", "ping", true},
		{"!CLEAR now", "clear", true},
		{"!", "", true},
		{"! help", "help", true},
		{"hello !ping", "", false},
		{"ping", "", false},
	}
	for _, tc := range cases {
		name, ok := ParseCommand(tc.text, "!")
		require.Equal(t, tc.routed, ok, "text=%q", tc.text)
		require.Equal(t, tc.name, name, "text=%q", tc.text)
	}

	_, ok := ParseCommand("!ping", "")
	require.False(t, ok)
}

func TestReplyText(t *testing.T) {
	tooFrequent := &ratelimit.LimitError{Kind: ratelimit.ErrTooFrequent, RetryAfter: 1500 * time.Millisecond}
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"empty", newError(ErrorValidation, reasonEmptyInput, validate.ErrEmptyInput), "Error: Message cannot be empty."},
		{"too long", newError(ErrorValidation, reasonTooLong, validate.ErrTooLong), "Error: Message is too long."},
		{"unsafe", newError(ErrorValidation, reasonUnsafeContent, validate.ErrUnsafeContent), "Error: Message contains disallowed content."},
		{"invalid user", newError(ErrorValidation, reasonInvalidUser, nil), "Error: Invalid message."},
		{"rate limited", newError(ErrorRateLimited, reasonTooFrequent, tooFrequent), "Please wait 2 seconds before sending another message."},
		{"rate limited no hint", newError(ErrorRateLimited, reasonTooFrequent, nil), "You are sending messages too quickly. Please slow down."},
		{"unavailable", newError(ErrorUpstreamUnavailable, reasonUnavailable, nil), "The AI service is temporarily unavailable. Please try again later."},
		{"rejected", newError(ErrorUpstreamRejected, reasonRejected, nil), "Sorry, the AI service could not process that request."},
		{"unknown command", newError(ErrorUnknownCommand, reasonUnknownCommand, nil), "Unknown command. Try !help."},
		{"internal", PanicError("boom"), "Sorry, something went wrong. Please try again."},
		{"foreign", errors.New("x"), "Sorry, something went wrong. Please try again."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ReplyText(tc.err, "!"))
		})
	}
}

func TestReplyText_NeverEchoesContent(t *testing.T) {
	err := newError(ErrorValidation, reasonUnsafeContent, fmt.Errorf("%w: secret-payload", validate.ErrUnsafeContent))
	require.NotContains(t, ReplyText(err, "!"), "secret-payload")
}

func TestWaitSeconds(t *testing.T) {
	require.Equal(t, 1, waitSeconds(0))
	require.Equal(t, 1, waitSeconds(200*time.Millisecond))
	require.Equal(t, 3, waitSeconds(3*time.Second))
	require.Equal(t, 30, waitSeconds(29*time.Second+time.Millisecond))
}

func TestCodeAndRetryAfter(t *testing.T) {
	le := &ratelimit.LimitError{Kind: ratelimit.ErrWindowExceeded, RetryAfter: 30 * time.Second}
	err := newError(ErrorRateLimited, reasonWindowExceeded, le)

	require.Equal(t, ErrorRateLimited, Code(err))
	d, ok := RetryAfter(err)
	require.True(t, ok)
	require.Equal(t, 30*time.Second, d)

	require.Equal(t, ErrorInternal, Code(errors.New("x")))
	_, ok = RetryAfter(errors.New("x"))
	require.False(t, ok)
}
