package brain

import (
	"errors"

	"basegraph.app/parley/common/llm"
)

// User-facing replies for failed turns.
const (
	MsgServersBusy = "Sorry, the AI servers are busy right now. Please try again in a moment."
	MsgRateLimited = "Sorry, I'm being rate limited at the moment. Please wait a little before asking again."
	MsgUnexpected  = "Sorry, I got an unexpected response from the AI. Please try again."
	MsgGeneric     = "Sorry, something went wrong while I was working on that."
)

// UserMessageFor turns a failed turn's error into the short apology posted to the channel.
func UserMessageFor(err error) string {
	if errors.Is(err, ErrRetriesExhausted) {
		return MsgServersBusy
	}

	switch llm.Classify(err) {
	case llm.ClassTransient:
		return MsgServersBusy
	case llm.ClassRateLimited:
		return MsgRateLimited
	case llm.ClassUnexpected:
		return MsgUnexpected
	default:
		return MsgGeneric
	}
}
