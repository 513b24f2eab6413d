// Package prompts holds the fixed prompt text reeve works with: the
// base persona and the strings the loop and sanitizer inject.
package prompts

// RespondInTextDirective is appended as a user-role message when the
// model has gone several rounds calling tools without saying anything.
// It forces a plain-language answer before any further tool use.
const RespondInTextDirective = "You have been calling tools for several rounds without replying. Respond to the user in plain text now, summarizing what you found, before calling any more tools."

// StuckInLoopMessage is the user-facing reply when the model requests
// the same tool past its per-turn cap.
const StuckInLoopMessage = "I seem to be stuck repeating the same tool call, so I stopped. Please try rephrasing your request."

// RoundLimitMessage is the user-facing reply when the round limit is
// reached and no assistant text exists to return instead.
const RoundLimitMessage = "I hit my tool-use limit before I could finish that. Please try again, or break the request into smaller steps."

// EmptyResponseFallback is the user-facing reply when the model ends a
// turn with no content at all.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// ToolUsePlaceholder stands in for an assistant message that carried
// only tool calls when old history is replayed to a fresh provider.
const ToolUsePlaceholder = "I used tools to help with this."

// ProviderFailedMessage is the user-facing reply when the active
// provider failed and no fallback recovered. The detail names the
// underlying failure so the user can tell rate limiting from an
// outage.
func ProviderFailedMessage(detail string) string {
	return "I couldn't get a response from my language model: " + detail
}

// ReminderFiredPrompt is the synthetic user message a due reminder
// runs through the loop. The model rephrases the reminder in its own
// voice instead of the user receiving raw stored text.
func ReminderFiredPrompt(message string) string {
	return "Reminder fired: " + message + "\n\n" +
		"Relay this reminder to the user in your own words. Keep it short. " +
		"Do not mention that this message came from the scheduler."
}
