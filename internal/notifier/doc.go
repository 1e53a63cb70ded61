// Package notifier delivers task failure messages to operator channels.
//
// A message is a subject plus a short plain-text body. The service hands it to
// every enabled Channel in turn; a failing channel never blocks the others and
// never propagates back into the task that triggered it.
//
// # Channels
//
// Email goes out over SMTP (STARTTLS when offered). Messaging has two modes:
// "telegram" uses the Bot API through internal/transport/telegram and
// "companion" hands the text to a local helper process.
//
// # Pacing
//
// Sends share one token bucket so a burst of failing tasks cannot flood a
// channel. Each attempt is bounded by the configured send timeout.
package notifier
