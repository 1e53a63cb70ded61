package transport

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ChatTarget addresses a chat, optionally a forum thread inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return strconv.FormatInt(t.ChatID, 10) + ":" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget accepts "chat" or "chat:thread".
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	chat, thread, hasThread := strings.Cut(s, ":")
	id, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, errors.Newf("invalid chat target %q", s)
	}
	out := ChatTarget{ChatID: id}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || tid < 0 {
			return ChatTarget{}, errors.Newf("invalid thread in target %q", s)
		}
		out.ThreadID = tid
	}
	return out, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// TextSender delivers plain text to a chat.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
