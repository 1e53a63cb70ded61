// Package telegram sends notification text through the Telegram Bot API.
package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	tele "gopkg.in/telebot.v4"

	kit "jobvisor/internal/transport"
	logx "jobvisor/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint.
	APIURL string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// Sender is a send-only Telegram client. It never polls for updates.
type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  newHTTPClient(timeout),
	})
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{bot: b, log: log}, nil
}

// SendText sends text, split into chunks under the API limit. The returned
// reference points at the first chunk.
func (s *Sender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, errors.Wrapf(err, "telegram send to %s", to)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	s.log.Debug("telegram message sent", logx.String("to", to.String()), logx.Int("chunks", len(chunks)))
	return first, nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries in the last two thirds of a window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
