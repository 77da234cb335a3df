// Package telegram implements the §12-supplemented Telegram chat
// transport: a concrete Transport backed by github.com/mymmrac/telego,
// adopted from the retrieval pack since the teacher repo has no chat
// transport of its own (its "transport" is a local terminal over stdio).
package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"github.com/classicrob/takopi-go/internal/transport"
)

// Transport bridges the supervisor's Transport contract onto a Telegram
// bot, using long polling (the teacher's deployment model has no public
// HTTPS endpoint to host a webhook on).
type Transport struct {
	bot    *telego.Bot
	logger *zap.Logger

	messages  chan transport.IncomingMessage
	callbacks chan transport.Callback
}

// New constructs a Transport authenticated with token. It does not start
// receiving updates until Run is called. A nil logger is replaced with a
// no-op logger.
func New(token string, logger *zap.Logger) (*Transport, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		bot:       bot,
		logger:    logger,
		messages:  make(chan transport.IncomingMessage, 32),
		callbacks: make(chan transport.Callback, 32),
	}, nil
}

// Run starts the long-polling update loop, translating Telegram updates
// into IncomingMessage/Callback values until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Transport) handleUpdate(update telego.Update) {
	switch {
	case update.Message != nil:
		msg := transport.IncomingMessage{
			Channel: strconv.FormatInt(update.Message.Chat.ID, 10),
			Text:    update.Message.Text,
			UserID:  senderID(update.Message.From),
		}
		t.messages <- msg
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		channel := ""
		if msg, ok := cq.Message.(*telego.Message); ok && msg != nil {
			channel = strconv.FormatInt(msg.Chat.ID, 10)
		}
		cb := transport.Callback{
			Channel: channel,
			Data:    cq.Data,
			UserID:  strconv.FormatInt(cq.From.ID, 10),
		}
		t.callbacks <- cb
		if err := t.bot.AnswerCallbackQuery(context.Background(), tu.CallbackQuery(cq.ID)); err != nil {
			t.logger.Warn("answer callback query", zap.Error(err))
		}
	}
}

func senderID(from *telego.User) string {
	if from == nil {
		return ""
	}
	return strconv.FormatInt(from.ID, 10)
}

func (t *Transport) Send(ctx context.Context, channel, message string, opts transport.Options) (transport.MessageRef, error) {
	chatID, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid channel %q: %w", channel, err)
	}
	params := tu.Message(tu.ID(chatID), message)
	if mode, ok := opts["parse_mode"].(string); ok {
		params = params.WithParseMode(mode)
	}
	sent, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return "", fmt.Errorf("telegram: send message: %w", err)
	}
	return refFor(chatID, sent.MessageID), nil
}

func (t *Transport) Edit(ctx context.Context, ref transport.MessageRef, message string) (transport.MessageRef, error) {
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return ref, err
	}
	params := tu.EditMessageText(tu.ID(chatID), messageID, message)
	if _, err := t.bot.EditMessageText(ctx, params); err != nil {
		return ref, fmt.Errorf("telegram: edit message: %w", err)
	}
	return ref, nil
}

func (t *Transport) Delete(ctx context.Context, ref transport.MessageRef) (bool, error) {
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	if err := t.bot.DeleteMessage(ctx, tu.Delete(tu.ID(chatID), messageID)); err != nil {
		return false, fmt.Errorf("telegram: delete message: %w", err)
	}
	return true, nil
}

func (t *Transport) IncomingMessages() <-chan transport.IncomingMessage { return t.messages }

func (t *Transport) Callbacks() <-chan transport.Callback { return t.callbacks }

func refFor(chatID int64, messageID int) transport.MessageRef {
	return transport.MessageRef(fmt.Sprintf("%d:%d", chatID, messageID))
}

func parseRef(ref transport.MessageRef) (chatID int64, messageID int, err error) {
	var mid int64
	n, err := fmt.Sscanf(string(ref), "%d:%d", &chatID, &mid)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("telegram: malformed message ref %q", ref)
	}
	return chatID, int(mid), nil
}

var _ transport.Transport = (*Transport)(nil)
