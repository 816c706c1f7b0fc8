// Package telegram adapts the Telegram Bot API webhook format to the
// gateway's canonical channel.Adapter surface, grounded on the teacher's
// telegram adapter (internal/channel/adapters/telegram) but collapsed to
// one bot-per-Channel instead of a connection-managed bot pool, since
// here a bot's identity is resolved per request from its stored
// credentials rather than held open as a long-polling connection.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memoh-platform/convoy/internal/channel"
	"github.com/memoh-platform/convoy/internal/domain"
)

const (
	sendTimeout     = 10 * time.Second
	credBotToken    = "bot_token"
	secretTokenHdr  = "X-Telegram-Bot-Api-Secret-Token"
	maxMessageRunes = 4096
)

// Adapter dispatches one bot per registered token, matching the teacher's
// pattern of caching *tgbotapi.BotAPI instances keyed by token rather than
// re-authenticating on every Send.
type Adapter struct {
	mu   sync.RWMutex
	bots map[string]*tgbotapi.BotAPI
}

func New() *Adapter {
	return &Adapter{bots: make(map[string]*tgbotapi.BotAPI)}
}

func (a *Adapter) Name() string                   { return "telegram" }
func (a *Adapter) ChannelType() domain.ChannelType { return domain.ChannelTelegram }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	return nil
}

// VerifyHandshake is a no-op: Telegram has no GET-based subscription
// challenge. Webhook registration happens out-of-band via setWebhook.
func (a *Adapter) VerifyHandshake(query map[string]string, verifyTokens []string) channel.Handshake {
	return channel.Handshake{OK: false}
}

// ResolveAccountID reads the bot identity from the per-bot secret token
// Telegram echoes back on X-Telegram-Bot-Api-Secret-Token when the webhook
// was registered with that option, since the update body itself carries
// no field naming the destination bot.
func (a *Adapter) ResolveAccountID(headers http.Header, body []byte) (string, error) {
	token := headers.Get(secretTokenHdr)
	if token == "" {
		return "", fmt.Errorf("telegram webhook: missing %s header", secretTokenHdr)
	}
	return token, nil
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int    `json:"message_id"`
		Date      int64  `json:"date"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

func (a *Adapter) Normalize(_ context.Context, _ domain.Channel, body []byte) (channel.NormalizedInbound, error) {
	var update telegramUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return channel.NormalizedInbound{}, fmt.Errorf("decode telegram update: %w", err)
	}
	if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
		return channel.NormalizedInbound{}, fmt.Errorf("telegram update: no text message")
	}
	return channel.NormalizedInbound{
		EventID:    strconv.FormatInt(update.UpdateID, 10),
		SenderID:   strconv.FormatInt(update.Message.Chat.ID, 10),
		Text:       strings.TrimSpace(update.Message.Text),
		OccurredAt: time.Unix(update.Message.Date, 0).UTC(),
	}, nil
}

func (a *Adapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	a.bots[token] = bot
	return bot, nil
}

func (a *Adapter) Send(ctx context.Context, ch domain.Channel, rec channel.OutboundRecord) error {
	botToken, _ := ch.Credentials[credBotToken].(string)
	if botToken == "" {
		return fmt.Errorf("telegram channel %s missing %s credential", ch.ChannelID, credBotToken)
	}
	bot, err := a.getOrCreateBot(botToken)
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(rec.ExternalSenderID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target must be a numeric chat id: %w", err)
	}
	text := truncate(rec.Content, maxMessageRunes)
	msg := tgbotapi.NewMessage(chatID, text)
	_, err = bot.Send(msg)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func truncate(text string, limitRunes int) string {
	runes := []rune(text)
	if len(runes) <= limitRunes {
		return text
	}
	return string(runes[:limitRunes])
}
