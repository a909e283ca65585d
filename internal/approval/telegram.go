// Package approval - канал подтверждения возможностей оператором
// через Telegram: сообщение с inline-кнопками, решение по callback.
package approval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"cryptoarb/internal/config"
	"cryptoarb/internal/models"
	"cryptoarb/pkg/utils"
)

// Telegram отправляет оператору карточку возможности с кнопками
// подтверждения и ждёт решения. Одновременно может ожидаться
// несколько возможностей; решения разруливаются по ID в callback data.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *utils.Logger

	mu      sync.Mutex
	pending map[int64]chan bool
	stopCh  chan struct{}
}

// NewTelegram создает Telegram-канал подтверждений
func NewTelegram(cfg config.TelegramConfig, logger *utils.Logger) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.AdminChatID == 0 {
		return nil, fmt.Errorf("telegram approver requires bot token and admin chat id")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	t := &Telegram{
		api:     api,
		chatID:  cfg.AdminChatID,
		logger:  logger.WithComponent("approval"),
		pending: make(map[int64]chan bool),
		stopCh:  make(chan struct{}),
	}
	t.logger.Info("telegram approver connected", zap.String("username", api.Self.UserName))
	return t, nil
}

// Start запускает обработку callback от оператора
func (t *Telegram) Start() {
	go t.listen()
}

// Stop останавливает обработку обновлений
func (t *Telegram) Stop() {
	close(t.stopCh)
}

// Approve отправляет карточку возможности и ждёт решения оператора
// либо отмены контекста. Отмена контекста трактуется как отказ.
func (t *Telegram) Approve(ctx context.Context, d *models.OpportunityDetail) (bool, error) {
	decision := t.register(d.ID)
	defer t.unregister(d.ID)

	msg := tgbotapi.NewMessage(t.chatID, formatOpportunity(d))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Execute", callbackData("approve", d.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Reject", callbackData("reject", d.ID)),
		),
	)
	if _, err := t.api.Send(msg); err != nil {
		return false, fmt.Errorf("send approval request: %w", err)
	}

	select {
	case approved := <-decision:
		return approved, nil
	case <-ctx.Done():
		t.logger.Info("approval timed out", zap.Int64("opportunity_id", d.ID))
		return false, nil
	}
}

// NotifyOpportunity отправляет оператору уведомление без кнопок.
// Используется сканером как канал оповещений.
func (t *Telegram) NotifyOpportunity(d *models.OpportunityDetail) {
	msg := tgbotapi.NewMessage(t.chatID, formatOpportunity(d))
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Warn("failed to send opportunity notification",
			zap.Int64("opportunity_id", d.ID), zap.Error(err))
	}
}

// NotifyTransfer сообщает оператору о переводе, требующем внимания.
// Вызывается роутером переводов для исходов FAILED и UNKNOWN.
func (t *Telegram) NotifyTransfer(tr *models.Transfer) {
	msg := tgbotapi.NewMessage(t.chatID, formatTransfer(tr))
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Warn("failed to send transfer notification",
			zap.Int64("transfer_id", tr.ID), zap.Error(err))
	}
}

func (t *Telegram) listen() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)

	for {
		select {
		case <-t.stopCh:
			t.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery == nil {
				continue
			}
			t.handleCallback(update.CallbackQuery)
		}
	}
}

func (t *Telegram) handleCallback(cb *tgbotapi.CallbackQuery) {
	// Решения принимаются только из admin-чата
	if cb.Message == nil || cb.Message.Chat.ID != t.chatID {
		return
	}

	id, approved, err := parseCallback(cb.Data)
	if err != nil {
		t.logger.Warn("unexpected callback data", zap.String("data", cb.Data))
		return
	}

	if t.resolve(id, approved) {
		verdict := "rejected"
		if approved {
			verdict = "approved"
		}
		t.logger.Info("operator decision received",
			zap.Int64("opportunity_id", id), zap.String("verdict", verdict))

		// Убираем кнопки, чтобы исключить повторные нажатия
		edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
		if _, err := t.api.Request(edit); err != nil {
			t.logger.Warn("failed to clear inline keyboard", zap.Error(err))
		}
	}

	if _, err := t.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		t.logger.Warn("failed to answer callback", zap.Error(err))
	}
}

func (t *Telegram) register(id int64) chan bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan bool, 1)
	t.pending[id] = ch
	return ch
}

func (t *Telegram) unregister(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// resolve передаёт решение ожидающему Approve.
// Возвращает false для неизвестных или уже решённых возможностей.
func (t *Telegram) resolve(id int64, approved bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)
	ch <- approved
	return true
}

func callbackData(verdict string, id int64) string {
	return verdict + ":" + strconv.FormatInt(id, 10)
}

// parseCallback разбирает callback data формата "approve:{id}" / "reject:{id}"
func parseCallback(data string) (int64, bool, error) {
	verdict, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return 0, false, fmt.Errorf("malformed callback data: %q", data)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed opportunity id in callback: %q", data)
	}
	switch verdict {
	case "approve":
		return id, true, nil
	case "reject":
		return id, false, nil
	default:
		return 0, false, fmt.Errorf("unknown verdict in callback: %q", data)
	}
}

// formatOpportunity собирает карточку возможности для оператора
func formatOpportunity(d *models.OpportunityDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Arbitrage opportunity #%d\n", d.ID)
	fmt.Fprintf(&b, "Pair: %s\n", d.MainPair)
	fmt.Fprintf(&b, "Cycle: %s\n", strings.Join(d.Cycle, " -> "))
	fmt.Fprintf(&b, "Expected margin: %.4f%%\n", d.ProfitMargin*100)
	fmt.Fprintf(&b, "Volume: %.2f\n", d.Volume)
	for _, leg := range d.Legs {
		fmt.Fprintf(&b, "  %s %s on %s @ %.8g\n", leg.Side, leg.Pair, leg.Exchange, leg.Price)
	}
	return b.String()
}

// formatTransfer собирает карточку проблемного перевода
func formatTransfer(tr *models.Transfer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transfer #%d needs attention\n", tr.ID)
	fmt.Fprintf(&b, "Route: %s -> %s\n", tr.FromExchange, tr.ToExchange)
	fmt.Fprintf(&b, "Amount: %.8g %s\n", tr.Amount, tr.Currency)
	fmt.Fprintf(&b, "Status: %s\n", tr.Status)
	if tr.TransactionID != "" {
		fmt.Fprintf(&b, "Withdrawal ID: %s\n", tr.TransactionID)
	}
	return b.String()
}
