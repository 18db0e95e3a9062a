package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Telegram delivers plain-text messages to a fixed chat.
type Telegram struct {
	log    *zap.Logger
	client *http.Client
	cfg    Config
}

type Config struct {
	Token   string        `envconfig:"TELEGRAM_TOKEN"`
	ChatID  string        `envconfig:"TELEGRAM_CHAT_ID"`
	BaseURL string        `envconfig:"TELEGRAM_BASE_URL" default:"https://api.telegram.org"`
	Timeout time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"10s"`
}

func NewTelegram(log *zap.Logger, cfg Config) *Telegram {
	return &Telegram{
		log:    log.Named("telegram"),
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

func (t *Telegram) SendText(ctx context.Context, text string) error {
	b := bytes.NewBuffer(nil)
	if err := json.NewEncoder(b).Encode(map[string]string{
		"chat_id": t.cfg.ChatID,
		"text":    text,
	}); err != nil {
		return err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.Token), b)
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("sendMessage: status %d", resp.StatusCode)
	}
	return nil
}
