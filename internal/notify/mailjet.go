package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"finsim/internal/config"
)

// Mailjet 通过 Mailjet 的 HTTP API 投递邮件通知。
type Mailjet struct {
	cfg    config.NotifyConfig
	client *http.Client
	logger *zap.Logger
}

// NewMailjet 创建 Mailjet 通知器。
func NewMailjet(cfg config.NotifyConfig, logger *zap.Logger) (*Mailjet, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("notify: 缺少 Mailjet API 凭证")
	}
	if cfg.Sender == "" || cfg.Recipient == "" {
		return nil, fmt.Errorf("notify: 必须配置发件人与收件人")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Mailjet{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type mailjetMessage struct {
	From     mailjetAddress   `json:"From"`
	To       []mailjetAddress `json:"To"`
	Subject  string           `json:"Subject"`
	TextPart string           `json:"TextPart"`
}

type mailjetAddress struct {
	Email string `json:"Email"`
}

type mailjetRequest struct {
	Messages []mailjetMessage `json:"Messages"`
}

// Send 投递一封信号摘要邮件。
func (m *Mailjet) Send(ctx context.Context, summary Summary) error {
	payload := mailjetRequest{
		Messages: []mailjetMessage{{
			From:     mailjetAddress{Email: m.cfg.Sender},
			To:       []mailjetAddress{{Email: m.cfg.Recipient}},
			Subject:  summary.Subject,
			TextPart: summary.Body(),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Err: fmt.Errorf("序列化邮件失败: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v3.1/send", bytes.NewReader(body))
	if err != nil {
		return &Error{Err: fmt.Errorf("构造请求失败: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(m.cfg.APIKey, m.cfg.APISecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode}
	}

	m.logger.Info("通知已发送",
		zap.String("subject", summary.Subject),
		zap.Int("signals", len(summary.Signals)),
	)
	return nil
}
