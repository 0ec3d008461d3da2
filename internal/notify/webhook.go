package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultResendBaseURL = "https://api.resend.com"

// PushcutSink posts {"text": ...} to a Pushcut notification webhook.
type PushcutSink struct {
	url  string
	http *http.Client
}

// NewPushcutSink returns a sink for the given webhook URL.
func NewPushcutSink(url string) *PushcutSink {
	return &PushcutSink{url: url, http: &http.Client{Timeout: 10 * time.Second}}
}

func (s *PushcutSink) Name() string { return "pushcut" }

func (s *PushcutSink) Send(ctx context.Context, evt Event) error {
	return postJSON(ctx, s.http, s.url, "", map[string]string{"text": evt.Text()})
}

// ResendSink e-mails new orders to the operator through the Resend API.
type ResendSink struct {
	baseURL string
	apiKey  string
	from    string
	to      string
	http    *http.Client
}

// ResendConfig configures the e-mail sink.
type ResendConfig struct {
	BaseURL string
	APIKey  string
	From    string
	To      string
}

// NewResendSink builds an e-mail sink. It only handles order.created events.
func NewResendSink(cfg ResendConfig) (*ResendSink, error) {
	if cfg.APIKey == "" || cfg.To == "" {
		return nil, errors.New("resend api key and recipient are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultResendBaseURL
	}
	return &ResendSink{
		baseURL: base,
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		to:      cfg.To,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *ResendSink) Name() string { return "resend" }

func (s *ResendSink) Send(ctx context.Context, evt Event) error {
	if evt.Kind != KindOrderCreated || evt.Order == nil {
		return nil
	}
	body, err := renderOrderEmail(evt.Order)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"from":    s.from,
		"to":      []string{s.to},
		"subject": fmt.Sprintf("🛒 Novo Pedido #%s - %s", ShortID(evt.Order.OrderID), orNA(evt.Order.ServiceName)),
		"html":    body,
	}
	return postJSON(ctx, s.http, s.baseURL+"/emails", s.apiKey, payload)
}

var orderEmail = template.Must(template.New("order").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h2 style="color: #7c3aed;">🛒 Novo Pedido Recebido</h2>
  <table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
    <tr><td><b>ID do Pedido</b></td><td>#{{.ShortID}}</td></tr>
    <tr><td><b>Cliente</b></td><td>{{.Customer}} ({{.Phone}})</td></tr>
    <tr><td><b>Serviço</b></td><td>{{.Service}} ({{.Platform}})</td></tr>
    <tr><td><b>Quantidade</b></td><td>{{.Quantity}}</td></tr>
    <tr><td><b>Valor</b></td><td style="color: #059669;"><b>{{.Total}} MZN</b></td></tr>
    <tr><td><b>Link</b></td><td><a href="{{.Link}}">{{.Link}}</a></td></tr>
  </table>
  <p style="color: #6b7280; font-size: 14px;">Aceda ao painel admin para processar este pedido.</p>
</div>`))

func renderOrderEmail(o *OrderDetails) (string, error) {
	var buf bytes.Buffer
	err := orderEmail.Execute(&buf, map[string]any{
		"ShortID":  ShortID(o.OrderID),
		"Customer": orNA(o.CustomerName),
		"Phone":    orNA(o.CustomerPhone),
		"Service":  orNA(o.ServiceName),
		"Platform": orNA(o.Platform),
		"Quantity": o.Quantity,
		"Total":    o.Total.StringFixed(2),
		"Link":     o.Link,
	})
	if err != nil {
		return "", fmt.Errorf("render order email: %w", err)
	}
	return buf.String(), nil
}

func postJSON(ctx context.Context, client *http.Client, url, bearer string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("unexpected status=%d body=%s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
