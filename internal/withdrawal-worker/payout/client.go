package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client executa payouts no provedor externo de pagamentos.
// Toda chamada tem timeout limitado: estourou, falhou fechado — o chamador
// decide compensar, nunca fica com estado pela metade
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 8 * time.Second},
	}
}

// Result carrega a referência da transação criada no provedor
type Result struct {
	ProviderRef string
}

type payoutItem struct {
	Address    string `json:"address"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ExternalID string `json:"unique_external_id"`
}

// o provedor devolve a referência ora como número, ora como string
type payoutResponse struct {
	ID       any `json:"id"`
	PayoutID any `json:"payout_id"`
}

func refString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// Send executa o payout de um saque. withdrawalID vai como external_id para
// o provedor deduplicar reenvios após crash do worker
func (c *Client) Send(ctx context.Context, destination, currency string, amount decimal.Decimal, withdrawalID string) (*Result, error) {
	body, _ := json.Marshal(map[string]any{
		"withdrawals": []payoutItem{{
			Address:    destination,
			Amount:     amount.String(),
			Currency:   currency,
			ExternalID: withdrawalID,
		}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payout", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.New("payout provider http " + resp.Status)
	}

	var out payoutResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	ref := refString(out.ID)
	if ref == "" {
		ref = refString(out.PayoutID)
	}
	if ref == "" {
		return nil, errors.New("payout response without transaction reference")
	}
	return &Result{ProviderRef: ref}, nil
}
