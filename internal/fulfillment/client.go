// Package fulfillment предоставляет клиент для внешней системы доставки товаров.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ekorolkova/fanpoints/internal/model"
)

// ErrDeliveryFailed возвращается, когда доставку не удалось подтвердить.
// Списание при этом уже состоялось; повторная доставка по идентификатору
// покупки идемпотентна и никогда не списывает средства повторно.
var ErrDeliveryFailed = errors.New("fulfillment delivery failed")

// Client инкапсулирует HTTP-взаимодействие с системой доставки.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// deliveryRequest — тело запроса доставки. Ключ идемпотентности — purchase_id.
type deliveryRequest struct {
	PurchaseID string `json:"purchase_id"`
	UserID     int64  `json:"user_id"`
	ProductID  string `json:"product_id"`
	Descriptor string `json:"descriptor"`
}

// NewClient создаёт HTTP-клиент доставки по указанному адресу.
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: c,
	}
}

// Deliver передаёт дескриптор покупки системе доставки.
// Статус 409 означает, что доставка уже была выполнена ранее, и считается успехом.
func (c *Client) Deliver(ctx context.Context, p model.Purchase) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("%w: client not configured", ErrDeliveryFailed)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(deliveryRequest{
		PurchaseID: p.ID.String(),
		UserID:     p.UserID,
		ProductID:  p.ProductID,
		Descriptor: p.Fulfillment,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery request: %w", err)
	}

	url := fmt.Sprintf("%s/api/fulfillments", base)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusConflict:
		// Покупка уже доставлена — повтор безвреден.
		return nil
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrDeliveryFailed, resp.StatusCode)
	}
}
