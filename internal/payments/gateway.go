package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// Gateway talks to the payment provider over HTTP. Network failures and 5xx
// responses are transient; 4xx means the provider rejected the operation.
type Gateway struct {
	baseURL string
	client  *http.Client
}

func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *Gateway) Capture(ctx context.Context, gigID string, amountPence int64) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"gig_id":       gigID,
		"amount_pence": amountPence,
		"currency":     "GBP",
	})
	var resp struct {
		PaymentRef string `json:"payment_ref"`
	}
	if err := g.post(ctx, "/v1/captures", body, &resp); err != nil {
		return "", err
	}
	if resp.PaymentRef == "" {
		return "", errors.New("capture response missing payment_ref")
	}
	return resp.PaymentRef, nil
}

func (g *Gateway) Release(ctx context.Context, paymentRef string) error {
	body, _ := json.Marshal(map[string]string{"payment_ref": paymentRef})
	return g.post(ctx, "/v1/releases", body, nil)
}

func (g *Gateway) Refund(ctx context.Context, paymentRef string) error {
	body, _ := json.Marshal(map[string]string{"payment_ref": paymentRef})
	return g.post(ctx, "/v1/refunds", body, nil)
}

func (g *Gateway) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 500:
		return Transient(errors.Newf("provider returned %d", res.StatusCode))
	case res.StatusCode >= 400:
		return errors.Newf("provider rejected %s with %d", path, res.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
