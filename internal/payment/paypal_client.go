package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PayPalClient implements WalletClient over PayPal's REST API.
type PayPalClient struct {
	baseURL  string
	clientID string
	secret   string
	http     *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalClient(baseURL, clientID, secret string) *PayPalClient {
	return &PayPalClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *PayPalClient) Authorization(ctx context.Context, token string) (*WalletAuthorization, error) {
	var body struct {
		Status string `json:"status"`
		Payer  struct {
			EmailAddress string `json:"email_address"`
		} `json:"payer"`
	}
	err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+token, nil, &body)
	if err != nil {
		return nil, err
	}

	return &WalletAuthorization{
		PayerEmail: body.Payer.EmailAddress,
		Valid:      body.Status == "APPROVED" || body.Status == "COMPLETED",
	}, nil
}

func (c *PayPalClient) Capture(ctx context.Context, params WalletCaptureParams) (*WalletCapture, error) {
	req := map[string]any{
		"payment_instruction": map[string]any{
			"disbursement_mode": "INSTANT",
		},
	}
	if params.MerchantID != "" {
		req["payment_instruction"].(map[string]any)["payee"] = map[string]string{
			"merchant_id": params.MerchantID,
		}
	}

	var body struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
		Details []struct {
			Issue       string `json:"issue"`
			Description string `json:"description"`
		} `json:"details"`
	}
	err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+params.Token+"/capture", req, &body)
	if err != nil {
		return nil, err
	}

	capture := &WalletCapture{Completed: body.Status == "COMPLETED"}
	for _, unit := range body.PurchaseUnits {
		for _, c := range unit.Payments.Captures {
			capture.CaptureID = c.ID
		}
	}
	if !capture.Completed && len(body.Details) > 0 {
		capture.DeclineCode = strings.ToLower(body.Details[0].Issue)
		capture.DeclineMessage = body.Details[0].Description
	}

	return capture, nil
}

func (c *PayPalClient) BillingAgreement(ctx context.Context, token, owner string) (string, error) {
	req := map[string]any{
		"token_id": token,
		"customer": map[string]string{"id": owner},
	}

	var body struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v3/vault/payment-tokens", req, &body)
	if err != nil {
		return "", err
	}
	return body.ID, nil
}

// do issues one authenticated request, refreshing the OAuth token as
// needed. Non-2xx responses surface as errors carrying the response body.
func (c *PayPalClient) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reqBody *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var detail struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		return fmt.Errorf("paypal %s %s: %d %s %s", method, path, resp.StatusCode, detail.Name, detail.Message)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal oauth: %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	c.accessToken = body.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}
