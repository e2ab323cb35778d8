package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BraintreeClient implements VaultClient over Braintree's GraphQL API.
type BraintreeClient struct {
	baseURL    string
	merchantID string
	authHeader string
	http       *http.Client
}

func NewBraintreeClient(baseURL, merchantID, publicKey, privateKey string) *BraintreeClient {
	creds := base64.StdEncoding.EncodeToString([]byte(publicKey + ":" + privateKey))
	return &BraintreeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		merchantID: merchantID,
		authHeader: "Basic " + creds,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

const findPaymentMethodQuery = `
query ($id: ID!) {
  node(id: $id) {
    ... on CreditCardDetails {
      brandCode
      last4
      bin { countryOfIssuance }
    }
  }
}`

func (c *BraintreeClient) FindPaymentMethod(ctx context.Context, token string) (*VaultPaymentMethod, error) {
	var data struct {
		Node struct {
			BrandCode string `json:"brandCode"`
			Last4     string `json:"last4"`
			Bin       struct {
				CountryOfIssuance string `json:"countryOfIssuance"`
			} `json:"bin"`
		} `json:"node"`
	}
	err := c.query(ctx, findPaymentMethodQuery, map[string]any{"id": token}, &data)
	if err != nil {
		return nil, err
	}

	return &VaultPaymentMethod{
		CardType:          data.Node.BrandCode,
		Last4:             data.Node.Last4,
		CountryOfIssuance: data.Node.Bin.CountryOfIssuance,
	}, nil
}

const chargeMutation = `
mutation ($input: ChargePaymentMethodInput!) {
  chargePaymentMethod(input: $input) {
    transaction {
      id
      status
      processorResponse { legacyCode message }
      riskData { decision }
    }
  }
}`

func (c *BraintreeClient) Sale(ctx context.Context, params VaultSaleParams) (*VaultSale, error) {
	input := map[string]any{
		"paymentMethodId": params.Token,
		"transaction": map[string]any{
			"amount":            formatCents(params.AmountCents),
			"merchantAccountId": params.MerchantAccountID,
			"orderId":           params.Description,
		},
	}
	if params.OffSession {
		input["transaction"].(map[string]any)["recurring"] = true
	}

	var data struct {
		ChargePaymentMethod struct {
			Transaction braintreeTransaction `json:"transaction"`
		} `json:"chargePaymentMethod"`
	}
	err := c.query(ctx, chargeMutation, map[string]any{"input": input}, &data)
	if err != nil {
		return nil, err
	}

	return data.ChargePaymentMethod.Transaction.sale(), nil
}

const transactionQuery = `
query ($id: ID!) {
  node(id: $id) {
    ... on Transaction {
      id
      status
      processorResponse { legacyCode message }
    }
  }
}`

func (c *BraintreeClient) Transaction(ctx context.Context, id string) (*VaultSale, error) {
	var data struct {
		Node braintreeTransaction `json:"node"`
	}
	err := c.query(ctx, transactionQuery, map[string]any{"id": id}, &data)
	if err != nil {
		return nil, err
	}
	return data.Node.sale(), nil
}

const vaultMutation = `
mutation ($input: VaultPaymentMethodInput!) {
  vaultPaymentMethod(input: $input) {
    paymentMethod { id }
  }
}`

func (c *BraintreeClient) VaultToken(ctx context.Context, token, owner string) (string, error) {
	input := map[string]any{
		"paymentMethodId": token,
		"customerId":      owner,
	}

	var data struct {
		VaultPaymentMethod struct {
			PaymentMethod struct {
				ID string `json:"id"`
			} `json:"paymentMethod"`
		} `json:"vaultPaymentMethod"`
	}
	err := c.query(ctx, vaultMutation, map[string]any{"input": input}, &data)
	if err != nil {
		return "", err
	}
	return data.VaultPaymentMethod.PaymentMethod.ID, nil
}

type braintreeTransaction struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ProcessorResponse struct {
		LegacyCode string `json:"legacyCode"`
		Message    string `json:"message"`
	} `json:"processorResponse"`
	RiskData struct {
		Decision string `json:"decision"`
	} `json:"riskData"`
}

// sale maps the processor's transaction statuses onto the vault sale
// contract.
func (t braintreeTransaction) sale() *VaultSale {
	sale := &VaultSale{
		TransactionID:   t.ID,
		ResponseCode:    t.ProcessorResponse.LegacyCode,
		ResponseMessage: t.ProcessorResponse.Message,
	}

	switch t.Status {
	case "AUTHORIZED", "SUBMITTED_FOR_SETTLEMENT", "SETTLING", "SETTLED":
		sale.Status = VaultSaleAuthorized
	case "AUTHENTICATION_REQUIRED":
		sale.Status = VaultSaleRequires3DS
		sale.ChallengeToken = t.ID
	default:
		sale.Status = VaultSaleDeclined
	}

	return sale
}

func (c *BraintreeClient) query(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Braintree-Version", "2024-01-01")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("braintree graphql: %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("braintree graphql: %s", envelope.Errors[0].Message)
	}

	return json.Unmarshal(envelope.Data, out)
}

// formatCents renders an amount in cents as a decimal string, the format
// the processor expects.
func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
