package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukerupert/saga/internal/domain"
)

// MockChargeable implements Chargeable for testing. Override individual
// Func fields to control behavior; unset fields return benign defaults.
type MockChargeable struct {
	mu      sync.Mutex
	CallLog []string

	PrepareFunc       func(ctx context.Context) error
	ChargeFunc        func(ctx context.Context, params ChargeParams) (*ChargeResult, error)
	ReusableTokenFunc func(ctx context.Context, owner string) (string, error)

	VisualValue          string
	RequiresMandateValue bool
	ProcessorValue       Processor

	// ChargeCalls records the params of every Charge call in order.
	ChargeCalls []ChargeParams
}

func (m *MockChargeable) logCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, method)
}

func (m *MockChargeable) Prepare(ctx context.Context) error {
	m.logCall("Prepare")
	if m.PrepareFunc != nil {
		return m.PrepareFunc(ctx)
	}
	return nil
}

func (m *MockChargeable) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	m.logCall("Charge")
	m.mu.Lock()
	m.ChargeCalls = append(m.ChargeCalls, params)
	n := len(m.ChargeCalls)
	m.mu.Unlock()
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, params)
	}
	return &ChargeResult{
		Status:   ChargeSucceeded,
		ChargeID: fmt.Sprintf("ch_mock_%d", n),
	}, nil
}

func (m *MockChargeable) ReusableToken(ctx context.Context, owner string) (string, error) {
	m.logCall("ReusableToken")
	if m.ReusableTokenFunc != nil {
		return m.ReusableTokenFunc(ctx, owner)
	}
	return "pm_mock_reusable", nil
}

func (m *MockChargeable) Visual() string {
	if m.VisualValue != "" {
		return m.VisualValue
	}
	return "visa ****4242"
}

func (m *MockChargeable) RequiresMandate() bool { return m.RequiresMandateValue }

func (m *MockChargeable) Processor() Processor {
	if m.ProcessorValue != "" {
		return m.ProcessorValue
	}
	return ProcessorStripe
}

// Reset clears the call log and recorded charges.
func (m *MockChargeable) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = nil
	m.ChargeCalls = nil
}

// MockResolver implements CredentialResolver for testing.
type MockResolver struct {
	mu      sync.Mutex
	CallLog []string

	ChargeableForFunc  func(seller *domain.Seller, cred domain.PaymentCredential) (Chargeable, error)
	RetrieveChargeFunc func(ctx context.Context, processor, chargeID, accountID string) (*ChargeResult, error)

	// Default is returned by ChargeableFor when no override is set.
	Default Chargeable
}

func (m *MockResolver) logCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, method)
}

func (m *MockResolver) ChargeableFor(seller *domain.Seller, cred domain.PaymentCredential) (Chargeable, error) {
	m.logCall("ChargeableFor")
	if m.ChargeableForFunc != nil {
		return m.ChargeableForFunc(seller, cred)
	}
	if m.Default != nil {
		return m.Default, nil
	}
	return &MockChargeable{}, nil
}

func (m *MockResolver) RetrieveCharge(ctx context.Context, processor, chargeID, accountID string) (*ChargeResult, error) {
	m.logCall("RetrieveCharge")
	if m.RetrieveChargeFunc != nil {
		return m.RetrieveChargeFunc(ctx, processor, chargeID, accountID)
	}
	return &ChargeResult{Status: ChargeSucceeded, ChargeID: chargeID}, nil
}
