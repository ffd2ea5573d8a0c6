package payment

import (
	"fmt"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
)

// CheckoutRequest describes a hosted-checkout transaction to create.
type CheckoutRequest struct {
	OrderID       string
	GrossAmount   int64
	ItemID        string
	ItemName      string
	CustomerName  string
	CustomerEmail string
	FinishURL     string
}

// Checkout is the result of a created hosted-checkout transaction.
type Checkout struct {
	Token       string
	RedirectURL string
}

// Gateway creates hosted-checkout transactions with the payment provider.
type Gateway interface {
	CreateCheckout(req CheckoutRequest) (*Checkout, error)
}

// MidtransGateway implements Gateway on top of the Midtrans Snap API.
type MidtransGateway struct {
	client snap.Client
}

// NewMidtransGateway configures a Snap client for the given environment.
func NewMidtransGateway(serverKey string, production bool) *MidtransGateway {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	g := &MidtransGateway{}
	g.client.New(serverKey, env)
	return g
}

// CreateCheckout creates a Snap transaction and returns its token and redirect URL.
func (g *MidtransGateway) CreateCheckout(req CheckoutRequest) (*Checkout, error) {
	if req.GrossAmount <= 0 {
		return nil, fmt.Errorf("gross amount must be positive")
	}
	if req.OrderID == "" {
		return nil, fmt.Errorf("order id is required")
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.GrossAmount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.CustomerName,
			Email: req.CustomerEmail,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:       req.ItemID,
				Price:    req.GrossAmount,
				Qty:      1,
				Name:     truncate(req.ItemName, 50),
				Category: "course",
			},
		},
		CreditCard: &snap.CreditCardDetails{Secure: true},
	}
	if req.FinishURL != "" {
		snapReq.Callbacks = &snap.Callbacks{Finish: req.FinishURL}
	}

	resp, err := g.client.CreateTransaction(snapReq)
	if err != nil {
		return nil, fmt.Errorf("create snap transaction: %w", err)
	}
	return &Checkout{Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
