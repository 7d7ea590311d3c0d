package commerce

import (
	"testing"
)

func strptr(s string) *string { return &s }

func TestNormalizeOrderAmounts(t *testing.T) {
	node := orderNode{
		ID:        "gid://shop/Order/123",
		Name:      "#1001",
		CreatedAt: "2026-08-10T12:30:00Z",
		UpdatedAt: "2026-08-11T08:00:00Z",
	}
	node.CurrentTotalPriceSet = &moneySet{}
	node.CurrentTotalPriceSet.ShopMoney.Amount = "90.00"
	node.CurrentTotalPriceSet.ShopMoney.CurrencyCode = "EUR"
	node.TotalPriceSet = &moneySet{}
	node.TotalPriceSet.ShopMoney.Amount = "100.00"
	node.TotalRefundedSet = &moneySet{}
	node.TotalRefundedSet.ShopMoney.Amount = "10.00"

	o := NormalizeOrder(node, nil, "USD")

	if o.Gross != 90 {
		t.Errorf("gross: current total should win, got %v", o.Gross)
	}
	if o.Net != 80 {
		t.Errorf("net: expected 80, got %v", o.Net)
	}
	if o.RefundTotal != 10 {
		t.Errorf("refund_total: expected 10, got %v", o.RefundTotal)
	}
	if o.Currency != "EUR" {
		t.Errorf("currency: expected EUR, got %q", o.Currency)
	}
	if o.OrderDate != "2026-08-10" {
		t.Errorf("order_date: expected 2026-08-10, got %q", o.OrderDate)
	}
}

func TestNormalizeOrderFallsBackToTotal(t *testing.T) {
	node := orderNode{ID: "gid://shop/Order/1", Name: "#1", CreatedAt: "2026-01-01T00:00:00Z"}
	node.TotalPriceSet = &moneySet{}
	node.TotalPriceSet.ShopMoney.Amount = "42.50"

	o := NormalizeOrder(node, nil, "USD")
	if o.Gross != 42.5 {
		t.Errorf("expected total fallback 42.5, got %v", o.Gross)
	}
	if o.Currency != "USD" {
		t.Errorf("expected shop currency fallback, got %q", o.Currency)
	}
}

func TestNormalizeOrderNetNeverNegative(t *testing.T) {
	node := orderNode{ID: "gid://shop/Order/2", Name: "#2", CreatedAt: "2026-01-01T00:00:00Z"}
	node.TotalPriceSet = &moneySet{}
	node.TotalPriceSet.ShopMoney.Amount = "10.00"
	node.TotalRefundedSet = &moneySet{}
	node.TotalRefundedSet.ShopMoney.Amount = "25.00"

	o := NormalizeOrder(node, nil, "USD")
	if o.Net != 0 {
		t.Errorf("net must clamp at 0, got %v", o.Net)
	}
	if o.RefundTotal != 25 {
		t.Errorf("refund_total: expected 25, got %v", o.RefundTotal)
	}
}

func TestOrderStatus(t *testing.T) {
	cases := []struct {
		financial, fulfilment *string
		want                  string
		wantNil               bool
	}{
		{strptr("PAID"), strptr("FULFILLED"), "paid / fulfilled", false},
		{strptr("PAID"), nil, "paid", false},
		{nil, strptr("UNFULFILLED"), "unfulfilled", false},
		{nil, nil, "", true},
	}
	for _, c := range cases {
		got := orderStatus(c.financial, c.fulfilment)
		if c.wantNil {
			if got != nil {
				t.Errorf("expected nil status, got %q", *got)
			}
			continue
		}
		if got == nil || *got != c.want {
			t.Errorf("expected %q, got %v", c.want, got)
		}
	}
}

func TestOrderName(t *testing.T) {
	if got := orderName(orderNode{Name: "#1001"}); got != "#1001" {
		t.Errorf("expected source name, got %q", got)
	}
	if got := orderName(orderNode{OrderNumber: 55}); got != "#55" {
		t.Errorf("expected #order_number fallback, got %q", got)
	}
	if got := orderName(orderNode{ID: "gid://shop/Order/987"}); got != "order_987" {
		t.Errorf("expected synthetic name, got %q", got)
	}
}
