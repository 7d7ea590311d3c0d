package commerce

import (
	"encoding/json"
	"strconv"
	"strings"

	"commercepulse/internal/models"
)

// moneySet mirrors the priceSet shape: we only read shopMoney.
type moneySet struct {
	ShopMoney struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"shopMoney"`
}

// orderNode is the GraphQL order shape this client requests.
type orderNode struct {
	ID                       string    `json:"id"`
	Name                     string    `json:"name"`
	OrderNumber              int64     `json:"orderNumber"`
	CreatedAt                string    `json:"createdAt"`
	UpdatedAt                string    `json:"updatedAt"`
	DisplayFinancialStatus   *string   `json:"displayFinancialStatus"`
	DisplayFulfillmentStatus *string   `json:"displayFulfillmentStatus"`
	CurrentTotalPriceSet     *moneySet `json:"currentTotalPriceSet"`
	TotalPriceSet            *moneySet `json:"totalPriceSet"`
	TotalRefundedSet         *moneySet `json:"totalRefundedSet"`
}

// NormalizeOrder turns a raw order node into a fact row.
//
// gross = current total when present, else original total.
// net   = max(gross - refunds, 0); refunds default to 0.
// currency falls back to the shop currency when the order carries none —
// a missing currency is a data warning, not an error.
func NormalizeOrder(node orderNode, raw json.RawMessage, shopCurrency string) models.Order {
	gross, grossCur := moneyAmount(node.CurrentTotalPriceSet)
	if node.CurrentTotalPriceSet == nil {
		gross, grossCur = moneyAmount(node.TotalPriceSet)
	}
	refund, _ := moneyAmount(node.TotalRefundedSet)

	net := gross - refund
	if net < 0 {
		net = 0
	}

	currency := grossCur
	if currency == "" {
		currency = shopCurrency
	}

	return models.Order{
		ExternalID:  node.ID,
		Name:        orderName(node),
		Gross:       gross,
		Net:         net,
		RefundTotal: refund,
		Currency:    currency,
		OrderDate:   orderDate(node.CreatedAt),
		Status:      orderStatus(node.DisplayFinancialStatus, node.DisplayFulfillmentStatus),
		CreatedAt:   node.CreatedAt,
		UpdatedAt:   node.UpdatedAt,
		Raw:         raw,
	}
}

func moneyAmount(set *moneySet) (float64, string) {
	if set == nil {
		return 0, ""
	}
	amount, err := strconv.ParseFloat(set.ShopMoney.Amount, 64)
	if err != nil {
		return 0, set.ShopMoney.CurrencyCode
	}
	return amount, set.ShopMoney.CurrencyCode
}

// orderName prefers the source name, then #<order_number>, then a synthetic
// name derived from the id with its gid prefix stripped.
func orderName(node orderNode) string {
	if node.Name != "" {
		return node.Name
	}
	if node.OrderNumber > 0 {
		return "#" + strconv.FormatInt(node.OrderNumber, 10)
	}
	id := node.ID
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}
	return "order_" + id
}

// orderStatus joins financial and fulfilment status with " / ", skipping
// nulls. Nil only when both are null.
func orderStatus(financial, fulfilment *string) *string {
	var parts []string
	if financial != nil && *financial != "" {
		parts = append(parts, strings.ToLower(*financial))
	}
	if fulfilment != nil && *fulfilment != "" {
		parts = append(parts, strings.ToLower(*fulfilment))
	}
	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, " / ")
	return &s
}

// orderDate buckets on the UTC calendar date: the first 10 characters of the
// RFC3339 created_at.
func orderDate(createdAt string) string {
	if len(createdAt) < 10 {
		return createdAt
	}
	return createdAt[:10]
}
