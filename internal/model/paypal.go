package model

// PayPal v2 wire types, limited to the fields this service reads.

type PaypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type PaypalAmount struct {
	Currency string `json:"currency_code"`
	Value    string `json:"value"`
}

type PaypalCapture struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	Amount   PaypalAmount `json:"amount"`
	CustomID string       `json:"custom_id"`
}

type PaypalPayments struct {
	Captures []PaypalCapture `json:"captures"`
}

type PaypalPurchaseUnit struct {
	ReferenceID string         `json:"reference_id"`
	CustomID    string         `json:"custom_id"`
	Amount      PaypalAmount   `json:"amount"`
	Payments    PaypalPayments `json:"payments"`
}

type PaypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Links         []PaypalLink         `json:"links"`
	PurchaseUnits []PaypalPurchaseUnit `json:"purchase_units"`
}

type PaypalRelatedIDs struct {
	OrderID string `json:"order_id"`
}

type PaypalSupplementaryData struct {
	RelatedIDs PaypalRelatedIDs `json:"related_ids"`
}

// PaypalResource is the capture resource carried by payment webhooks.
type PaypalResource struct {
	ID                string                  `json:"id"`
	Status            string                  `json:"status"`
	Amount            PaypalAmount            `json:"amount"`
	CustomID          string                  `json:"custom_id"`
	SupplementaryData PaypalSupplementaryData `json:"supplementary_data"`
}

type PaypalWebhookEvent struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	CreateTime string         `json:"create_time"`
	Resource   PaypalResource `json:"resource"`
}
