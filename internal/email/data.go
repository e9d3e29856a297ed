package email

// PaymentSucceeded feeds the payment_succeeded template.
type PaymentSucceeded struct {
	CustomerName     string
	TrackingNumber   string
	Amount           string
	Currency         string
	Items            []Line
	ShippingCost     string
	WeightCategory   string
	ShippingMethod   string
	DeliveryEstimate string
	NextPaymentDate  string // empty when Finished
	Finished         bool
}

type Line struct {
	Name      string
	Quantity  int
	LineTotal string
}

// PaymentFailed feeds the payment_failed template.
type PaymentFailed struct {
	CustomerName string
	Reason       string
}
