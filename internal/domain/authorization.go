package domain

// AuthorizationResult is a terminal's answer to a money-moving or prompt
// request. It is owned by exactly one intent.
type AuthorizationResult struct {
	Success           bool    `json:"success"`
	ResponseCode      string  `json:"response_code"`
	AuthCode          string  `json:"auth_code,omitempty"`
	ReferenceNumber   string  `json:"reference_number,omitempty"`
	CardBrand         string  `json:"card_brand,omitempty"`
	Last4             string  `json:"last4,omitempty"`
	EntryMethod       string  `json:"entry_method,omitempty"`
	DeclineReason     *string `json:"decline_reason,omitempty"`
	IsRetryable       bool    `json:"is_retryable"`
	SignatureRequired bool    `json:"signature_required"`
	AmountCents       int64   `json:"amount_cents,omitempty"`
	TipCents          int64   `json:"tip_cents,omitempty"`
	Message           string  `json:"message,omitempty"`
}

// CardDetails extracts the processor data that goes on the payment record.
func (r *AuthorizationResult) CardDetails() (*CardDetails, error) {
	details, err := NewCardDetails(r.ReferenceNumber, r.CardBrand, r.Last4, r.AuthCode)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, NewPartialCardDetailsError("approved authorization carries no card details")
	}
	return details, nil
}
