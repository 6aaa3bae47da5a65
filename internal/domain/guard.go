package domain

// GuardResult is the outcome of a pre-flight guard check on a payout request
// or processor call.
type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Guard   string `json:"guard,omitempty"` // which guard blocked
}
