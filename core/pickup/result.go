package pickup

// Reason identifies the check that rejected a token.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonConfiguration     Reason = "configuration"
	ReasonMalformed         Reason = "malformed"
	ReasonDecryptFailed     Reason = "decrypt_failed"
	ReasonClaimsMismatch    Reason = "claims_mismatch"
	ReasonExpired           Reason = "expired"
	ReasonInvalidPayload    Reason = "invalid_payload"
	ReasonSessionInvalid    Reason = "session_invalid"
	ReasonOrderNotFound     Reason = "order_not_found"
	ReasonOwnershipMismatch Reason = "ownership_mismatch"
	ReasonReplayed          Reason = "replayed"
	ReasonReplayUnavailable Reason = "replay_unavailable"
	ReasonLookupFailed      Reason = "lookup_failed"
)

// Result is the outcome of a verification. Callers outside this service only
// ever see Accepted.
type Result struct {
	Accepted bool
	Reason   Reason
	Err      error

	// Populated once the token has been opened.
	SessionID string
	OrderID   int64
	UserID    string
}

func accept(cl *Claims, userID string) Result {
	return Result{Accepted: true, SessionID: cl.SessionID, OrderID: cl.OrderID, UserID: userID}
}

func reject(reason Reason, err error, cl *Claims) Result {
	r := Result{Reason: reason, Err: err}
	if cl != nil {
		r.SessionID = cl.SessionID
		r.OrderID = cl.OrderID
	}
	return r
}
