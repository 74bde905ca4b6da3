package wfmodel

// ErrorKind is the closed taxonomy every surfaced error is classified
// into (spec §7). Every error the dispatcher or orchestrator surfaces
// carries one of these plus a message and optional cause chain.
type ErrorKind string

const (
	ErrorValidation         ErrorKind = "validation"
	ErrorPermissionDenied   ErrorKind = "permission_denied"
	ErrorCancelled          ErrorKind = "cancelled"
	ErrorTimeout            ErrorKind = "timeout"
	ErrorInternal           ErrorKind = "internal"
	ErrorProviderUnavailable ErrorKind = "provider_unavailable"
	ErrorResource           ErrorKind = "resource"
	ErrorConfiguration      ErrorKind = "configuration"
	ErrorMaxRounds          ErrorKind = "max_rounds"
)

// Recoverable reports whether the model can productively react to an
// error of this kind within the current turn (spec §7 policy: "local
// recovery wherever the model can productively react; escalation only
// when the turn cannot continue").
func (k ErrorKind) Recoverable() bool {
	switch k {
	case ErrorValidation, ErrorPermissionDenied, ErrorTimeout, ErrorInternal:
		return true
	default:
		return false
	}
}
