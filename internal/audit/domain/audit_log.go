package domain

import "time"

// AuditLog is one security-relevant event: a link step, a token rotation or
// an ingestion. Client IPs are stored hashed.
type AuditLog struct {
	ID        string
	UserID    string
	DeviceID  string
	Action    string
	Resource  string
	IPHash    string
	Metadata  string // JSON object or ""
	CreatedAt time.Time
}

// Actions recorded by the pipeline.
const (
	ActionLinkStart        = "link_start"
	ActionLinkClaim        = "link_claim"
	ActionLinkClaimFailure = "link_claim_failure"
	ActionLinkFinish       = "link_finish"
	ActionTokenRotate      = "token_rotate"
	ActionTokenReuse       = "token_reuse"
	ActionSessionIngest    = "session_ingest"
)

// Resources referenced by audit actions.
const (
	ResourceLink         = "link_session"
	ResourceRefreshToken = "refresh_token"
	ResourceSession      = "coding_session"
)
