package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Contest resolution.
	ErrRateLimited   = "E_RATE_LIMITED"
	ErrNotFound      = "E_NOT_FOUND"
	ErrInvalidParty  = "E_INVALID_PARTY"
	ErrContestClosed = "E_CONTEST_CLOSED"

	// Party change.
	ErrPartyCooldown = "E_PARTY_COOLDOWN"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrRateLimited:     {},
	ErrNotFound:        {},
	ErrInvalidParty:    {},
	ErrContestClosed:   {},
	ErrPartyCooldown:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
