package protocol

import "testing"

func TestDecodeBase(t *testing.T) {
	m, err := DecodeBase([]byte(`{"type":"ACT","protocol_version":"1.0","actor_id":"a1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != TypeAct || m.ProtocolVersion != Version {
		t.Fatalf("unexpected base: %+v", m)
	}

	if _, err := DecodeBase([]byte(`{`)); err == nil {
		t.Fatalf("malformed json must fail")
	}
}

func TestIsKnownCode(t *testing.T) {
	for _, code := range []string{
		ErrProtoBadRequest, ErrRateLimited, ErrNotFound,
		ErrInvalidParty, ErrContestClosed, ErrPartyCooldown, ErrInternal,
	} {
		if !IsKnownCode(code) {
			t.Fatalf("%s must be known", code)
		}
	}
	if !IsKnownCode("") {
		t.Fatalf("empty code means no error and is always valid")
	}
	if IsKnownCode("E_MADE_UP") {
		t.Fatalf("unknown code accepted")
	}
}
