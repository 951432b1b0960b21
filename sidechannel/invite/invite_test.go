package invite

import (
	"testing"

	"sidechannel-node/identity"
)

func TestInviteSignVerifyRoundTrip(t *testing.T) {
	inviter, _ := identity.NewKeypair()
	invitee, _ := identity.NewKeypair()
	inv := &Invite{
		Channel:       "trade-lobby",
		InviteePubKey: invitee.PublicKeyHex(),
		InviterPubKey: inviter.PublicKeyHex(),
		IssuedAt:      1000,
		ExpiresAt:     2000,
		Nonce:         "n1",
	}
	if err := inv.Sign(inviter); err != nil {
		t.Fatal(err)
	}
	err := inv.Verify(VerifyParams{Channel: "trade-lobby", NowMs: 1500})
	if err != nil {
		t.Fatalf("expected valid invite to verify, got %v", err)
	}
}

func TestInviteVerifyRejectsExpired(t *testing.T) {
	inviter, _ := identity.NewKeypair()
	inv := &Invite{Channel: "c", InviterPubKey: inviter.PublicKeyHex(), ExpiresAt: 1000}
	inv.Sign(inviter)
	if err := inv.Verify(VerifyParams{Channel: "c", NowMs: 1000}); err == nil {
		t.Fatal("expected expired invite (now == expiresAt) to fail verification")
	}
}

func TestInviteVerifyRejectsWrongChannel(t *testing.T) {
	inviter, _ := identity.NewKeypair()
	inv := &Invite{Channel: "c1", InviterPubKey: inviter.PublicKeyHex(), ExpiresAt: 5000}
	inv.Sign(inviter)
	if err := inv.Verify(VerifyParams{Channel: "c2", NowMs: 0}); err == nil {
		t.Fatal("expected channel mismatch to fail verification")
	}
}

func TestInviteVerifyRestrictedInviterSet(t *testing.T) {
	inviter, _ := identity.NewKeypair()
	other, _ := identity.NewKeypair()
	inv := &Invite{Channel: "c", InviterPubKey: inviter.PublicKeyHex(), ExpiresAt: 5000}
	inv.Sign(inviter)

	allowed := map[string]struct{}{identity.NormalizeKeyHex(other.PublicKeyHex()): {}}
	if err := inv.Verify(VerifyParams{Channel: "c", NowMs: 0, InviterKeys: allowed}); err == nil {
		t.Fatal("expected an inviter outside the configured set to be rejected")
	}

	allowed = map[string]struct{}{identity.NormalizeKeyHex(inviter.PublicKeyHex()): {}}
	if err := inv.Verify(VerifyParams{Channel: "c", NowMs: 0, InviterKeys: allowed}); err != nil {
		t.Fatalf("expected inviter within the configured set to verify, got %v", err)
	}
}

func TestWelcomeSignVerifyRoundTrip(t *testing.T) {
	owner, _ := identity.NewKeypair()
	w := &Welcome{Channel: "lobby", OwnerPubKey: owner.PublicKeyHex(), Text: "gm", IssuedAt: 1}
	if err := w.Sign(owner); err != nil {
		t.Fatal(err)
	}
	if err := w.Verify(WelcomeVerifyParams{Channel: "lobby", ExpectedOwner: owner.PublicKeyHex()}); err != nil {
		t.Fatalf("expected valid welcome to verify, got %v", err)
	}
}

func TestWelcomeVerifyRejectsWrongOwner(t *testing.T) {
	owner, _ := identity.NewKeypair()
	impostor, _ := identity.NewKeypair()
	w := &Welcome{Channel: "lobby", OwnerPubKey: owner.PublicKeyHex(), Text: "gm", IssuedAt: 1}
	w.Sign(owner)
	if err := w.Verify(WelcomeVerifyParams{Channel: "lobby", ExpectedOwner: impostor.PublicKeyHex()}); err == nil {
		t.Fatal("expected welcome signed by a non-configured owner to fail verification")
	}
}

func TestStoreInviteeLifecycle(t *testing.T) {
	s := NewStore()
	if s.IsInvitee("c", "abc", 0) {
		t.Fatal("unrecorded invitee should not be recognized")
	}
	s.RecordInvitee("c", "ABC", 1000)
	if !s.IsInvitee("c", "abc", 500) {
		t.Fatal("expected recorded invitee to be recognized (case-insensitive) before expiry")
	}
	if s.IsInvitee("c", "abc", 1000) {
		t.Fatal("expected invitee to no longer be recognized at/after expiry")
	}
}

func TestStoreLocalInviteAndWelcome(t *testing.T) {
	s := NewStore()
	inv := &Invite{Channel: "c", ExpiresAt: 1000}
	s.AcceptLocalInvite("c", inv)
	if got, ok := s.LocalInvite("c", 500); !ok || got != inv {
		t.Fatal("expected local invite to be retrievable before expiry")
	}
	if _, ok := s.LocalInvite("c", 1000); ok {
		t.Fatal("expected local invite to be gone at/after expiry")
	}

	if s.IsWelcomed("c") {
		t.Fatal("channel should not start welcomed")
	}
	s.MarkWelcomed("c")
	if !s.IsWelcomed("c") {
		t.Fatal("expected channel to be welcomed after MarkWelcomed")
	}
}
