package pow

import "testing"

func TestDifficultyZeroAlwaysPasses(t *testing.T) {
	n, err := Attach("id1", "lobby", "abc", "abc", map[string]interface{}{"x": 1.0}, 1000, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected nonce 0 for difficulty 0, got %d", n)
	}
	if !Check("id1", "lobby", "abc", "abc", map[string]interface{}{"x": 1.0}, 1000, n, true, 0) {
		t.Fatal("difficulty 0 must always pass")
	}
}

func TestAttachThenCheckPasses(t *testing.T) {
	const difficulty = 8 // cheap enough to run in a unit test
	msg := map[string]interface{}{"hello": "world"}
	n, err := Attach("id2", "lobby", "abc", "abc", msg, 2000, difficulty, DefaultNonceCeiling)
	if err != nil {
		t.Fatal(err)
	}
	if !Check("id2", "lobby", "abc", "abc", msg, 2000, n, true, difficulty) {
		t.Fatal("expected the attached nonce to satisfy the same difficulty")
	}
}

func TestCheckFailsWithoutNonce(t *testing.T) {
	if Check("id3", "lobby", "abc", "abc", nil, 3000, 0, false, 8) {
		t.Fatal("expected check to fail when no nonce is present and difficulty > 0")
	}
}

func TestCheckIgnoresClaimedDifficulty(t *testing.T) {
	// A payload claiming a lower difficulty than currently configured must
	// still be checked against the locally configured (higher) difficulty.
	const difficulty = 8
	msg := map[string]interface{}{"a": 1.0}
	n, err := Attach("id4", "lobby", "abc", "abc", msg, 4000, difficulty, DefaultNonceCeiling)
	if err != nil {
		t.Fatal(err)
	}
	if !Check("id4", "lobby", "abc", "abc", msg, 4000, n, true, difficulty) {
		t.Fatal("expected nonce valid at the configured difficulty to pass")
	}
	if Check("id4", "lobby", "abc", "abc", msg, 4000, n, true, difficulty+16) {
		t.Fatal("expected the same nonce to fail against a much higher locally configured difficulty")
	}
}
