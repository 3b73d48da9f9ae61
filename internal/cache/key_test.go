package cache

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	params := map[string]string{
		"text":    "hello world",
		"voice":   "zh-CN-XiaoxiaoNeural",
		"backend": "edge",
		"quality": "medium",
	}

	first := Fingerprint(params)
	second := Fingerprint(params)

	if first != second {
		t.Errorf("same params produced different keys: %s vs %s", first, second)
	}

	if len(first) != 32 {
		t.Errorf("key length = %d, want 32 hex chars", len(first))
	}
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	// Maps iterate in random order already, but build two maps in different
	// insertion orders to make the intent explicit.
	a := map[string]string{}
	a["text"] = "hello"
	a["voice"] = "alloy"
	a["backend"] = "openai"

	b := map[string]string{}
	b["backend"] = "openai"
	b["voice"] = "alloy"
	b["text"] = "hello"

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("parameter order affected the fingerprint")
	}
}

func TestFingerprint_DistinctParams(t *testing.T) {
	base := map[string]string{
		"text":    "hello",
		"voice":   "alloy",
		"backend": "openai",
		"quality": "medium",
	}

	variants := []map[string]string{
		{"text": "hello!", "voice": "alloy", "backend": "openai", "quality": "medium"},
		{"text": "hello", "voice": "echo", "backend": "openai", "quality": "medium"},
		{"text": "hello", "voice": "alloy", "backend": "edge", "quality": "medium"},
		{"text": "hello", "voice": "alloy", "backend": "openai", "quality": "high"},
		{"text": "hello", "voice": "alloy", "backend": "openai"},
	}

	baseKey := Fingerprint(base)
	seen := map[string]bool{baseKey: true}

	for i, v := range variants {
		key := Fingerprint(v)
		if seen[key] {
			t.Errorf("variant %d collided with a previously seen key", i)
		}
		seen[key] = true
	}
}

func TestFingerprint_NoConcatenationAmbiguity(t *testing.T) {
	// "ab"+"c" vs "a"+"bc" must not collide even though the concatenated
	// bytes are identical.
	a := map[string]string{"text": "ab", "voice": "c"}
	b := map[string]string{"text": "a", "voice": "bc"}

	if Fingerprint(a) == Fingerprint(b) {
		t.Error("adjacent field values collided")
	}
}
