package cryptoutil

import "testing"

func TestECBRoundTrip(t *testing.T) {
	cases := []struct {
		name, secret, plaintext string
	}{
		{"short key", "abc", "hello world"},
		{"exact 32 bytes", "01234567890123456789012345678901"[:32], `{"a":1}`},
		{"long key truncated", "0123456789012345678901234567890123456789", "x"},
		{"empty plaintext", "k", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct, err := EncryptECB(tc.secret, tc.plaintext)
			if err != nil {
				t.Fatalf("EncryptECB: %v", err)
			}
			pt, err := DecryptECB(tc.secret, ct)
			if err != nil {
				t.Fatalf("DecryptECB: %v", err)
			}
			if pt != tc.plaintext {
				t.Fatalf("round trip mismatch: got %q want %q", pt, tc.plaintext)
			}
		})
	}
}

func TestECBDeterministic(t *testing.T) {
	a, err := EncryptECB("secret", "same input")
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncryptECB("secret", "same input")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("ECB must be deterministic: %q != %q", a, b)
	}
}

func TestDeriveECBKeyLength(t *testing.T) {
	for _, secret := range []string{"", "a", "exactly-thirty-two-bytes-long!!!", "way way way more than thirty two bytes of secret material"} {
		if got := len(DeriveECBKey(secret)); got != 32 {
			t.Fatalf("DeriveECBKey(%q): got length %d, want 32", secret, got)
		}
	}
}

func TestGCMRoundTrip(t *testing.T) {
	ct, err := EncryptGCM("secret", "hello world")
	if err != nil {
		t.Fatalf("EncryptGCM: %v", err)
	}
	pt, err := DecryptGCM("secret", ct)
	if err != nil {
		t.Fatalf("DecryptGCM: %v", err)
	}
	if pt != "hello world" {
		t.Fatalf("got %q, want %q", pt, "hello world")
	}
}

func TestGCMNotDeterministic(t *testing.T) {
	a, _ := EncryptGCM("secret", "same input")
	b, _ := EncryptGCM("secret", "same input")
	if a == b {
		t.Fatal("GCM ciphertext should differ across calls due to random nonce")
	}
}

func TestGCMWrongKeyFails(t *testing.T) {
	ct, err := EncryptGCM("secret-a", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptGCM("secret-b", ct); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestDecryptECBInvalidCiphertext(t *testing.T) {
	if _, err := DecryptECB("secret", "not-hex!!"); err == nil {
		t.Fatal("expected error for non-hex ciphertext")
	}
	if _, err := DecryptECB("secret", "ab"); err == nil {
		t.Fatal("expected error for ciphertext not a multiple of block size")
	}
}
