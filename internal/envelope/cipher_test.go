package envelope

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return key
}

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(randomKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	for _, plaintext := range []string{"sk-abc123def456", "", "ключ-🔑", strings.Repeat("x", 4096)} {
		env, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if !IsEncrypted(env) {
			t.Fatalf("envelope %q not recognised", env)
		}
		got, err := c.Decrypt(env)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: %q != %q", got, plaintext)
		}
	}
}

func TestNonceUniqueness(t *testing.T) {
	c := newTestCipher(t)
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Fatal("two encryptions produced the same envelope")
	}
	if strings.Split(a, ":")[0] == strings.Split(b, ":")[0] {
		t.Fatal("nonce reused")
	}
}

func flip(ch byte) byte {
	if ch == '0' {
		return '1'
	}
	return '0'
}

func TestTamperDetection(t *testing.T) {
	c := newTestCipher(t)
	env, err := c.Encrypt("sk-abc123def456")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	firstColon := strings.IndexByte(env, ':')
	for i := firstColon + 1; i < len(env); i++ {
		if env[i] == ':' {
			continue
		}
		tampered := []byte(env)
		tampered[i] = flip(tampered[i])
		if _, err := c.Decrypt(string(tampered)); !errors.Is(err, ErrDecryption) {
			t.Fatalf("tampering at %d not detected: %v", i, err)
		}
	}
	upper := strings.ToUpper(env)
	if upper != env {
		if _, err := c.Decrypt(upper); !errors.Is(err, ErrDecryption) {
			t.Fatalf("uppercase variant accepted: %v", err)
		}
	}
}

func TestWrongKey(t *testing.T) {
	env, _ := newTestCipher(t).Encrypt("secret")
	if _, err := newTestCipher(t).Decrypt(env); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestMalformedEnvelopes(t *testing.T) {
	c := newTestCipher(t)
	for _, env := range []string{"", "abc", "a:b", "a:b:c:d", "zz:00:00", "00:00:00"} {
		if _, err := c.Decrypt(env); !errors.Is(err, ErrDecryption) {
			t.Fatalf("%q: expected ErrDecryption, got %v", env, err)
		}
	}
}

func TestConcurrentUse(t *testing.T) {
	c := newTestCipher(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := c.Encrypt("parallel")
			if err != nil {
				t.Errorf("Encrypt: %v", err)
				return
			}
			if got, err := c.Decrypt(env); err != nil || got != "parallel" {
				t.Errorf("Decrypt: %q %v", got, err)
			}
		}()
	}
	wg.Wait()
}

func TestMaskForDisplay(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"short":           "***",
		"12345678":        "***",
		"123456789":       "1234***6789",
		"sk-abc123def456": "sk-a***f456",
	}
	for in, want := range cases {
		if got := MaskForDisplay(in); got != want {
			t.Fatalf("MaskForDisplay(%q)=%q want %q", in, got, want)
		}
	}
}

func TestParseKey(t *testing.T) {
	hexKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if k, err := ParseKey(hexKey); err != nil || len(k) != KeySize {
		t.Fatalf("hex key: %v", err)
	}
	if k, err := ParseKey("0123456789abcdef0123456789abcdef"); err != nil || len(k) != KeySize {
		t.Fatalf("raw key: %v", err)
	}
	if _, err := ParseKey("too-short"); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := New([]byte("short")); err == nil {
		t.Fatal("expected error for short key in New")
	}
}
