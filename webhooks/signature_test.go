package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func signHexHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerify_AcceptsMatchingSignature(t *testing.T) {
	body := []byte(`{"zen":"Keep it logically awesome."}`)
	header := "sha256=" + signHexHMAC("topsecret", body)
	if !Verify(header, body, "topsecret") {
		t.Fatalf("expected matching signature to verify")
	}
}

func TestVerify_RejectsTamperedInput(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	header := Sign(body, "topsecret")

	if Verify(header, []byte(`{"action":"closed"}`), "topsecret") {
		t.Fatalf("expected altered body to fail")
	}
	if Verify(header, body, "othersecret") {
		t.Fatalf("expected wrong secret to fail")
	}
	flipped := header[:len(header)-1] + "0"
	if strings.HasSuffix(header, "0") {
		flipped = header[:len(header)-1] + "1"
	}
	if Verify(flipped, body, "topsecret") {
		t.Fatalf("expected altered signature to fail")
	}
}

func TestVerify_MalformedHeadersReturnFalse(t *testing.T) {
	body := []byte("payload")
	digest := signHexHMAC("s", body)
	cases := map[string]string{
		"empty":          "",
		"missing prefix": digest,
		"wrong prefix":   "sha1=" + digest,
		"non hex":        "sha256=zzzz",
		"short digest":   "sha256=" + digest[:10],
		"prefix only":    "sha256=",
		"upper prefix":   "SHA256=" + digest,
	}
	for name, header := range cases {
		if Verify(header, body, "s") {
			t.Fatalf("%s: expected %q to fail verification", name, header)
		}
	}
}

func TestVerify_EmptySecretFailsClosed(t *testing.T) {
	body := []byte("payload")
	header := "sha256=" + signHexHMAC("", body)
	if Verify(header, body, "") {
		t.Fatalf("expected empty secret to fail closed")
	}
}

func TestSign_ProducesPrefixedHex(t *testing.T) {
	body := []byte("hello")
	got := Sign(body, "k")
	if got != "sha256="+signHexHMAC("k", body) {
		t.Fatalf("unexpected signature %q", got)
	}
	if !Verify(got, body, "k") {
		t.Fatalf("expected Sign output to verify")
	}
}
