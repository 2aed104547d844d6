package gateway

import "testing"

func TestVerifyCheckout_RoundTrip(t *testing.T) {
	secret := []byte("key-secret")
	sig := SignCheckout("order_123", "pay_456", secret)
	if !VerifyCheckout("order_123", "pay_456", sig, secret) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyCheckout_SingleCharacterCorruption(t *testing.T) {
	secret := []byte("key-secret")
	sig := SignCheckout("order_123", "pay_456", secret)
	for i := range sig {
		corrupted := []byte(sig)
		if corrupted[i] == 'a' {
			corrupted[i] = 'b'
		} else {
			corrupted[i] = 'a'
		}
		if VerifyCheckout("order_123", "pay_456", string(corrupted), secret) {
			t.Fatalf("expected corrupted signature at index %d to fail", i)
		}
	}
}

func TestVerifyCheckout_WrongSecret(t *testing.T) {
	sig := SignCheckout("order_123", "pay_456", []byte("key-secret"))
	if VerifyCheckout("order_123", "pay_456", sig, []byte("other-secret")) {
		t.Fatalf("expected verification with wrong secret to fail")
	}
}

func TestVerifyCheckout_SwappedIdentifiers(t *testing.T) {
	secret := []byte("key-secret")
	sig := SignCheckout("order_123", "pay_456", secret)
	if VerifyCheckout("pay_456", "order_123", sig, secret) {
		t.Fatalf("expected swapped identifiers to fail")
	}
}

func TestVerifyCheckout_EmptyInputs(t *testing.T) {
	secret := []byte("key-secret")
	sig := SignCheckout("order_123", "pay_456", secret)
	cases := []struct {
		name                         string
		orderID, paymentID, signature string
	}{
		{"empty order", "", "pay_456", sig},
		{"empty payment", "order_123", "", sig},
		{"empty signature", "order_123", "pay_456", ""},
	}
	for _, tc := range cases {
		if VerifyCheckout(tc.orderID, tc.paymentID, tc.signature, secret) {
			t.Fatalf("%s: expected verification to fail", tc.name)
		}
	}
	if VerifyCheckout("order_123", "pay_456", sig, nil) {
		t.Fatalf("empty secret: expected verification to fail")
	}
}

func TestVerifyCheckout_CaseAndWhitespaceTolerantHeader(t *testing.T) {
	secret := []byte("key-secret")
	sig := SignCheckout("order_123", "pay_456", secret)
	if !VerifyCheckout("order_123", "pay_456", "  "+sig+"\n", secret) {
		t.Fatalf("expected trimmed signature to verify")
	}
}

func TestVerifyWebhook_RawBodyBytes(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"id":"pay_1"}}}`)
	sig := SignWebhook(body, secret)
	if !VerifyWebhook(body, sig, secret) {
		t.Fatalf("expected webhook signature to verify")
	}
	// A semantically identical but re-serialized body must not verify.
	reserialized := []byte(`{"event": "payment.captured", "payload": {"payment": {"id": "pay_1"}}}`)
	if VerifyWebhook(reserialized, sig, secret) {
		t.Fatalf("expected re-serialized body to fail verification")
	}
}
