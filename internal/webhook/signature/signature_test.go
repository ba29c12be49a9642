package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify_StripeStyle_ValidSignatureAccepted(t *testing.T) {
	secret := "whsec_ABC"
	body := []byte(`{"type":"checkout.session.completed"}`)
	ts := "1700000000"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	header := fmt.Sprintf("t=%s,v1=%s", ts, sig)
	err := Verify("stripe", secret, body, map[string]string{"signature": header})
	assert.NoError(t, err)
}

func TestVerify_StripeStyle_WrongSignatureRejected(t *testing.T) {
	body := []byte(`{"type":"checkout.session.completed"}`)
	header := "t=1700000000,v1=deadbeef"
	err := Verify("stripe", "whsec_ABC", body, map[string]string{"signature": header})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_MissingSecretSkipsCheck(t *testing.T) {
	err := Verify("stripe", "", []byte("anything"), map[string]string{})
	assert.NoError(t, err)
}

func TestVerify_SecretPresentMissingHeaderRejected(t *testing.T) {
	err := Verify("stripe", "whsec_ABC", []byte("body"), map[string]string{})
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestVerify_N8NTokenComparedDirectly(t *testing.T) {
	err := Verify("n8n", "shared-token", []byte("irrelevant"), map[string]string{"signature": "shared-token"})
	assert.NoError(t, err)

	err = Verify("n8n", "shared-token", []byte("irrelevant"), map[string]string{"signature": "wrong-token"})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_GenericHexHMAC(t *testing.T) {
	secret := "generic-secret"
	body := []byte(`{"hello":"world"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	err := Verify("custom", secret, body, map[string]string{"signature": sig})
	assert.NoError(t, err)
}
