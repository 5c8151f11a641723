package codec

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/openlane/agentbus/internal/models"
)

func TestDecodeB64TolerantOfMissingPadding(t *testing.T) {
	raw := []byte("hello world")
	encoded := base64.URLEncoding.EncodeToString(raw)
	stripped := encoded
	for len(stripped) > 0 && stripped[len(stripped)-1] == '=' {
		stripped = stripped[:len(stripped)-1]
	}

	got, err := DecodeB64(stripped)
	if err != nil {
		t.Fatalf("DecodeB64(%q) error: %v", stripped, err)
	}
	if string(got) != string(raw) {
		t.Errorf("DecodeB64(%q) = %q, want %q", stripped, got, raw)
	}
}

func TestEncodeDecodeOutboundJobRoundTrip(t *testing.T) {
	job := &models.OutboundJob{
		Service: models.ServiceRef{URL: "https://example.com/endpoint"},
		Payload: []byte(`{"hello":"world"}`),
		Headers: map[string]string{"Content-Type": "application/json"},
		Retries: 2,
	}

	raw, err := EncodeOutboundJob(job)
	if err != nil {
		t.Fatalf("EncodeOutboundJob error: %v", err)
	}

	got, err := DecodeOutboundJob(raw)
	if err != nil {
		t.Fatalf("DecodeOutboundJob error: %v", err)
	}
	if got.Service.URL != job.Service.URL {
		t.Errorf("Service.URL = %q, want %q", got.Service.URL, job.Service.URL)
	}
	if string(got.Payload) != string(job.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, job.Payload)
	}
	if got.Retries != job.Retries {
		t.Errorf("Retries = %d, want %d", got.Retries, job.Retries)
	}
}

func TestDecodeOutboundJobMissingServiceURL(t *testing.T) {
	_, err := DecodeOutboundJob([]byte(`{"payload":"aGVsbG8"}`))
	if err == nil {
		t.Fatal("expected error for missing service.url, got nil")
	}
}

func TestDecodeOutboundJobMissingPayload(t *testing.T) {
	_, err := DecodeOutboundJob([]byte(`{"service":{"url":"https://example.com/endpoint"}}`))
	if err == nil {
		t.Fatal("expected error for missing payload, got nil")
	}
}

func TestDecodeDirectResponseRequiresTxnID(t *testing.T) {
	_, err := DecodeDirectResponse([]byte(`{"response_data":{"response":"aGVsbG8","content-type":"text/plain"}}`))
	if err == nil {
		t.Fatal("expected error for missing txn_id, got nil")
	}
}

func TestRecipientKeysSingle(t *testing.T) {
	protected := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"header": map[string]string{"kid": "did:key:abc"}},
		},
	}
	protectedJSON, _ := json.Marshal(protected)
	payload, _ := json.Marshal(map[string]string{
		"protected": base64.URLEncoding.EncodeToString(protectedJSON),
	})

	got, err := RecipientKeys(payload)
	if err != nil {
		t.Fatalf("RecipientKeys error: %v", err)
	}
	if got != "did:key:abc" {
		t.Errorf("RecipientKeys = %q, want %q", got, "did:key:abc")
	}
}

func TestRecipientKeysMultipleCommaJoined(t *testing.T) {
	protected := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"header": map[string]string{"kid": "did:key:a"}},
			{"header": map[string]string{"kid": "did:key:b"}},
		},
	}
	protectedJSON, _ := json.Marshal(protected)
	payload, _ := json.Marshal(map[string]string{
		"protected": base64.URLEncoding.EncodeToString(protectedJSON),
	})

	got, err := RecipientKeys(payload)
	if err != nil {
		t.Fatalf("RecipientKeys error: %v", err)
	}
	if got != "did:key:a,did:key:b" {
		t.Errorf("RecipientKeys = %q, want %q", got, "did:key:a,did:key:b")
	}
}

func TestRecipientKeysNoProtectedHeader(t *testing.T) {
	got, err := RecipientKeys([]byte(`{"foo":"bar"}`))
	if err != nil {
		t.Fatalf("RecipientKeys error: %v", err)
	}
	if got != "" {
		t.Errorf("RecipientKeys = %q, want empty string", got)
	}
}
