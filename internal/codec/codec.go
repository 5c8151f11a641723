// Package codec handles the base64url wire encoding and JSON envelope
// shapes shared by the deliverer, relay, and mediator.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openlane/agentbus/internal/models"
)

// DecodeB64 decodes a URL-safe base64 string, tolerating missing padding.
func DecodeB64(s string) ([]byte, error) {
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.URLEncoding.DecodeString(s)
}

// EncodeB64 encodes bytes as URL-safe base64 with "=" padding. DecodeB64
// accepts the result with or without that padding.
func EncodeB64(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeOutboundJob parses a raw outbound queue entry.
func DecodeOutboundJob(raw []byte) (*models.OutboundJob, error) {
	var wire struct {
		Service models.ServiceRef `json:"service"`
		Payload string            `json:"payload"`
		Headers map[string]string `json:"headers"`
		Retries int               `json:"retries"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode outbound job: %w", err)
	}
	if wire.Service.URL == "" {
		return nil, models.NewRelayError(models.ErrCodeInvalidEnvelope, "missing service.url", nil)
	}
	if wire.Payload == "" {
		return nil, models.NewRelayError(models.ErrCodeInvalidEnvelope, "missing payload", nil)
	}
	payload, err := DecodeB64(wire.Payload)
	if err != nil {
		return nil, models.NewRelayError(models.ErrCodeInvalidEnvelope, "invalid payload encoding", err)
	}
	return &models.OutboundJob{
		Service: wire.Service,
		Payload: payload,
		Headers: wire.Headers,
		Retries: wire.Retries,
	}, nil
}

// EncodeOutboundJob marshals a job for RPUSH onto the outbound queue or ZADD
// into the retry sorted set.
func EncodeOutboundJob(job *models.OutboundJob) ([]byte, error) {
	wire := struct {
		Service models.ServiceRef `json:"service"`
		Payload string            `json:"payload"`
		Headers map[string]string `json:"headers,omitempty"`
		Retries int               `json:"retries"`
	}{
		Service: job.Service,
		Payload: EncodeB64(job.Payload),
		Headers: job.Headers,
		Retries: job.Retries,
	}
	return json.Marshal(wire)
}

// DecodeInboundEnvelope parses a raw inbound queue entry.
func DecodeInboundEnvelope(raw []byte) (*models.InboundEnvelope, error) {
	var wire struct {
		Payload       string `json:"payload"`
		TxnID         string `json:"txn_id"`
		TransportType string `json:"transport_type"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode inbound envelope: %w", err)
	}
	payload, err := DecodeB64(wire.Payload)
	if err != nil {
		return nil, models.NewRelayError(models.ErrCodeInvalidEnvelope, "invalid payload encoding", err)
	}
	return &models.InboundEnvelope{
		Payload:       payload,
		TxnID:         wire.TxnID,
		TransportType: wire.TransportType,
	}, nil
}

// EncodeInboundEnvelope marshals an envelope for RPUSH onto the inbound queue.
func EncodeInboundEnvelope(env *models.InboundEnvelope) ([]byte, error) {
	wire := struct {
		Payload       string `json:"payload"`
		TxnID         string `json:"txn_id,omitempty"`
		TransportType string `json:"transport_type"`
	}{
		Payload:       EncodeB64(env.Payload),
		TxnID:         env.TxnID,
		TransportType: env.TransportType,
	}
	return json.Marshal(wire)
}

// DecodeDirectResponse parses a raw direct-response queue entry.
func DecodeDirectResponse(raw []byte) (*models.DirectResponseRecord, error) {
	var wire struct {
		TxnID        string `json:"txn_id"`
		ResponseData *struct {
			Response    string `json:"response"`
			ContentType string `json:"content-type"`
		} `json:"response_data"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode direct response: %w", err)
	}
	if wire.TxnID == "" {
		return nil, models.NewRelayError(models.ErrCodeInvalidEnvelope, "missing txn_id", nil)
	}
	if wire.ResponseData == nil {
		return nil, models.NewRelayError(models.ErrCodeInvalidEnvelope, "missing response_data", nil)
	}
	response, err := DecodeB64(wire.ResponseData.Response)
	if err != nil {
		return nil, models.NewRelayError(models.ErrCodeInvalidEnvelope, "invalid response encoding", err)
	}
	return &models.DirectResponseRecord{
		TxnID: wire.TxnID,
		ResponseData: models.ResponseData{
			Response:    response,
			ContentType: wire.ResponseData.ContentType,
		},
	}, nil
}

// EncodeDirectResponse marshals a direct-response record for RPUSH.
func EncodeDirectResponse(rec *models.DirectResponseRecord) ([]byte, error) {
	wire := struct {
		TxnID        string `json:"txn_id"`
		ResponseData struct {
			Response    string `json:"response"`
			ContentType string `json:"content-type"`
		} `json:"response_data"`
	}{
		TxnID: rec.TxnID,
	}
	wire.ResponseData.Response = EncodeB64(rec.ResponseData.Response)
	wire.ResponseData.ContentType = rec.ResponseData.ContentType
	return json.Marshal(wire)
}

// RecipientKeys extracts the recipients a packed DIDComm-style message is
// addressed to, by reading the base64url "protected" header and collecting
// recipients[].header.kid. Multiple recipients are comma-joined, matching
// the reference agent framework's bus key naming.
func RecipientKeys(payload []byte) (string, error) {
	var outer struct {
		Protected string `json:"protected"`
	}
	if err := json.Unmarshal(payload, &outer); err != nil {
		return "", fmt.Errorf("parse packed message: %w", err)
	}
	if outer.Protected == "" {
		return "", nil
	}
	protectedJSON, err := DecodeB64(outer.Protected)
	if err != nil {
		return "", fmt.Errorf("decode protected header: %w", err)
	}
	var protected struct {
		Recipients []struct {
			Header struct {
				Kid string `json:"kid"`
			} `json:"header"`
		} `json:"recipients"`
	}
	if err := json.Unmarshal(protectedJSON, &protected); err != nil {
		return "", fmt.Errorf("parse protected header: %w", err)
	}
	keys := make([]string, 0, len(protected.Recipients))
	for _, r := range protected.Recipients {
		if r.Header.Kid != "" {
			keys = append(keys, r.Header.Kid)
		}
	}
	return strings.Join(keys, ","), nil
}
