package models

// WebhookEnvelope is the JSON body the partner posts. WebhookData is the
// Base64 encoding of IV followed by the AES-CBC ciphertext.
type WebhookEnvelope struct {
	GUID        string `json:"guid"`
	WebhookType string `json:"webhookType"`
	WebhookData string `json:"webhookData"`
}

type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	GUID    string `json:"guid,omitempty"`
}
