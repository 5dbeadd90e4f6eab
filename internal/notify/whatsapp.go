package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultWhatsAppBaseURL = "https://graph.facebook.com/v18.0"

// WhatsAppNotifier sends text messages through the WhatsApp Cloud API
type WhatsAppNotifier struct {
	httpClient    *http.Client
	baseURL       string
	phoneNumberID string
	accessToken   string
	logger        *zap.Logger
}

type textBody struct {
	Body string `json:"body"`
}

type messageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// NewWhatsAppNotifier creates a Cloud API client. An empty baseURL uses the public Graph endpoint.
func NewWhatsAppNotifier(baseURL, phoneNumberID, accessToken string, timeout time.Duration, logger *zap.Logger) *WhatsAppNotifier {
	if baseURL == "" {
		baseURL = defaultWhatsAppBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsAppNotifier{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:       strings.TrimRight(baseURL, "/"),
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		logger:        logger,
	}
}

// Send posts one text message. Any non-2xx response is an error.
func (n *WhatsAppNotifier) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	payload, err := json.Marshal(messageRequest{
		MessagingProduct: "whatsapp",
		// The Cloud API takes the number without the leading plus
		To:   strings.TrimPrefix(msg.To, "+"),
		Type: "text",
		Text: textBody{Body: msg.Body},
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", n.baseURL, n.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call WhatsApp API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("WhatsApp API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return fmt.Errorf("WhatsApp API failed with status %d", resp.StatusCode)
	}

	var out messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		n.logger.Warn("could not decode WhatsApp response", zap.Error(err))
		return nil
	}
	messageID := ""
	if len(out.Messages) > 0 {
		messageID = out.Messages[0].ID
	}
	n.logger.Info("whatsapp message sent", zap.String("to", msg.To), zap.String("message_id", messageID))
	return nil
}
