package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const expoPushURL = "https://exp.host/--/api/v2/push/send"

// ExpoMessage is one push notification addressed to one device token.
type ExpoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

// PushResult reports per-message delivery status; Expo replies positionally.
type PushResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PushSender delivers a batch of push messages and returns one result per
// message, in order.
type PushSender interface {
	SendBatch(ctx context.Context, messages []ExpoMessage) ([]PushResult, error)
}

// ExpoPushSender posts message batches to the Expo push API. Expo caps one
// request at 100 messages; larger batches are split transparently.
type ExpoPushSender struct {
	client *http.Client
	url    string
}

func NewExpoPushSender() *ExpoPushSender {
	return &ExpoPushSender{
		client: &http.Client{Timeout: 15 * time.Second},
		url:    expoPushURL,
	}
}

func (s *ExpoPushSender) SendBatch(ctx context.Context, messages []ExpoMessage) ([]PushResult, error) {
	results := make([]PushResult, 0, len(messages))
	for start := 0; start < len(messages); start += 100 {
		end := start + 100
		if end > len(messages) {
			end = len(messages)
		}
		chunk, err := s.post(ctx, messages[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, chunk...)
	}
	return results, nil
}

func (s *ExpoPushSender) post(ctx context.Context, messages []ExpoMessage) ([]PushResult, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post push batch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expo push returned %d: %s", resp.StatusCode, body)
	}

	var wrapper struct {
		Data []PushResult `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}
	return wrapper.Data, nil
}
