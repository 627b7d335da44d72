package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the public Speaker Recognition v1.0 base URL.
	DefaultEndpoint = "https://westus.api.cognitive.microsoft.com/spid/v1.0"
	// DefaultLocale is the locale new profiles are created with.
	DefaultLocale = "en-us"

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
	maxErrorBody          = 4096
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Endpoint        string
	SubscriptionKey string
	Locale          string
	Timeout         time.Duration
	// Retry applies to idempotent reads only. Enrollment submissions are
	// never retried.
	Retry RetryConfig
}

// HTTPClient talks to the Speaker Recognition REST API.
type HTTPClient struct {
	conf       HTTPConfig
	httpClient *http.Client
}

// NewHTTPClient builds a client. It returns an error if the subscription
// key is missing or the endpoint is not a valid URL.
func NewHTTPClient(conf HTTPConfig) (*HTTPClient, error) {
	if conf.SubscriptionKey == "" {
		return nil, errors.New("subscription key required: set SPEAKER_RECOGNITION_KEY or run 'voiceprint config set-key'")
	}

	if conf.Endpoint == "" {
		conf.Endpoint = DefaultEndpoint
	}

	if _, err := url.ParseRequestURI(conf.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", conf.Endpoint, err)
	}

	conf.Endpoint = strings.TrimRight(conf.Endpoint, "/")

	if conf.Locale == "" {
		conf.Locale = DefaultLocale
	}

	if conf.Timeout <= 0 {
		conf.Timeout = 30 * time.Second
	}

	if conf.Retry.MaxAttempts <= 0 {
		conf.Retry = DefaultRetryConfig()
	}

	return &HTTPClient{
		conf:       conf,
		httpClient: &http.Client{Timeout: conf.Timeout},
	}, nil
}

type createProfileRequest struct {
	Locale string `json:"locale"`
}

type createProfileResponse struct {
	VerificationProfileID string `json:"verificationProfileId"`
}

type profileResponse struct {
	VerificationProfileID     string `json:"verificationProfileId"`
	Locale                    string `json:"locale"`
	EnrollmentsCount          int    `json:"enrollmentsCount"`
	RemainingEnrollmentsCount int    `json:"remainingEnrollmentsCount"`
	EnrollmentStatus          string `json:"enrollmentStatus"`
}

type enrollmentResponse struct {
	EnrollmentStatus     string `json:"enrollmentStatus"`
	EnrollmentsCount     int    `json:"enrollmentsCount"`
	RemainingEnrollments int    `json:"remainingEnrollments"`
	Phrase               string `json:"phrase"`
}

type phraseResponse struct {
	Phrase string `json:"phrase"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetProfile fetches a verification profile.
func (c *HTTPClient) GetProfile(ctx context.Context, id string) (Profile, error) {
	if id == "" {
		return Profile{}, ErrNotFound
	}

	var resp profileResponse

	err := withRetry(ctx, c.conf.Retry, func() error {
		return c.do(ctx, http.MethodGet, "/verificationProfiles/"+url.PathEscape(id), nil, "", &resp)
	})
	if err != nil {
		return Profile{}, fmt.Errorf("failed to get verification profile %s: %w", id, err)
	}

	return Profile{
		ID:                   resp.VerificationProfileID,
		RemainingEnrollments: resp.RemainingEnrollmentsCount,
	}, nil
}

// CreateProfile creates a new verification profile and returns its id.
// An empty id in the response is returned as-is; callers decide whether
// that is fatal.
func (c *HTTPClient) CreateProfile(ctx context.Context) (string, error) {
	body, err := json.Marshal(createProfileRequest{Locale: c.conf.Locale})
	if err != nil {
		return "", fmt.Errorf("failed to encode create profile request: %w", err)
	}

	var resp createProfileResponse
	if err := c.do(ctx, http.MethodPost, "/verificationProfiles", body, "application/json", &resp); err != nil {
		return "", fmt.Errorf("failed to create verification profile: %w", err)
	}

	return resp.VerificationProfileID, nil
}

// ResetEnrollments clears all enrollments of a profile.
func (c *HTTPClient) ResetEnrollments(ctx context.Context, id string) error {
	path := "/verificationProfiles/" + url.PathEscape(id) + "/reset"
	if err := c.do(ctx, http.MethodPost, path, nil, "", nil); err != nil {
		return fmt.Errorf("failed to reset enrollments for %s: %w", id, err)
	}

	return nil
}

// ListPhrases returns the phrases the service accepts for enrollment.
func (c *HTTPClient) ListPhrases(ctx context.Context) ([]string, error) {
	var resp []phraseResponse

	path := "/verificationPhrases?locale=" + url.QueryEscape(c.conf.Locale)

	err := withRetry(ctx, c.conf.Retry, func() error {
		return c.do(ctx, http.MethodGet, path, nil, "", &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list verification phrases: %w", err)
	}

	phrases := make([]string, 0, len(resp))
	for _, p := range resp {
		phrases = append(phrases, p.Phrase)
	}

	return phrases, nil
}

// SubmitEnrollment posts one WAV sample. It is attempted exactly once.
func (c *HTTPClient) SubmitEnrollment(ctx context.Context, id string, audio []byte) (EnrollmentResult, error) {
	var resp enrollmentResponse

	path := "/verificationProfiles/" + url.PathEscape(id) + "/enroll"
	if err := c.do(ctx, http.MethodPost, path, audio, "application/octet-stream", &resp); err != nil {
		return EnrollmentResult{}, fmt.Errorf("failed to submit enrollment for %s: %w", id, err)
	}

	result := EnrollmentResult{
		RemainingEnrollments: resp.RemainingEnrollments,
		Phrase:               resp.Phrase,
	}
	if result.Completed() {
		result.Phrase = ""
	}

	return result, nil
}

// do performs one request and decodes a JSON response into out (if non-nil).
// Errors are classified into ErrTransport, ErrNotFound and ErrRecognition.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.conf.Endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set(subscriptionKeyHeader, c.conf.SubscriptionKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrTransport, err)
	}

	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(raw))

	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case isTransportStatus(resp.StatusCode):
		return fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusBadRequest:
		return &RecognitionError{Reason: msg}
	default:
		return fmt.Errorf("speaker recognition API error %d: %s", resp.StatusCode, msg)
	}
}
