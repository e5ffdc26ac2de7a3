// Package upstream is the typed HTTP client for the warehouse backend API.
// The backend's contract is fixed; this package translates it into Go types
// and normalizes its failure shapes, but adds no behavior of its own.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dw-console-gateway/internal/model"
)

// Error is a non-2xx response from the backend, carrying the server-supplied
// message when one was present.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// LoginResult is the normalized success payload of POST /auth/login.
type LoginResult struct {
	Token string
	User  model.User
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL exposes the configured backend base for the reverse proxy.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// VerifyToken reports whether the backend still accepts the token. It fails
// closed: a transport error is returned to let the caller retry, but any
// definitive backend answer that is not a 2xx {valid:true} means false.
func (c *Client) VerifyToken(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/verify-token", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}

	var payload struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, nil
	}
	return payload.Valid, nil
}

// LicenseStatus fetches the deployment's license state. The endpoint is
// public; callers degrade any error to an informational "check failed"
// status rather than propagating it.
func (c *Client) LicenseStatus(ctx context.Context) (model.LicenseStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/license/status", nil)
	if err != nil {
		return model.LicenseStatus{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.LicenseStatus{}, fmt.Errorf("license status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.LicenseStatus{}, &Error{Status: resp.StatusCode, Message: "license status unavailable"}
	}

	// The backend wraps the status in a {success, data} envelope; older
	// deployments return the status object bare. Accept both.
	var envelope struct {
		Data    json.RawMessage `json:"data"`
		Valid   *bool           `json:"valid"`
		Message string          `json:"message"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.LicenseStatus{}, fmt.Errorf("license status: %w", err)
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return model.LicenseStatus{}, fmt.Errorf("license status: %w", err)
	}

	var status model.LicenseStatus
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &status); err != nil {
			return model.LicenseStatus{}, fmt.Errorf("license status: %w", err)
		}
	} else if envelope.Valid != nil {
		status.Valid = *envelope.Valid
		status.Message = envelope.Message
	} else {
		return model.LicenseStatus{}, fmt.Errorf("license status: unrecognized response shape")
	}

	status.CheckedAt = time.Now().UTC()
	return status, nil
}

// Login exchanges credentials for a token and the normalized user profile.
func (c *Client) Login(ctx context.Context, username, password, recaptchaToken string) (LoginResult, error) {
	payload := model.LoginRequest{Username: username, Password: password, RecaptchaToken: recaptchaToken}

	var body struct {
		Token            string `json:"token"`
		UserID           int64  `json:"user_id"`
		Username         string `json:"username"`
		Email            string `json:"email"`
		FirstName        string `json:"first_name"`
		LastName         string `json:"last_name"`
		Phone            string `json:"phone"`
		Department       string `json:"department"`
		Role             string `json:"role"`
		ChangePassword   bool   `json:"change_password"`
		ShowNotification bool   `json:"show_notification"`
	}
	if err := c.postJSON(ctx, "/auth/login", "", payload, &body); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Token: body.Token,
		User: model.User{
			ID:               body.UserID,
			Username:         body.Username,
			Email:            body.Email,
			FirstName:        body.FirstName,
			LastName:         body.LastName,
			Phone:            body.Phone,
			Department:       body.Department,
			Role:             body.Role,
			ChangePassword:   body.ChangePassword,
			ShowNotification: body.ShowNotification,
		},
	}, nil
}

// ForgotPassword requests a reset email. The backend answers uniformly
// whether or not the address exists; the message is relayed verbatim.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	err := c.postJSON(ctx, "/auth/forgot-password", "", model.ForgotPasswordRequest{Email: email}, &body)
	if err != nil {
		return "", err
	}
	return body.Message, nil
}

// ResetPassword completes an emailed reset flow.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	err := c.postJSON(ctx, "/auth/reset-password", "", model.ResetPasswordRequest{Token: token, NewPassword: newPassword}, &body)
	if err != nil {
		return "", err
	}
	return body.Message, nil
}

// ChangePassword sets a new password for the authenticated user, exiting the
// forced-change state on the backend side.
func (c *Client) ChangePassword(ctx context.Context, token, newPassword string) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	err := c.postJSON(ctx, "/auth/change-password-after-login", token, model.ChangePasswordRequest{NewPassword: newPassword}, &body)
	if err != nil {
		return "", err
	}
	return body.Message, nil
}

// ActivateLicense submits a license key on behalf of an admin.
func (c *Client) ActivateLicense(ctx context.Context, token, key string) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	err := c.postJSON(ctx, "/api/admin/license/activate", token, model.ActivateLicenseRequest{LicenseKey: key}, &body)
	if err != nil {
		return "", err
	}
	return body.Message, nil
}

// DeactivateLicense releases the active license.
func (c *Client) DeactivateLicense(ctx context.Context, token string) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	err := c.postJSON(ctx, "/api/admin/license/deactivate", token, struct{}{}, &body)
	if err != nil {
		return "", err
	}
	return body.Message, nil
}

func (c *Client) postJSON(ctx context.Context, path string, token string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: errorMessage(body, resp.StatusCode)}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", path, err)
		}
	}
	return nil
}

func errorMessage(body []byte, status int) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return http.StatusText(status)
}
