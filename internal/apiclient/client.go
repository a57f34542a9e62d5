// Package apiclient is a Go client for the registration and password reset API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medassoc/internal/logger"
	"medassoc/internal/registration"
)

// Outcome titles shown to the applicant
const (
	TitleInvalidEmail    = "Invalid Email"
	TitleEmailRegistered = "Email already registered"
	TitleUsernameTaken   = "Username taken"
	TitleInvalidDetails  = "Invalid registration details"
	TitleFailed          = "Registration failed"
	TitleRegistered      = "Registration successful"
	TitleResetFailed     = "Password reset failed"
	TitlePasswordChanged = "Password updated"
)

const maxResponseBytes = 1 << 20

// Outcome is what the applicant is told after a call
type Outcome struct {
	Success          bool
	Title            string
	Message          string
	RedirectURL      string
	MembershipNumber string
	FieldErrors      map[string][]string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// RegisterUser validates the form locally and submits it. An invalid email never reaches the server.
func (c *Client) RegisterUser(ctx context.Context, form registration.Form) Outcome {
	form.Normalize()

	if !registration.EmailPattern.MatchString(form.Email) {
		return Outcome{Title: TitleInvalidEmail, Message: "Please enter a valid email address."}
	}
	if fields := form.Validate(); len(fields) > 0 {
		return Outcome{Title: TitleInvalidDetails, Message: "Please correct the highlighted fields.", FieldErrors: fields}
	}

	if form.CSRFToken == "" {
		token, err := c.csrfToken(ctx)
		if err != nil {
			logger.LogError("Failed to fetch CSRF token: %v", err)
			return Outcome{Title: TitleFailed, Message: "Please try again later."}
		}
		form.CSRFToken = token
	}

	status, body, err := c.postJSON(ctx, "/api/register", form)
	if err != nil {
		logger.LogError("Registration request failed: %v", err)
		return Outcome{Title: TitleFailed, Message: "Please try again later."}
	}
	if status < 200 || status > 299 {
		return DescribeFailure(status, body)
	}

	var env struct {
		Data struct {
			MembershipNumber string `json:"membership_number"`
			RedirectURL      string `json:"redirect_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		logger.LogWarn("Registration succeeded but the response could not be read: %v", err)
	}
	return Outcome{
		Success:          true,
		Title:            TitleRegistered,
		Message:          "Check your email for a verification code.",
		RedirectURL:      env.Data.RedirectURL,
		MembershipNumber: env.Data.MembershipNumber,
	}
}

// DescribeFailure turns a failed registration response into a message for the applicant.
// Only a conflict naming the email claims the address is registered.
func DescribeFailure(status int, body []byte) Outcome {
	var env struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Errors) == 0 {
		out := Outcome{Title: TitleFailed, Message: "Please try again later."}
		if status == http.StatusTooManyRequests {
			out.Message = "Too many attempts. Please wait a few minutes and try again."
		}
		return out
	}

	out := Outcome{FieldErrors: env.Errors}
	_, emailErr := env.Errors["email"]
	_, usernameErr := env.Errors["username"]
	switch {
	case status == http.StatusConflict && emailErr:
		out.Title = TitleEmailRegistered
		out.Message = "An account with this email already exists. Try signing in or resetting your password."
	case status == http.StatusConflict && usernameErr:
		out.Title = TitleUsernameTaken
		out.Message = "Please choose a different username."
	default:
		out.Title = TitleInvalidDetails
		out.Message = "Please correct the highlighted fields."
	}
	return out
}

// ResetPassword completes a password reset for a member ("user") or administrator ("admin").
func (c *Client) ResetPassword(ctx context.Context, accountType, token, newPassword, confirmPassword string) Outcome {
	if newPassword != confirmPassword {
		return Outcome{Title: TitleResetFailed, Message: "Passwords do not match",
			FieldErrors: map[string][]string{"confirm_password": {"Passwords do not match"}}}
	}

	path := "/api/password/reset"
	if accountType == "admin" {
		path = "/api/admin/password/reset"
	}
	status, body, err := c.postJSON(ctx, path, map[string]string{
		"token":            token,
		"new_password":     newPassword,
		"confirm_password": confirmPassword,
	})
	if err != nil {
		logger.LogError("Password reset request failed: %v", err)
		return Outcome{Title: TitleResetFailed, Message: "Please try again later."}
	}
	if status >= 200 && status <= 299 {
		return Outcome{Success: true, Title: TitlePasswordChanged, Message: "You can now sign in with your new password."}
	}

	var env struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	out := Outcome{Title: TitleResetFailed, Message: "The reset link is invalid or has expired."}
	if json.Unmarshal(body, &env) == nil {
		out.FieldErrors = env.Errors
		if env.Message != "" {
			out.Message = env.Message
		}
	}
	return out
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/csrf-token", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("csrf endpoint returned status %d", resp.StatusCode)
	}
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode csrf token: %w", err)
	}
	return body.CSRFToken, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
