package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// StartSession asks the backend to open a recycling session at a bin.
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (StartSessionResult, error) {
	var out StartSessionResult
	if err := c.postJSON(ctx, "/start-session", req, &out); err != nil {
		return StartSessionResult{}, err
	}
	if out.SessionToken == "" || out.TimeLeft <= 0 {
		return StartSessionResult{}, fmt.Errorf("%w: start-session without token or time", ErrDecode)
	}
	return out, nil
}

// SubmitItem submits one scanned barcode. A backend demand for proof comes back as a
// *ValidationError matching ErrProofRequired.
func (c *Client) SubmitItem(ctx context.Context, req SubmitItemRequest) (SubmitItemResult, error) {
	var out SubmitItemResult
	if err := c.postJSON(ctx, "/submit-item", req, &out); err != nil {
		return SubmitItemResult{}, err
	}
	return out, nil
}

// UploadProof sends the photo at path as the multipart file "proof_photo". The file
// name on the wire is a random UUID keeping the original extension.
func (c *Client) UploadProof(ctx context.Context, sessionToken, path, contentType string) (MessageResult, error) {
	if sessionToken == "" {
		return MessageResult{}, &ValidationError{
			Message: "invalid request",
			Fields:  map[string][]string{"session_token": {"session_token is required"}},
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return MessageResult{}, fmt.Errorf("open proof photo: %w", err)
	}
	defer f.Close()

	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".jpg"
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_token", sessionToken); err != nil {
		return MessageResult{}, err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="proof_photo"; filename="%s%s"`, uuid.NewString(), ext))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return MessageResult{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return MessageResult{}, fmt.Errorf("read proof photo: %w", err)
	}
	if err := mw.Close(); err != nil {
		return MessageResult{}, err
	}

	var out MessageResult
	if _, err := c.do(ctx, http.MethodPost, "/upload-proof", &buf, mw.FormDataContentType(), &out); err != nil {
		return MessageResult{}, err
	}
	return out, nil
}

// EndSession closes the session on the backend.
func (c *Client) EndSession(ctx context.Context, req EndSessionRequest) (MessageResult, error) {
	var out MessageResult
	if err := c.postJSON(ctx, "/end-session", req, &out); err != nil {
		return MessageResult{}, err
	}
	return out, nil
}

// Ping checks backend reachability with the dedicated ping client. Any non-2xx answer
// or transport failure is ErrServiceUnavailable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/ping"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID(ctx))

	resp, err := c.ping.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Err: ErrServiceUnavailable}
	}
	return nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (TokenResult, error) {
	var out TokenResult
	if err := c.postJSON(ctx, "/login", req, &out); err != nil {
		return TokenResult{}, err
	}
	if out.Token == "" {
		return TokenResult{}, fmt.Errorf("%w: login without token", ErrDecode)
	}
	return out, nil
}

// Register creates an account. The backend may or may not sign the user in; Token is
// empty when it does not.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (TokenResult, error) {
	var out TokenResult
	if err := c.postJSON(ctx, "/register", req, &out); err != nil {
		return TokenResult{}, err
	}
	return out, nil
}

// Logout revokes the current credential on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.postJSON(ctx, "/logout", nil, nil)
}

// StoreProfile creates the profile of the signed-in user.
func (c *Client) StoreProfile(ctx context.Context, req ProfileRequest) (Profile, error) {
	var out Profile
	if err := c.postJSON(ctx, "/profile", req, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

// Me returns the profile of the signed-in user. ok is false when none exists yet.
func (c *Client) Me(ctx context.Context) (profile Profile, ok bool, err error) {
	var out struct {
		Profile *Profile `json:"profile"`
	}
	if err := c.getJSON(ctx, "/profile/me", &out); err != nil {
		return Profile{}, false, err
	}
	if out.Profile == nil {
		return Profile{}, false, nil
	}
	return *out.Profile, true, nil
}

// Leaderboard returns the leaderboard for scope.
func (c *Client) Leaderboard(ctx context.Context, scope LeaderboardScope) (Leaderboard, error) {
	if !scope.valid() {
		return Leaderboard{}, fmt.Errorf("unknown leaderboard scope %q", scope)
	}
	var out Leaderboard
	if err := c.getJSON(ctx, "/leaderboard/"+string(scope), &out); err != nil {
		return Leaderboard{}, err
	}
	return out, nil
}
