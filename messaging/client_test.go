// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/lib/testutil"
)

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:6167"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{})
		if err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{HomeserverURL: "://invalid"})
		if err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})

	t.Run("non-http scheme", func(t *testing.T) {
		_, err := NewClient(ClientConfig{HomeserverURL: "ftp://matrix.org"})
		if err == nil {
			t.Fatal("expected error for ftp scheme")
		}
	})
}

func TestUserAgent(t *testing.T) {
	agents := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		agents <- request.Header.Get("User-Agent")
		writeJSON(writer, map[string]string{
			"user_id":      "@irl_:matrix.org",
			"access_token": "syt_irl_token",
			"device_id":    "FLOPPYDEV",
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL, UserAgent: "floppy/1.2.3"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.Login(context.Background(), "irl_", testutil.Secret(t, "hunter2"))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	defer session.Close()

	if agent := <-agents; agent != "floppy/1.2.3" {
		t.Errorf("User-Agent = %q, want floppy/1.2.3", agent)
	}
}

func TestLogin(t *testing.T) {
	t.Run("successful login", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/login" {
				t.Errorf("unexpected path: %s", request.URL.Path)
				writer.WriteHeader(http.StatusNotFound)
				return
			}
			if request.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", request.Method)
			}

			var body LoginRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode request body: %v", err)
				return
			}
			if body.Type != "m.login.password" {
				t.Errorf("unexpected login type: %s", body.Type)
			}
			if body.Identifier == nil || body.Identifier.Type != "m.id.user" || body.Identifier.User != "irl_" {
				t.Errorf("unexpected identifier: %+v", body.Identifier)
			}
			if body.Password != "hunter2" {
				t.Errorf("unexpected password: %q", body.Password)
			}
			if body.InitialDeviceDisplayName != "floppy" {
				t.Errorf("unexpected device display name: %q", body.InitialDeviceDisplayName)
			}

			writeJSON(writer, map[string]string{
				"user_id":      "@irl_:matrix.org",
				"access_token": "syt_irl_token",
				"device_id":    "FLOPPYDEV",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		session, err := client.Login(context.Background(), "irl_", testutil.Secret(t, "hunter2"))
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		defer session.Close()

		if session.UserID() != ref.MustParseUserID("@irl_:matrix.org") {
			t.Errorf("unexpected user ID: %s", session.UserID())
		}
		if session.AccessToken() != "syt_irl_token" {
			t.Errorf("unexpected access token: %s", session.AccessToken())
		}
		if session.DeviceID() != "FLOPPYDEV" {
			t.Errorf("unexpected device ID: %s", session.DeviceID())
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(MatrixError{
				Code:    ErrCodeForbidden,
				Message: "Invalid password",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		_, err = client.Login(context.Background(), "irl_", testutil.Secret(t, "wrong"))
		if err == nil {
			t.Fatal("expected error for invalid credentials")
		}
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Errorf("expected M_FORBIDDEN error, got: %v", err)
		}
		if !IsAuthError(err) {
			t.Errorf("IsAuthError should be true for M_FORBIDDEN")
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		client, _ := NewClient(ClientConfig{HomeserverURL: "http://localhost:1"})

		_, err := client.Login(context.Background(), "", testutil.Secret(t, "password"))
		if err == nil {
			t.Fatal("expected error for empty username")
		}

		_, err = client.Login(context.Background(), "alice", nil)
		if err == nil {
			t.Fatal("expected error for nil password")
		}
	})
}

func TestSessionFromToken(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	session, err := client.SessionFromToken(ref.MustParseUserID("@alice:test.local"), "syt_token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	defer session.Close()

	if session.UserID().String() != "@alice:test.local" {
		t.Errorf("unexpected user ID: %s", session.UserID())
	}
	if session.AccessToken() != "syt_token" {
		t.Errorf("unexpected access token: %s", session.AccessToken())
	}
	// DeviceID is empty when created from a token.
	if session.DeviceID() != "" {
		t.Errorf("expected empty device ID, got: %s", session.DeviceID())
	}
}

func TestMatrixError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := &MatrixError{
			Code:       ErrCodeForbidden,
			Message:    "Access denied",
			StatusCode: 403,
		}
		expected := "matrix: M_FORBIDDEN (403): Access denied"
		if err.Error() != expected {
			t.Errorf("unexpected error message: %s", err.Error())
		}
	})

	t.Run("IsMatrixError", func(t *testing.T) {
		err := &MatrixError{Code: ErrCodeNotFound, Message: "not found", StatusCode: 404}
		if !IsMatrixError(err, ErrCodeNotFound) {
			t.Error("IsMatrixError should match M_NOT_FOUND")
		}
		if IsMatrixError(err, ErrCodeForbidden) {
			t.Error("IsMatrixError should not match M_FORBIDDEN")
		}
	})

	t.Run("non-matrix error returns false", func(t *testing.T) {
		err := context.Canceled
		if IsMatrixError(err, ErrCodeNotFound) {
			t.Error("IsMatrixError should return false for non-matrix errors")
		}
		if IsAuthError(err) {
			t.Error("IsAuthError should return false for non-matrix errors")
		}
	})

	t.Run("retry after", func(t *testing.T) {
		err := &MatrixError{Code: ErrCodeLimitExceeded, RetryAfterMS: 1500, StatusCode: 429}
		if err.RetryAfter() != 1500*time.Millisecond {
			t.Errorf("RetryAfter = %v, want 1.5s", err.RetryAfter())
		}
	})

	t.Run("unauthorized status is an auth error", func(t *testing.T) {
		err := &MatrixError{Code: ErrCodeUnknown, StatusCode: http.StatusUnauthorized}
		if !IsAuthError(err) {
			t.Error("IsAuthError should be true for a 401 response")
		}
	})
}

func TestNonMatrixErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "text/html")
		writer.WriteHeader(http.StatusBadGateway)
		writer.Write([]byte("<html>upstream unavailable</html>"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Login(context.Background(), "irl_", testutil.Secret(t, "hunter2"))
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", httpErr.StatusCode)
	}
	if !httpErr.IsGatewayFailure() {
		t.Error("502 should be a gateway failure")
	}
	if IsAuthError(err) {
		t.Error("proxy failure should not be an auth error")
	}
}
