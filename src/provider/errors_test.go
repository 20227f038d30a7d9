package provider

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// jenkinsStatus mirrors how the Jenkins client reports a rejected request.
func jenkinsStatus(op string, sentinel error, code int, body string) error {
	return Transport(op, fmt.Errorf("%w: status %d: %s", sentinel, code, body))
}

func TestWrapError(t *testing.T) {
	_, badURL := ParseBuildURL("https://jenkins.example.com/view/all/builds")

	tests := []struct {
		name     string
		err      error
		wantMsg  string
		wantHint []string
		sentinel error
	}{
		{
			name:     "build URL without job segments",
			err:      badURL,
			wantMsg:  "Invalid build URL",
			wantHint: []string{"/job/<name>/<number>/", "/job/<folder>/job/<name>/<number>/"},
			sentinel: ErrInvalidURL,
		},
		{
			name:     "401 from the build API",
			err:      jenkinsStatus("get build team/app#42", ErrAuthFailed, 401, "Invalid password/token for user: bot"),
			wantMsg:  "Authentication failed",
			wantHint: []string{"API token", "JENKINS_USER", "JENKINS_TOKEN"},
			sentinel: ErrAuthFailed,
		},
		{
			name:     "403 from the crumb issuer",
			err:      jenkinsStatus("crumb", ErrAuthFailed, 403, "bot is missing the Overall/Read permission"),
			wantMsg:  "Authentication failed",
			wantHint: []string{"API token"},
			sentinel: ErrAuthFailed,
		},
		{
			name:     "bare 401 status line",
			err:      errors.New("401 Unauthorized"),
			wantMsg:  "Authentication failed",
			wantHint: []string{"JENKINS_TOKEN"},
		},
		{
			name:     "deleted build",
			err:      jenkinsStatus("get build app#9001", ErrBuildNotFound, 404, ""),
			wantMsg:  "Build not found",
			wantHint: []string{"build URL is correct", "you have access"},
			sentinel: ErrBuildNotFound,
		},
		{
			name:     "bare 404 status line",
			err:      errors.New("404 Not Found"),
			wantMsg:  "Build not found",
			wantHint: []string{"access to the job"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError(tt.err)

			var userErr *UserError
			if !errors.As(wrapped, &userErr) {
				t.Fatalf("WrapError() returned %T, want *UserError", wrapped)
			}
			if userErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", userErr.Message, tt.wantMsg)
			}
			for _, h := range tt.wantHint {
				if !strings.Contains(userErr.Hint, h) {
					t.Errorf("Hint should contain %q, got %q", h, userErr.Hint)
				}
			}
			if tt.sentinel != nil && !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(wrapped, %v) = false, want true", tt.sentinel)
			}
		})
	}
}

func TestWrapError_PassesThrough(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"throttled by the rate limiter", jenkinsStatus("list jobs", ErrRateLimited, 429, "Too Many Requests")},
		{"controller timed out", Transport("get build app#42 console", fmt.Errorf("%w: context deadline exceeded", ErrNetworkTimeout))},
		{"controller restarting", Transport("get job app", errors.New("status 503: Jenkins is going to shut down"))},
		{"unparsable build JSON", Logic("get build app#42", errors.New("invalid character '<' looking for beginning of value"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError(tt.err)
			if wrapped != tt.err {
				t.Errorf("WrapError() = %v, want original error %v", wrapped, tt.err)
			}
		})
	}

	if WrapError(nil) != nil {
		t.Error("WrapError(nil) should be nil")
	}
}

func TestUserError_Error(t *testing.T) {
	cause := jenkinsStatus("get build app#42", ErrBuildNotFound, 404, "")

	tests := []struct {
		name string
		err  *UserError
		want string
	}{
		{
			name: "message only",
			err:  &UserError{Message: "Build not found"},
			want: "Build not found",
		},
		{
			name: "message and hint",
			err:  &UserError{Message: "Build not found", Hint: "Check the job name"},
			want: "Build not found\n\nHint: Check the job name",
		},
		{
			name: "message, hint and details",
			err:  &UserError{Message: "Build not found", Hint: "Check the job name", Err: cause},
			want: "Build not found\n\nHint: Check the job name\n\nDetails: " + cause.Error(),
		},
		{
			name: "message and details",
			err:  &UserError{Message: "Build not found", Err: cause},
			want: "Build not found\n\nDetails: " + cause.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserError_Unwrap(t *testing.T) {
	cause := jenkinsStatus("trigger app", ErrAuthFailed, 403, "No valid crumb was included in the request")
	userErr := &UserError{Message: "Authentication failed", Err: cause}

	if userErr.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", userErr.Unwrap(), cause)
	}
	if !errors.Is(userErr, ErrAuthFailed) || !errors.Is(userErr, ErrTransport) {
		t.Error("UserError should expose both the sentinel and the error kind")
	}
	if (&UserError{Message: "x"}).Unwrap() != nil {
		t.Error("Unwrap() without a cause should be nil")
	}
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:8080: connect: connection refused")
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{name: "transport", err: Transport("get job team/app", cause), kind: ErrTransport},
		{name: "analysis", err: Analysis("analyze team/app#42", cause), kind: ErrAnalysis},
		{name: "persistence", err: Persistence("save pattern team/app", cause), kind: ErrPersistence},
		{name: "logic", err: Logic("apply solution team/app#42", cause), kind: ErrLogic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.kind)
			}
			if !errors.Is(tt.err, cause) {
				t.Errorf("errors.Is(%v, cause) = false, want true", tt.err)
			}
			var typed *Error
			if !errors.As(tt.err, &typed) {
				t.Fatalf("errors.As(%v, *Error) = false", tt.err)
			}
			want := typed.Op + ": " + tt.kind.Error() + ": " + cause.Error()
			if typed.Error() != want {
				t.Errorf("Error() = %q, want %q", typed.Error(), want)
			}
		})
	}

	if Transport("noop", nil) != nil {
		t.Error("Transport(nil) should be nil")
	}
}
