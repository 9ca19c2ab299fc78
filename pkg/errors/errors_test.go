package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	netErr := stderrors.New("dial tcp: connection refused")

	tests := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		// Retryable
		{"no response", 0, netErr, true},
		{"timeout", 0, context.DeadlineExceeded, true},
		{"internal error 500", http.StatusInternalServerError, nil, true},
		{"bad gateway 502", http.StatusBadGateway, nil, true},
		{"service unavailable 503", http.StatusServiceUnavailable, nil, true},
		{"gateway timeout 504", http.StatusGatewayTimeout, nil, true},
		{"upper edge 599", 599, nil, true},

		// Terminal
		{"canceled", 0, context.Canceled, false},
		{"wrapped canceled", 0, fmt.Errorf("do: %w", context.Canceled), false},
		{"no response no error", 0, nil, false},
		{"bad request 400", http.StatusBadRequest, nil, false},
		{"unauthorized 401", http.StatusUnauthorized, nil, false},
		{"not found 404", http.StatusNotFound, nil, false},
		{"unprocessable 422", http.StatusUnprocessableEntity, nil, false},
		{"too many requests 429", http.StatusTooManyRequests, nil, false},
		{"out of range 600", 600, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.status, tt.err); got != tt.want {
				t.Errorf("Classify(%d, %v) = %v, want %v", tt.status, tt.err, got, tt.want)
			}
		})
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		serverMsg string
		wantMsg   string
		wantKind  Kind
	}{
		{"401 ignores server message", http.StatusUnauthorized, "token expired", MsgUnauthorized, KindClient},
		{"403 server message", http.StatusForbidden, "no access to kb", "no access to kb", KindClient},
		{"403 default", http.StatusForbidden, "", MsgForbidden, KindClient},
		{"404 server message", http.StatusNotFound, "not found", "not found", KindClient},
		{"404 default", http.StatusNotFound, "", MsgNotFound, KindClient},
		{"422 default", http.StatusUnprocessableEntity, "", MsgValidation, KindClient},
		{"500 fixed", http.StatusInternalServerError, "stack trace", MsgInternal, KindServer},
		{"502 fixed", http.StatusBadGateway, "", MsgBadGateway, KindServer},
		{"503 fixed", http.StatusServiceUnavailable, "", MsgUnavailable, KindServer},
		{"504 fixed", http.StatusGatewayTimeout, "", MsgGatewayTimeout, KindServer},
		{"418 fallback", http.StatusTeapot, "", "request failed with status 418", KindClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := FromStatus(tt.status, tt.serverMsg, nil)
			if e.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", e.Message, tt.wantMsg)
			}
			if e.Code != tt.status {
				t.Errorf("Code = %d, want %d", e.Code, tt.status)
			}
			if e.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", e.Kind, tt.wantKind)
			}
		})
	}
}

func TestTransportAndCanceled(t *testing.T) {
	cause := stderrors.New("no route to host")

	e := Transport(cause)
	if e.Code != 0 || e.Message != MsgConnectionFailed {
		t.Errorf("Transport() = %+v", e)
	}
	if !stderrors.Is(e, cause) {
		t.Error("Transport() should wrap its cause")
	}

	c := Canceled(context.Canceled)
	if c.Kind != KindCanceled || c.Code != 0 {
		t.Errorf("Canceled() = %+v", c)
	}
	if !stderrors.Is(c, context.Canceled) {
		t.Error("Canceled() should wrap context.Canceled")
	}
}

func TestApplication(t *testing.T) {
	code := 4001
	e := Application(http.StatusOK, "", "title is required", &code, nil)
	if e.Message != "title is required" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Code != 4001 {
		t.Errorf("Code = %d, want 4001", e.Code)
	}
	if e.Retryable {
		t.Error("application failures must not be retryable")
	}

	e = Application(http.StatusOK, "duplicate name", "ignored", nil, nil)
	if e.Message != "duplicate name" || e.Code != http.StatusOK {
		t.Errorf("Application() = %+v", e)
	}

	e = Application(http.StatusOK, "", "", nil, nil)
	if e.Message != MsgApplication {
		t.Errorf("Message = %q, want %q", e.Message, MsgApplication)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}

	orig := FromStatus(http.StatusNotFound, "", nil)
	if Wrap(fmt.Errorf("outer: %w", orig)) != orig {
		t.Error("Wrap() should return an existing *Error unchanged")
	}
	if !IsKind(Wrap(context.Canceled), KindCanceled) {
		t.Error("Wrap(context.Canceled) should be canceled")
	}
	if !IsKind(Wrap(stderrors.New("eof")), KindTransport) {
		t.Error("Wrap(other) should be a transport error")
	}
	if !IsStatus(orig, http.StatusNotFound) {
		t.Error("IsStatus() should match")
	}
}

func TestErrorFormat(t *testing.T) {
	e := FromStatus(http.StatusServiceUnavailable, "", nil).WithRequest("GET", "/api/x", 4)
	msg := e.Error()
	for _, s := range []string{"server", "GET", "/api/x", "503", "attempts=4"} {
		if !strings.Contains(msg, s) {
			t.Errorf("error message should contain %q, got %q", s, msg)
		}
	}
}

func TestDecodeAndRejected(t *testing.T) {
	cause := stderrors.New("unexpected end of JSON input")
	d := Decode(http.StatusOK, cause)
	if d.Kind != KindClient || d.Message != MsgInvalidPayload || d.Code != http.StatusOK {
		t.Errorf("unexpected decode error: %+v", d)
	}
	if !stderrors.Is(d, cause) {
		t.Error("Decode() should wrap its cause")
	}

	r := Rejected(stderrors.New("missing base url"))
	if r.Kind != KindClient || r.Message != "missing base url" || r.Code != 0 {
		t.Errorf("unexpected rejected error: %+v", r)
	}
}
