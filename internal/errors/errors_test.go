package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config error", "E102", "Invalid listen address", CategoryConfig},
		{"storage error", "E120", "Unknown storage driver", CategoryStorage},
		{"transport error", "E140", "Server failed", CategoryTransport},
		{"cli error", "E160", "Unknown demo", CategoryCLI},
		{"unknown error code", "E999", "Unknown error", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := New("E104").WithField("server.max_sessions")
	want := "E104: Invalid limit (server.max_sessions)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := fmt.Errorf("dial tcp: refused")
	err = New("E123").Wrap(cause)
	if !strings.HasSuffix(err.Error(), ": dial tcp: refused") {
		t.Errorf("Error() = %q, want cause suffix", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	plain := Newf(CategoryCLI, "flag %q is required", "addr")
	if plain.Error() != `flag "addr" is required` {
		t.Errorf("Error() = %q", plain.Error())
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("load: %w", New("E101").WithDetail("line 3"))
	if !stderrors.Is(err, New("E101")) {
		t.Error("errors.Is should match by code")
	}
	if stderrors.Is(err, New("E102")) {
		t.Error("errors.Is should not match a different code")
	}
	if got := CodeOf(err); got != "E101" {
		t.Errorf("CodeOf = %q, want E101", got)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("CodeOf = %q, want empty", got)
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "E140") != nil {
		t.Error("FromError(nil) should be nil")
	}

	coded := New("E141")
	if got := FromError(fmt.Errorf("listen: %w", coded), "E140"); got != coded {
		t.Errorf("FromError should return the existing *Error, got %v", got)
	}

	cause := fmt.Errorf("boom")
	got := FromError(cause, "E140")
	if got.Code != "E140" || got.Wrapped != cause {
		t.Errorf("FromError = %+v, want E140 wrapping cause", got)
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	out := New("E102").
		WithField("addr").
		WithDetail(`"localhost" has no port`).
		Wrap(fmt.Errorf("missing port in address")).
		Format()

	for _, want := range []string{
		"ERROR E102: Invalid listen address",
		"Field: addr",
		`"localhost" has no port`,
		"Cause: missing port in address",
		"Hint: Use host:port",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("Format() should not contain ANSI codes when colors are disabled")
	}
}

func TestFormatJSON(t *testing.T) {
	got := New("E120").WithField("storage.driver").FormatJSON()
	for _, want := range []string{`"code":"E120"`, `"category":"storage"`, `"field":"storage.driver"`} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatJSON() = %s, missing %s", got, want)
		}
	}
	if strings.Contains(got, "cause") {
		t.Errorf("FormatJSON() = %s, should omit empty cause", got)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText(strings.Repeat("word ", 30), 20)
	for _, line := range lines {
		if len(line) > 20 {
			t.Errorf("line %q longer than 20", line)
		}
	}
	if wrapText("", 10) != nil {
		t.Error("empty text should produce no lines")
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, fmt.Errorf("serve: %w", New("E141")))
	if !strings.Contains(buf.String(), "E141: Address in use") {
		t.Errorf("Fprint = %q", buf.String())
	}

	buf.Reset()
	Fprint(&buf, fmt.Errorf("plain failure"))
	if !strings.Contains(buf.String(), "ERROR: plain failure") {
		t.Errorf("Fprint = %q", buf.String())
	}
}

func TestRegistry(t *testing.T) {
	codes := Codes()
	if len(codes) == 0 {
		t.Fatal("no codes registered")
	}
	for i, code := range codes {
		tmpl, ok := Lookup(code)
		if !ok {
			t.Errorf("Lookup(%s) failed", code)
		}
		if tmpl.Message == "" || tmpl.Category == "" {
			t.Errorf("%s has an incomplete template", code)
		}
		if i > 0 && codes[i-1] >= code {
			t.Errorf("codes not sorted: %s before %s", codes[i-1], code)
		}
	}
}
