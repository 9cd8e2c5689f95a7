package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "findings", err: Findings("drift detected"), want: ExitFindings},
		{name: "wrapped findings", err: fmt.Errorf("detect: %w", Findings("drift")), want: ExitFindings},
		{name: "connection", err: ConnectionError("10.0.0.1", stderrors.New("timeout")), want: ExitFailure},
		{name: "plain", err: stderrors.New("boom"), want: ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKind(t *testing.T) {
	base := stderrors.New("unexpected EOF")
	err := fmt.Errorf("load stack: %w", ParseError("stacks/dns/docker-compose.yml", 7, base))

	if Kind(err) != ErrCodeParse {
		t.Fatalf("Kind() = %q, want %q", Kind(err), ErrCodeParse)
	}
	if !stderrors.Is(err, base) {
		t.Error("wrapped error should unwrap to the parser error")
	}

	appErr, ok := As(err)
	if !ok {
		t.Fatal("As() did not find AppError")
	}
	if loc := appErr.Location(); loc.File != "stacks/dns/docker-compose.yml" || loc.Line != 7 {
		t.Errorf("Location() = %+v", loc)
	}
	if Kind(stderrors.New("x")) != "" {
		t.Error("Kind() of a plain error should be empty")
	}
}

func TestSummary(t *testing.T) {
	got := Summary(ConnectionError("docker-01", stderrors.New("handshake failed")))
	if !strings.HasPrefix(got, "CONNECTION_ERROR [host=docker-01]") {
		t.Errorf("Summary() = %q", got)
	}
	if Summary(nil) != "" {
		t.Error("Summary(nil) should be empty")
	}
}
