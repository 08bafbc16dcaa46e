package message

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		name string
		cat  ErrorCategory
	}{
		{0xFD, "ERROR_BAD_CRC", CategoryGeneral},
		{0xFE, "ERROR_BAD_LENGTH", CategoryGeneral},
		{0xFF, "ERROR_UNKNOWN", CategoryGeneral},
		{0x10, "P_ERROR_NOT_PAIRING", CategoryPairing},
		{0x11, "P_ERROR_BAD_AUTHENTICATOR", CategoryPairing},
		{0x13, "P_ERROR_MAX_USER", CategoryPairing},
		{0x20, "K_ERROR_NOT_AUTHORIZED", CategoryKeyturner},
		{0x2E, "K_ERROR_CODE_INVALID_TIMEOUT_3", CategoryKeyturner},
		{0x40, "K_ERROR_AUTO_UNLOCK_TOO_RECENT", CategoryKeyturner},
		{0x4D, "K_ERROR_FIRMWARE_UPDATE_NEEDED", CategoryKeyturner},
		{0x00, "UNDEFINED_ERROR", CategoryUndefined},
		{0x14, "UNDEFINED_ERROR", CategoryUndefined},
		{0x2F, "UNDEFINED_ERROR", CategoryUndefined},
		{0x4E, "UNDEFINED_ERROR", CategoryUndefined},
		{0xFC, "UNDEFINED_ERROR", CategoryUndefined},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("0x%02X", uint8(tt.code)), func(t *testing.T) {
			if got := tt.code.String(); got != tt.name {
				t.Errorf("String = %s, want %s", got, tt.name)
			}
			if got := tt.code.Category(); got != tt.cat {
				t.Errorf("Category = %s, want %s", got, tt.cat)
			}
			if tt.code.IsDefined() != (tt.cat != CategoryUndefined) {
				t.Errorf("IsDefined = %v", tt.code.IsDefined())
			}
		})
	}
}

func TestErrorCodeNeverPanics(t *testing.T) {
	defined := 0
	for b := 0; b < 256; b++ {
		c := ErrorCode(b)
		_ = c.String()
		_ = c.Category()
		if c.IsDefined() {
			defined++
		}
	}
	if defined != len(errorCodeNames) {
		t.Errorf("defined = %d, want %d", defined, len(errorCodeNames))
	}
}

func TestDecodeErrorReport(t *testing.T) {
	le, err := DecodeErrorReport([]byte{0xFD})
	if err != nil {
		t.Fatalf("DecodeErrorReport failed: %v", err)
	}
	if le.Code != ErrorBadCRC || le.Command != 0 {
		t.Errorf("got %v", le)
	}

	le, err = DecodeErrorReport(EncodeErrorReport(KErrorBadParameter, CommandRequestData))
	if err != nil {
		t.Fatalf("DecodeErrorReport failed: %v", err)
	}
	if le.Code != KErrorBadParameter || le.Command != CommandRequestData {
		t.Errorf("got %v", le)
	}

	if _, err := DecodeErrorReport(nil); !errors.Is(err, ErrBadLength) {
		t.Errorf("err = %v, want ErrBadLength", err)
	}
}

func TestLockErrorIs(t *testing.T) {
	err := fmt.Errorf("request: %w", &LockError{Code: KErrorBusy, Command: CommandLockAction})
	if !errors.Is(err, &LockError{Code: KErrorBusy}) {
		t.Error("errors.Is did not match code")
	}
	if errors.Is(err, &LockError{Code: KErrorCanceled}) {
		t.Error("errors.Is matched different code")
	}
	var le *LockError
	if !errors.As(err, &le) || le.Command != CommandLockAction {
		t.Errorf("errors.As = %v", le)
	}
}

func TestStatus(t *testing.T) {
	s, err := DecodeStatus([]byte{0x01})
	if err != nil || s != StatusAccepted {
		t.Errorf("DecodeStatus = %v, %v", s, err)
	}
	if StatusComplete.String() != "COMPLETE" {
		t.Errorf("String = %s", StatusComplete)
	}
	if _, err := DecodeStatus(nil); !errors.Is(err, ErrBadLength) {
		t.Errorf("err = %v, want ErrBadLength", err)
	}
}
