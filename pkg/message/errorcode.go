package message

import (
	"encoding/binary"
	"fmt"
)

// ErrorCode is the error byte carried by an error report.
type ErrorCode uint8

// General errors.
const (
	ErrorBadCRC    ErrorCode = 0xFD
	ErrorBadLength ErrorCode = 0xFE
	ErrorUnknown   ErrorCode = 0xFF
)

// Pairing errors.
const (
	PErrorNotPairing       ErrorCode = 0x10
	PErrorBadAuthenticator ErrorCode = 0x11
	PErrorBadParameter     ErrorCode = 0x12
	PErrorMaxUser          ErrorCode = 0x13
)

// Keyturner errors.
const (
	KErrorNotAuthorized        ErrorCode = 0x20
	KErrorBadPIN               ErrorCode = 0x21
	KErrorBadNonce             ErrorCode = 0x22
	KErrorBadParameter         ErrorCode = 0x23
	KErrorInvalidAuthID        ErrorCode = 0x24
	KErrorDisabled             ErrorCode = 0x25
	KErrorRemoteNotAllowed     ErrorCode = 0x26
	KErrorTimeNotAllowed       ErrorCode = 0x27
	KErrorTooManyPINAttempts   ErrorCode = 0x28
	KErrorTooManyEntries       ErrorCode = 0x29
	KErrorCodeAlreadyExists    ErrorCode = 0x2A
	KErrorCodeInvalid          ErrorCode = 0x2B
	KErrorCodeInvalidTimeout1  ErrorCode = 0x2C
	KErrorCodeInvalidTimeout2  ErrorCode = 0x2D
	KErrorCodeInvalidTimeout3  ErrorCode = 0x2E
	KErrorAutoUnlockTooRecent  ErrorCode = 0x40
	KErrorPositionUnknown      ErrorCode = 0x41
	KErrorMotorBlocked         ErrorCode = 0x42
	KErrorClutchFailure        ErrorCode = 0x43
	KErrorMotorTimeout         ErrorCode = 0x44
	KErrorBusy                 ErrorCode = 0x45
	KErrorCanceled             ErrorCode = 0x46
	KErrorNotCalibrated        ErrorCode = 0x47
	KErrorMotorPositionLimit   ErrorCode = 0x48
	KErrorMotorLowVoltage      ErrorCode = 0x49
	KErrorMotorPowerFailure    ErrorCode = 0x4A
	KErrorClutchPowerFailure   ErrorCode = 0x4B
	KErrorVoltageTooLow        ErrorCode = 0x4C
	KErrorFirmwareUpdateNeeded ErrorCode = 0x4D
)

var errorCodeNames = map[ErrorCode]string{
	ErrorBadCRC:                "ERROR_BAD_CRC",
	ErrorBadLength:             "ERROR_BAD_LENGTH",
	ErrorUnknown:               "ERROR_UNKNOWN",
	PErrorNotPairing:           "P_ERROR_NOT_PAIRING",
	PErrorBadAuthenticator:     "P_ERROR_BAD_AUTHENTICATOR",
	PErrorBadParameter:         "P_ERROR_BAD_PARAMETER",
	PErrorMaxUser:              "P_ERROR_MAX_USER",
	KErrorNotAuthorized:        "K_ERROR_NOT_AUTHORIZED",
	KErrorBadPIN:               "K_ERROR_BAD_PIN",
	KErrorBadNonce:             "K_ERROR_BAD_NONCE",
	KErrorBadParameter:         "K_ERROR_BAD_PARAMETER",
	KErrorInvalidAuthID:        "K_ERROR_INVALID_AUTH_ID",
	KErrorDisabled:             "K_ERROR_DISABLED",
	KErrorRemoteNotAllowed:     "K_ERROR_REMOTE_NOT_ALLOWED",
	KErrorTimeNotAllowed:       "K_ERROR_TIME_NOT_ALLOWED",
	KErrorTooManyPINAttempts:   "K_ERROR_TOO_MANY_PIN_ATTEMPTS",
	KErrorTooManyEntries:       "K_ERROR_TOO_MANY_ENTRIES",
	KErrorCodeAlreadyExists:    "K_ERROR_CODE_ALREADY_EXISTS",
	KErrorCodeInvalid:          "K_ERROR_CODE_INVALID",
	KErrorCodeInvalidTimeout1:  "K_ERROR_CODE_INVALID_TIMEOUT_1",
	KErrorCodeInvalidTimeout2:  "K_ERROR_CODE_INVALID_TIMEOUT_2",
	KErrorCodeInvalidTimeout3:  "K_ERROR_CODE_INVALID_TIMEOUT_3",
	KErrorAutoUnlockTooRecent:  "K_ERROR_AUTO_UNLOCK_TOO_RECENT",
	KErrorPositionUnknown:      "K_ERROR_POSITION_UNKNOWN",
	KErrorMotorBlocked:         "K_ERROR_MOTOR_BLOCKED",
	KErrorClutchFailure:        "K_ERROR_CLUTCH_FAILURE",
	KErrorMotorTimeout:         "K_ERROR_MOTOR_TIMEOUT",
	KErrorBusy:                 "K_ERROR_BUSY",
	KErrorCanceled:             "K_ERROR_CANCELED",
	KErrorNotCalibrated:        "K_ERROR_NOT_CALIBRATED",
	KErrorMotorPositionLimit:   "K_ERROR_MOTOR_POSITION_LIMIT",
	KErrorMotorLowVoltage:      "K_ERROR_MOTOR_LOW_VOLTAGE",
	KErrorMotorPowerFailure:    "K_ERROR_MOTOR_POWER_FAILURE",
	KErrorClutchPowerFailure:   "K_ERROR_CLUTCH_POWER_FAILURE",
	KErrorVoltageTooLow:        "K_ERROR_VOLTAGE_TOO_LOW",
	KErrorFirmwareUpdateNeeded: "K_ERROR_FIRMWARE_UPDATE_NEEDED",
}

// UndefinedErrorName is the name reported for bytes outside the taxonomy.
const UndefinedErrorName = "UNDEFINED_ERROR"

// String returns the protocol name of the code, or UNDEFINED_ERROR.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return UndefinedErrorName
}

// IsDefined reports whether c belongs to the error taxonomy.
func (c ErrorCode) IsDefined() bool {
	_, ok := errorCodeNames[c]
	return ok
}

// ErrorCategory groups error codes.
type ErrorCategory uint8

const (
	CategoryUndefined ErrorCategory = iota
	CategoryGeneral
	CategoryPairing
	CategoryKeyturner
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryGeneral:
		return "General"
	case CategoryPairing:
		return "Pairing"
	case CategoryKeyturner:
		return "Keyturner"
	default:
		return "Undefined"
	}
}

// Category returns the group the code belongs to.
func (c ErrorCode) Category() ErrorCategory {
	if !c.IsDefined() {
		return CategoryUndefined
	}
	switch {
	case c >= 0xFD:
		return CategoryGeneral
	case c >= 0x10 && c <= 0x13:
		return CategoryPairing
	default:
		return CategoryKeyturner
	}
}

// LockError is an error reported by the lock in an error report.
type LockError struct {
	Code ErrorCode
	// Command is the command that caused the error, zero if not reported.
	Command Command
}

func (e *LockError) Error() string {
	if e.Command != 0 {
		return fmt.Sprintf("lock error %s (0x%02X) for %s", e.Code, uint8(e.Code), e.Command)
	}
	return fmt.Sprintf("lock error %s (0x%02X)", e.Code, uint8(e.Code))
}

// Is matches another *LockError with the same code, so callers can test
// errors.Is(err, &LockError{Code: KErrorBusy}).
func (e *LockError) Is(target error) bool {
	t, ok := target.(*LockError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// DecodeErrorReport parses an error report payload:
//
//	errorCode(1) | commandIdentifier(2 LE, optional)
func DecodeErrorReport(payload []byte) (*LockError, error) {
	if len(payload) < 1 {
		return nil, ErrBadLength
	}
	le := &LockError{Code: ErrorCode(payload[0])}
	if len(payload) >= 3 {
		le.Command = Command(binary.LittleEndian.Uint16(payload[1:3]))
	}
	return le, nil
}

// EncodeErrorReport builds an error report payload.
func EncodeErrorReport(code ErrorCode, cmd Command) []byte {
	return binary.LittleEndian.AppendUint16([]byte{byte(code)}, uint16(cmd))
}
