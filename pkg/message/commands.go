// Package message implements the Nuki wire formats.
//
// Two frame formats are used. Plain frames carry the pairing handshake in the
// clear:
//
//	command(2 LE) | payload(n) | crc16(2 LE)
//
// Encrypted frames carry every command after pairing:
//
//	nonce(24) | authorizationId(4 LE) | length(2 LE) | secretbox(
//	    authorizationId(4 LE) | command(2 LE) | payload(n) | crc16(2 LE))
//
// The package also holds the closed set of command identifiers, the error
// codes reported by the lock, and command status values.
package message

import (
	"fmt"
	"strings"
)

// Command identifies a Nuki command or response.
type Command uint16

// Command identifiers.
const (
	CommandRequestData                 Command = 0x0001
	CommandPublicKey                   Command = 0x0003
	CommandChallenge                   Command = 0x0004
	CommandAuthorizationAuthenticator  Command = 0x0005
	CommandAuthorizationData           Command = 0x0006
	CommandAuthorizationID             Command = 0x0007
	CommandRemoveUserAuthorization     Command = 0x0008
	CommandRequestAuthorizationEntries Command = 0x0009
	CommandAuthorizationEntry          Command = 0x000A
	CommandAuthorizationDataInvite     Command = 0x000B
	CommandKeyturnerStates             Command = 0x000C
	CommandLockAction                  Command = 0x000D
	CommandStatus                      Command = 0x000E
	CommandMostRecentCommand           Command = 0x000F
	CommandOpeningsClosingsSummary     Command = 0x0010
	CommandBatteryReport               Command = 0x0011
	CommandErrorReport                 Command = 0x0012
	CommandSetConfig                   Command = 0x0013
	CommandRequestConfig               Command = 0x0014
	CommandConfig                      Command = 0x0015
	CommandSetSecurityPIN              Command = 0x0019
	CommandRequestCalibration          Command = 0x001A
	CommandRequestReboot               Command = 0x001D
	CommandAuthorizationIDConfirmation Command = 0x001E
	CommandAuthorizationIDInvite       Command = 0x001F
	CommandVerifySecurityPIN           Command = 0x0020
	CommandUpdateTime                  Command = 0x0021
	CommandUpdateUserAuthorization     Command = 0x0025
	CommandAuthorizationEntryCount     Command = 0x0027
	CommandRequestLogEntries           Command = 0x0031
	CommandLogEntry                    Command = 0x0032
	CommandLogEntryCount               Command = 0x0033
	CommandEnableLogging               Command = 0x0034
	CommandSetAdvancedConfig           Command = 0x0035
	CommandRequestAdvancedConfig       Command = 0x0036
	CommandAdvancedConfig              Command = 0x0037
	CommandAddTimeControlEntry         Command = 0x0039
	CommandTimeControlEntryID          Command = 0x003A
	CommandRemoveTimeControlEntry      Command = 0x003B
	CommandRequestTimeControlEntries   Command = 0x003C
	CommandTimeControlEntryCount       Command = 0x003D
	CommandTimeControlEntry            Command = 0x003E
	CommandUpdateTimeControlEntry      Command = 0x003F
	CommandAddKeypadCode               Command = 0x0041
	CommandKeypadCodeID                Command = 0x0042
	CommandRequestKeypadCodes          Command = 0x0043
	CommandKeypadCodeCount             Command = 0x0044
	CommandKeypadCode                  Command = 0x0045
	CommandUpdateKeypadCode            Command = 0x0046
	CommandRemoveKeypadCode            Command = 0x0047
	CommandKeypadAction                Command = 0x0048
	CommandSimpleLockAction            Command = 0x0100
)

var commandNames = map[Command]string{
	CommandRequestData:                 "RequestData",
	CommandPublicKey:                   "PublicKey",
	CommandChallenge:                   "Challenge",
	CommandAuthorizationAuthenticator:  "AuthorizationAuthenticator",
	CommandAuthorizationData:           "AuthorizationData",
	CommandAuthorizationID:             "AuthorizationID",
	CommandRemoveUserAuthorization:     "RemoveUserAuthorization",
	CommandRequestAuthorizationEntries: "RequestAuthorizationEntries",
	CommandAuthorizationEntry:          "AuthorizationEntry",
	CommandAuthorizationDataInvite:     "AuthorizationDataInvite",
	CommandKeyturnerStates:             "KeyturnerStates",
	CommandLockAction:                  "LockAction",
	CommandStatus:                      "Status",
	CommandMostRecentCommand:           "MostRecentCommand",
	CommandOpeningsClosingsSummary:     "OpeningsClosingsSummary",
	CommandBatteryReport:               "BatteryReport",
	CommandErrorReport:                 "ErrorReport",
	CommandSetConfig:                   "SetConfig",
	CommandRequestConfig:               "RequestConfig",
	CommandConfig:                      "Config",
	CommandSetSecurityPIN:              "SetSecurityPIN",
	CommandRequestCalibration:          "RequestCalibration",
	CommandRequestReboot:               "RequestReboot",
	CommandAuthorizationIDConfirmation: "AuthorizationIDConfirmation",
	CommandAuthorizationIDInvite:       "AuthorizationIDInvite",
	CommandVerifySecurityPIN:           "VerifySecurityPIN",
	CommandUpdateTime:                  "UpdateTime",
	CommandUpdateUserAuthorization:     "UpdateUserAuthorization",
	CommandAuthorizationEntryCount:     "AuthorizationEntryCount",
	CommandRequestLogEntries:           "RequestLogEntries",
	CommandLogEntry:                    "LogEntry",
	CommandLogEntryCount:               "LogEntryCount",
	CommandEnableLogging:               "EnableLogging",
	CommandSetAdvancedConfig:           "SetAdvancedConfig",
	CommandRequestAdvancedConfig:       "RequestAdvancedConfig",
	CommandAdvancedConfig:              "AdvancedConfig",
	CommandAddTimeControlEntry:         "AddTimeControlEntry",
	CommandTimeControlEntryID:          "TimeControlEntryID",
	CommandRemoveTimeControlEntry:      "RemoveTimeControlEntry",
	CommandRequestTimeControlEntries:   "RequestTimeControlEntries",
	CommandTimeControlEntryCount:       "TimeControlEntryCount",
	CommandTimeControlEntry:            "TimeControlEntry",
	CommandUpdateTimeControlEntry:      "UpdateTimeControlEntry",
	CommandAddKeypadCode:               "AddKeypadCode",
	CommandKeypadCodeID:                "KeypadCodeID",
	CommandRequestKeypadCodes:          "RequestKeypadCodes",
	CommandKeypadCodeCount:             "KeypadCodeCount",
	CommandKeypadCode:                  "KeypadCode",
	CommandUpdateKeypadCode:            "UpdateKeypadCode",
	CommandRemoveKeypadCode:            "RemoveKeypadCode",
	CommandKeypadAction:                "KeypadAction",
	CommandSimpleLockAction:            "SimpleLockAction",
}

// String returns the command name, or its hex value if unknown.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%04X)", uint16(c))
}

// IsKnown reports whether c is one of the defined command identifiers.
func (c Command) IsKnown() bool {
	_, ok := commandNames[c]
	return ok
}

// ParseCommand resolves a command by name (as returned by String), ignoring
// case.
func ParseCommand(name string) (Command, bool) {
	for c, n := range commandNames {
		if strings.EqualFold(n, name) {
			return c, true
		}
	}
	return 0, false
}
