package domain

import (
	"errors"
	"fmt"
)

// Category sentinels; pair with NewSubSystemError for subsystem-specific codes.
var (
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the protocol and connection layers.
var (
	ErrProtocol          = fmt.Errorf("protocol violation")
	ErrTeamFull          = fmt.Errorf("team full")
	ErrConnectionRefused = fmt.Errorf("connection refused")
	ErrAttemptsExhausted = fmt.Errorf("connection attempts exhausted")
	ErrPeerClosed        = fmt.Errorf("connection closed by peer")
	ErrSendFailed        = fmt.Errorf("send failed")
	ErrBufferOverflow    = fmt.Errorf("receive buffer overflow")
	ErrUnexpectedReply   = fmt.Errorf("reply without pending command")
	ErrDead              = fmt.Errorf("agent died")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Handshake.Welcome")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "connection", "launcher"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err ends a connection attempt or session
// in a way a fresh connection may recover from.
func IsRetryableError(err error) bool {
	switch {
	case err == nil, errors.Is(err, ErrDead), errors.Is(err, ErrAttemptsExhausted):
		return false
	}
	return errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrTeamFull) ||
		errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrPeerClosed) ||
		errors.Is(err, ErrSendFailed) ||
		errors.Is(err, ErrBufferOverflow) ||
		errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for logs and metrics labels.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeLimitReached      ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeProtocol          ErrorCode = "PROTOCOL"
	CodeTeamFull          ErrorCode = "TEAM_FULL"
	CodeConnectionRefused ErrorCode = "CONNECTION_REFUSED"
	CodeAttemptsExhausted ErrorCode = "ATTEMPTS_EXHAUSTED"
	CodePeerClosed        ErrorCode = "PEER_CLOSED"
	CodeSendFailed        ErrorCode = "SEND_FAILED"
	CodeBufferOverflow    ErrorCode = "BUFFER_OVERFLOW"
	CodeUnexpectedReply   ErrorCode = "UNEXPECTED_REPLY"
	CodeDead              ErrorCode = "DEAD"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeLivenessTimeout    ErrorCode = "LIVENESS_TIMEOUT"
	CodeHandshakeTimeout   ErrorCode = "HANDSHAKE_TIMEOUT"
	CodeLauncherMaxSession ErrorCode = "LAUNCHER_MAX_SESSIONS"
	CodeLauncherDisabled   ErrorCode = "LAUNCHER_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrTimeout:           CodeTimeout,
	ErrLimitReached:      CodeLimitReached,
	ErrInvalidInput:      CodeInvalidInput,
	ErrProtocol:          CodeProtocol,
	ErrTeamFull:          CodeTeamFull,
	ErrConnectionRefused: CodeConnectionRefused,
	ErrAttemptsExhausted: CodeAttemptsExhausted,
	ErrPeerClosed:        CodePeerClosed,
	ErrSendFailed:        CodeSendFailed,
	ErrBufferOverflow:    CodeBufferOverflow,
	ErrUnexpectedReply:   CodeUnexpectedReply,
	ErrDead:              CodeDead,
	ErrConfigLoad:        CodeConfigLoad,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrTimeout: {
		"connection": CodeLivenessTimeout,
		"handshake":  CodeHandshakeTimeout,
	},
	ErrLimitReached: {
		"launcher": CodeLauncherMaxSession,
	},
	ErrInvalidInput: {
		"launcher": CodeLauncherDisabled,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	// Attempts-exhausted wraps the last attempt's cause and wins over
	// whatever sentinel the cause carries.
	if errors.Is(err, ErrAttemptsExhausted) {
		return CodeAttemptsExhausted
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

// Process exit statuses, one per failure class.
const (
	ExitOK         = 0
	ExitUsage      = 1
	ExitConnection = 2
	ExitProtocol   = 3
	ExitInternal   = 4
)

// ExitStatusOf maps the error that ended the client to a process exit status.
// Death is an intentional shutdown and exits cleanly.
func ExitStatusOf(err error) int {
	switch {
	case err == nil, errors.Is(err, ErrDead):
		return ExitOK
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrConfigLoad):
		return ExitUsage
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrTeamFull):
		return ExitProtocol
	case errors.Is(err, ErrConnectionRefused), errors.Is(err, ErrAttemptsExhausted),
		errors.Is(err, ErrPeerClosed), errors.Is(err, ErrTimeout),
		errors.Is(err, ErrSendFailed), errors.Is(err, ErrBufferOverflow):
		return ExitConnection
	default:
		return ExitInternal
	}
}
