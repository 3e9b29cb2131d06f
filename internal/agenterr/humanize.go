package agenterr

import "fmt"

// Humanize renders err as a short, user-facing line: what failed plus one
// suggested remedy. No stack traces, no wrapped-chain dumps.
func Humanize(err error) string {
	if err == nil {
		return ""
	}
	kind, ok := KindOf(err)
	if !ok {
		return fmt.Sprintf("Something went wrong: %v", err)
	}
	switch kind {
	case KindConfig:
		return fmt.Sprintf("Configuration problem: %v. Check your .floyd config files and provider settings.", rootCause(err))
	case KindTransport:
		return fmt.Sprintf("Connection problem: %v. Check your network and that the server is reachable.", rootCause(err))
	case KindProtocol:
		return fmt.Sprintf("The server sent an unexpected response: %v. The server may be misbehaving or incompatible.", rootCause(err))
	case KindToolParse:
		return "The model produced malformed tool arguments. Try rephrasing your request."
	case KindPermissionDenied:
		return "Permission denied for that tool. Grant it with a permission rule or approve it when prompted."
	case KindTool:
		return fmt.Sprintf("A tool failed: %v.", rootCause(err))
	case KindStorage:
		return fmt.Sprintf("Could not save session data: %v. Check disk space and directory permissions.", rootCause(err))
	case KindExhaustedTurns:
		return "The conversation hit the turn limit before finishing. Send a follow-up message to continue."
	case KindCancelled:
		return "Cancelled."
	default:
		return fmt.Sprintf("Something went wrong: %v", rootCause(err))
	}
}

func rootCause(err error) error {
	for {
		next, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		unwrapped := next.Unwrap()
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}
