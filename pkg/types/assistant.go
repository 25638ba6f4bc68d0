package types

// MessageType tags the assistant message sent at the end of a stream.
type MessageType string

const (
	MessageSummary MessageType = "SUMMARY" // generated summary of the results
	MessageClarify MessageType = "CLARIFY" // generated clarification request
	MessageStopped MessageType = "STOPPED" // generated explanation of a stopped search
	MessageTimeout MessageType = "TIMEOUT" // fixed text, results were not ready in time
	MessageFailed  MessageType = "FAILED"  // fixed text, the search itself failed
)

// MessageTypeForStatus returns the generated message type answering a terminal status.
func MessageTypeForStatus(s JobStatus) MessageType {
	switch s {
	case JobStatusDoneClarify:
		return MessageClarify
	case JobStatusDoneStopped:
		return MessageStopped
	case JobStatusDoneFailed:
		return MessageFailed
	default:
		return MessageSummary
	}
}
