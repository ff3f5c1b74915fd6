package protocol

type MessageType uint8

const (
	MessageTypeRequest  MessageType = 1
	MessageTypeResponse MessageType = 2
	MessageTypeError    MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (t MessageType) valid() bool {
	return t >= MessageTypeRequest && t <= MessageTypeError
}
