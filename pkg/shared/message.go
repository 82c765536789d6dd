package shared

// MessageType identifies a WebSocket message.
type MessageType int

// Client to server: Source, Input, Probe, Stop.
// Server to client: everything else.
const (
	MessageTypeText    MessageType = 0 // program output (PRINT, INPUT prompts)
	MessageTypeSession MessageType = 1 // session ID after connecting
	MessageTypeSource  MessageType = 2 // LOOP source to run in the session
	MessageTypeInput   MessageType = 3 // one line answering an INPUT statement
	MessageTypePrompt  MessageType = 4 // an INPUT statement is waiting
	MessageTypeError   MessageType = 5 // scan, parse or runtime error
	MessageTypeDone    MessageType = 6 // a Source message has finished
	MessageTypeProbe   MessageType = 7 // check whether source is complete, without running it
	MessageTypeState   MessageType = 8 // variables and programs after a run
	MessageTypeStop    MessageType = 9 // cancel the running source
)

// Message is the JSON frame exchanged over the WebSocket.
type Message struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	// For TEXT: no line break is appended by the client
	NoNewline bool `json:"noNewline"`

	// For SESSION
	SessionID string `json:"sessionId,omitempty"`

	// For SOURCE: name used in error positions
	Name string `json:"name,omitempty"`

	// For ERROR: SCAN ERROR, PARSE ERROR or RUNTIME ERROR
	Category string `json:"category,omitempty"`
	// For ERROR and PROBE replies: more source would complete the statement
	Incomplete bool `json:"incomplete,omitempty"`

	// For STATE
	Variables map[string]uint64 `json:"variables,omitempty"`
	Programs  []string          `json:"programs,omitempty"`
}
