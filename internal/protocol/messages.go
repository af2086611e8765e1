package protocol

import "encoding/json"

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypePTZMove      = "ptz_move"
	TypePTZResult    = "ptz_result"
	TypeError        = "error"
)

// Error codes
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrPreview        = "PREVIEW_ERROR"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload is sent once after the connection is established
type StatusPayload struct {
	Camera  string `json:"camera"`
	Preview bool   `json:"preview"`
	Locked  bool   `json:"locked"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// PTZMovePayload mirrors the query parameters of the HTTP move endpoint
type PTZMovePayload struct {
	Left      int    `json:"left"`
	Right     int    `json:"right"`
	Up        int    `json:"up"`
	Down      int    `json:"down"`
	ZoomIn    int    `json:"zin"`
	ZoomOut   int    `json:"zout"`
	Stop      bool   `json:"stop"`
	LockToken string `json:"lock_token,omitempty"`
}

// PTZResultPayload answers a ptz_move, with the same body as the HTTP endpoint
type PTZResultPayload struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	LockToken string `json:"lock_token,omitempty"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
