package model

const (
	MessageTypeHandshakeFrame  = "handshake_frame"
	MessageTypeHandshakeResult = "handshake_result"
)

const (
	ResultStatusProgressing = "progressing"
	ResultStatusWaiting     = "waiting"
	ResultStatusFailed      = "failed"
)

type (
	// FrameMessage is sent by the client for every captured snapshot.
	FrameMessage struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Frame     string `json:"frame"` // data URL, e.g. data:image/jpeg;base64,...
	}

	ResultMessage struct {
		Type string     `json:"type"`
		Data ResultData `json:"data"`
	}

	ResultData struct {
		Status           string    `json:"status,omitempty"`
		NextChallenge    Challenge `json:"next_challenge,omitempty"`
		CurrentChallenge Challenge `json:"current_challenge,omitempty"`
		Verified         bool      `json:"verified"`
		Confidence       float64   `json:"confidence,omitempty"`
		Message          string    `json:"message,omitempty"`
		Error            string    `json:"error,omitempty"`
	}
)
