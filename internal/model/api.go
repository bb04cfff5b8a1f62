package model

type (
	HandshakeResponse struct {
		SessionID      string    `json:"session_id"`
		FirstChallenge Challenge `json:"first_challenge"`
		Message        string    `json:"message,omitempty"`
	}

	UploadResponse struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	}

	ErrorResponse struct {
		Detail string `json:"detail"`
	}

	LoginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	LoginResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		User        *User  `json:"user"`
	}

	User struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		FullName string `json:"full_name,omitempty"`
		Role     string `json:"role,omitempty"`
	}
)
