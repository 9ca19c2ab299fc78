package types //nolint:revive // package name is intentional

// User is the authenticated identity record.
type User struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Credentials are submitted to the login endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

// LoginResult is the data payload of a successful login.
type LoginResult struct {
	User        *User    `json:"user"`
	Token       string   `json:"token"`
	Permissions []string `json:"permissions,omitempty"`
}

// VerifyResult is the data payload of a token verification.
type VerifyResult struct {
	Valid       bool     `json:"valid"`
	User        *User    `json:"user,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// RefreshResult is the data payload of a token refresh.
type RefreshResult struct {
	Token string `json:"token"`
}
