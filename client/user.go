package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// UserID is the server-assigned user identifier. Servers send it either as a
// JSON number or a string; both decode to the same value.
type UserID string

func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id must be a string or number: %w", err)
	}
	*id = UserID(n.String())
	return nil
}

// Int64 returns the id as a number, for servers that use numeric ids
func (id UserID) Int64() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// User is the client-side cache of the authenticated user's profile
type User struct {
	ID          UserID `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// ProfileUpdate is the body of PUT /auth/me. Empty fields are left unchanged.
type ProfileUpdate struct {
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// decodeUser accepts both {"user": {...}} and the user fields at top level
func decodeUser(data []byte) (*User, error) {
	var wrapped struct {
		User json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid user response: %w", err)
	}

	payload := data
	if len(wrapped.User) > 0 && !bytes.Equal(bytes.TrimSpace(wrapped.User), []byte("null")) {
		payload = wrapped.User
	}

	var user User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("invalid user response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("invalid user response: missing id")
	}
	return &user, nil
}
