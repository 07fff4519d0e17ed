package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/kalambet/askpdf/internal/engine"
)

// Speaker says who produced a Message.
type Speaker int

const (
	User Speaker = iota
	Assistant
)

func (s Speaker) String() string {
	switch s {
	case User:
		return "user"
	case Assistant:
		return "assistant"
	}
	return fmt.Sprintf("Speaker(%d)", int(s))
}

// Role maps the speaker to a chat role.
func (s Speaker) Role() string {
	if s == Assistant {
		return engine.RoleAssistant
	}
	return engine.RoleUser
}

func (s Speaker) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Speaker) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "user":
		*s = User
	case "assistant":
		*s = Assistant
	default:
		return fmt.Errorf("unknown speaker %q", v)
	}
	return nil
}

// Message is one turn of the conversation.
type Message struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}
