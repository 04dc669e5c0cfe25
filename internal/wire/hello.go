package wire

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// MaxAgentNameLen is the size of the agent name segment in bytes.
const MaxAgentNameLen = 32

var helloLayout = NewLayout(
	FieldOf[[MaxAgentNameLen]byte]("agent_name"),
)

// HelloMessage opens a session and names the agent. The name is the agent's
// stable identity: it keys the agent's scene, and so the alignment evidence
// recorded for it, across reconnects and coordinator restarts.
type HelloMessage struct {
	*Message
}

// NewHelloMessage allocates an empty hello message.
func NewHelloMessage() *HelloMessage {
	return &HelloMessage{Message: NewMessage(helloLayout)}
}

// SetAgentName stores name NUL-padded to MaxAgentNameLen bytes. It fails
// for names that ValidAgentName rejects.
func (m *HelloMessage) SetAgentName(name string) error {
	if err := ValidAgentName(name); err != nil {
		return err
	}
	var buf [MaxAgentNameLen]byte
	copy(buf[:], name)
	EncodeField(m.Message, m.Segment("agent_name"), buf)
	return nil
}

// AgentName returns the name with its NUL padding removed. The result is
// whatever the peer sent; check it with ValidAgentName.
func (m *HelloMessage) AgentName() string {
	buf := DecodeField[[MaxAgentNameLen]byte](m.Message, m.Segment("agent_name"))
	if i := bytes.IndexByte(buf[:], 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf[:])
}

// ValidAgentName reports why name cannot identify an agent, or nil.
// Names are 1 to MaxAgentNameLen bytes of UTF-8 without control characters.
func ValidAgentName(name string) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if len(name) > MaxAgentNameLen {
		return fmt.Errorf("agent name %q is longer than %d bytes", name, MaxAgentNameLen)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("agent name is not valid UTF-8")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("agent name %q contains control characters", name)
		}
	}
	return nil
}
