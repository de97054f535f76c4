package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
)

// Fixed reply bodies, sent verbatim as the AI message.
const (
	HelpReply    = `{"text":"Please provide a prompt after @ai. For example: '@ai create a react component'"}`
	ApologyReply = `{"text":"Sorry, I encountered an error while processing your request. Please try again."}`
)

// ErrContract is wrapped by every reply parse failure.
var ErrContract = errors.New("reply does not match the collaborator contract")

// Reply is a decoded collaborator answer. FileTree is nil when the reply
// carries no file changes.
type Reply struct {
	Text     string
	FileTree filetree.Tree
}

// ParseReply decodes raw strictly. It accepts exactly {"text"} or
// {"text","fileTree"}; anything else is a contract violation.
func ParseReply(raw string) (Reply, error) {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 || data[0] != '{' {
		return Reply{}, fmt.Errorf("%w: not a JSON object", ErrContract)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrContract, err)
	}

	var reply Reply
	for key, value := range fields {
		switch key {
		case "text":
			if err := json.Unmarshal(value, &reply.Text); err != nil || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
				return Reply{}, fmt.Errorf("%w: text must be a string", ErrContract)
			}
		case "fileTree":
			tree, err := filetree.Parse(value)
			if err != nil {
				return Reply{}, fmt.Errorf("%w: fileTree: %v", ErrContract, err)
			}
			reply.FileTree = tree
		default:
			return Reply{}, fmt.Errorf("%w: unexpected field %q", ErrContract, key)
		}
	}
	if _, ok := fields["text"]; !ok {
		return Reply{}, fmt.Errorf("%w: missing text", ErrContract)
	}
	return reply, nil
}
