package ai

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a model answer holds no parseable JSON.
var ErrNoJSON = errors.New("no json in model response")

var (
	jsonFence  = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	plainFence = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// DecodeJSON unmarshals a model answer into out. A ```json fenced block wins,
// then any ``` fenced block, then the whole trimmed answer.
func DecodeJSON(answer string, out any) error {
	candidate := strings.TrimSpace(answer)
	if m := jsonFence.FindStringSubmatch(answer); m != nil {
		candidate = m[1]
	} else if m := plainFence.FindStringSubmatch(answer); m != nil {
		candidate = m[1]
	}
	if candidate == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(candidate), out); err != nil {
		return errors.Join(ErrNoJSON, err)
	}
	return nil
}
