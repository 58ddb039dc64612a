package gallery

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const idPrefixLength = 8

// DefaultInputs are served for any gallery whose ID cannot be decoded.
func DefaultInputs() UserInputs {
	return UserInputs{
		Location:    "Tokyo",
		Atmosphere:  "golden",
		Focus:       "cherry blossoms",
		Detail:      "pink petals falling",
		Feelings:    []string{"peaceful", "nostalgic"},
		AspectRatio: "1:1",
		Season:      "spring",
	}
}

// NewID builds {prefix}_{base64(json(inputs))}. The encoded part uses the
// URL-safe alphabet without padding so the ID can sit in a path segment.
func NewID(inputs UserInputs) (string, error) {
	payload, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("encode inputs: %w", err)
	}
	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:idPrefixLength]
	return prefix + "_" + base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeID recovers the inputs embedded in a gallery ID. It never fails:
// fields missing from the payload are taken from DefaultInputs, and IDs that
// carry no usable payload yield DefaultInputs with ok=false.
func DecodeID(id string) (UserInputs, bool) {
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return DefaultInputs(), false
	}
	// The URL-safe alphabet itself contains '_', so rejoin everything after the prefix.
	encoded := strings.Join(parts[1:], "_")

	payload, ok := decodeBase64(encoded)
	if !ok {
		return DefaultInputs(), false
	}

	var inputs UserInputs
	if err := json.Unmarshal(payload, &inputs); err != nil {
		return DefaultInputs(), false
	}
	if empty(inputs) {
		return DefaultInputs(), false
	}
	return withDefaults(inputs), true
}

func decodeBase64(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, true
		}
	}
	return nil, false
}

func empty(in UserInputs) bool {
	return in.Location == "" && in.Atmosphere == "" && in.Focus == "" && in.Detail == "" && len(in.Feelings) == 0
}

// withDefaults fills the prompt fields the payload left out. Season stays
// empty since it is optional.
func withDefaults(in UserInputs) UserInputs {
	def := DefaultInputs()
	if in.Location == "" {
		in.Location = def.Location
	}
	if in.Atmosphere == "" {
		in.Atmosphere = def.Atmosphere
	}
	if in.Focus == "" {
		in.Focus = def.Focus
	}
	if in.Detail == "" {
		in.Detail = def.Detail
	}
	if len(in.Feelings) == 0 {
		in.Feelings = def.Feelings
	}
	if in.AspectRatio == "" {
		in.AspectRatio = def.AspectRatio
	}
	return in
}
