// Package media provides video transformation capabilities.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transformer turns a downloaded clip into a square or circular video note.
type Transformer interface {
	// TransformToSquare reads in, writes a size x size clip to out and fills
	// any padding with background. The output container depends on the policy.
	TransformToSquare(ctx context.Context, in, out string, size int, background string) error
}

// Policy selects how a non-square frame is turned into a square one.
type Policy string

const (
	// PolicyCrop scales and center-crops to a square.
	PolicyCrop Policy = "crop"
	// PolicyPad fits the whole frame and pads with the background color.
	PolicyPad Policy = "pad"
	// PolicyCircle center-crops and applies a circular alpha mask.
	PolicyCircle Policy = "circle"
)

// ErrUnknownPolicy is returned when a policy name is not recognized.
var ErrUnknownPolicy = errors.New("media: unknown transform policy")

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyCrop, PolicyPad, PolicyCircle:
		return p, nil
	case "":
		return PolicyCrop, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Ext returns the output file extension for the policy, including the dot.
func (p Policy) Ext() string {
	if p == PolicyCircle {
		return ".webm"
	}
	return ".mp4"
}
