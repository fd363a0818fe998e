package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/siohaza/dogfight/internal/protocol"
)

var (
	ErrNameLength  = errors.New("name length out of range")
	ErrNameCharset = errors.New("name contains invalid characters")
	ErrChatEmpty   = errors.New("chat message is empty")
	ErrChatLength  = errors.New("chat message too long")
)

// Limits bounds the free text a client may submit.
type Limits struct {
	NameMin int
	NameMax int
	ChatMax int
}

func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// MaxCoordinate bounds the ground-plane components of a position. Planar
// distances between two in-bounds points never overflow.
const MaxCoordinate = 1e7

func IsValidPosition(pos protocol.Vector3) bool {
	return pos.PlanarFinite() &&
		math.Abs(pos.X) <= MaxCoordinate &&
		math.Abs(pos.Z) <= MaxCoordinate
}

func IsValidRotation(rot protocol.Vector3) bool {
	return rot.IsFinite()
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Username trims the name and checks it against the length bounds.
// Only ASCII letters, digits and spaces are accepted.
func Username(name string, limits Limits) (string, error) {
	name = strings.TrimSpace(name)

	n := utf8.RuneCountInString(name)
	if n < limits.NameMin || n > limits.NameMax {
		return "", fmt.Errorf("%w: %d not in [%d, %d]", ErrNameLength, n, limits.NameMin, limits.NameMax)
	}

	for _, r := range name {
		if !isNameRune(r) {
			return "", fmt.Errorf("%w: %q", ErrNameCharset, r)
		}
	}

	return name, nil
}

func isNameRune(r rune) bool {
	return r == ' ' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// ChatMessage normalises the text to NFC and strips control characters
// before enforcing the length bound.
func ChatMessage(text string, limits Limits) (string, error) {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}

	t := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)), runes.Remove(runes.In(unicode.Cf)))
	clean, _, err := transform.String(t, text)
	if err != nil {
		return "", fmt.Errorf("failed to sanitize chat message: %w", err)
	}
	clean = strings.TrimSpace(clean)

	if clean == "" {
		return "", ErrChatEmpty
	}
	if n := utf8.RuneCountInString(clean); n > limits.ChatMax {
		return "", fmt.Errorf("%w: %d > %d", ErrChatLength, n, limits.ChatMax)
	}

	return clean, nil
}
