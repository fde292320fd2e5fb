// Package prompt wraps promptui for the interactive setup flow.
//
// The surface is intentionally small: just what `s3db init` asks for
// while assembling a connection string, an encryption passphrase and
// the API listener. Every helper folds promptui's interrupt errors into
// ErrAborted so callers can treat Ctrl+C as a single case.
package prompt

import (
	"errors"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted reports that the user cancelled a prompt with Ctrl+C.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err came from the user walking away from a
// prompt rather than from a real failure.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

// wrapError normalizes promptui's interrupt variants to ErrAborted.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input asks for one line of text, returning defaultValue when the user
// just presses Enter. Optional fields such as the S3 endpoint or the
// key prefix go through this.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}
	answer, err := p.Run()
	return answer, wrapError(err)
}

// InputRequired asks for one line of text and re-prompts until it is
// non-blank. Bucket names and access keys are collected this way.
func InputRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("a value is required")
			}
			return nil
		},
	}
	answer, err := p.Run()
	return answer, wrapError(err)
}

// InputPort asks for a TCP port, defaulting to defaultValue. Answers
// outside 1-65535 re-prompt.
func InputPort(label string, defaultValue int) (int, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: strconv.Itoa(defaultValue),
		Validate: func(s string) error {
			port, err := strconv.Atoi(s)
			if err != nil || port < 1 || port > 65535 {
				return errors.New("port must be between 1 and 65535")
			}
			return nil
		},
	}
	answer, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	port, _ := strconv.Atoi(answer)
	return port, nil
}
