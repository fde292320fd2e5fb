package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrPasswordMismatch reports that the confirmation entry did not match
// the first one.
var ErrPasswordMismatch = errors.New("passwords do not match")

// Password asks for a masked secret, such as the S3 secret access key.
func Password(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}
	secret, err := p.Run()
	return secret, wrapError(err)
}

// PasswordWithConfirmation asks for a masked secret twice, enforcing a
// minimum length on the first entry. The encryption passphrase is
// collected this way so a typo cannot silently lock the database.
func PasswordWithConfirmation(label, confirmLabel string, minLength int) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(s string) error {
			if len(s) < minLength {
				return fmt.Errorf("must be at least %d characters", minLength)
			}
			return nil
		},
	}

	secret, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}

	confirm, err := Password(confirmLabel)
	if err != nil {
		return "", err
	}
	if secret != confirm {
		return "", ErrPasswordMismatch
	}
	return secret, nil
}
