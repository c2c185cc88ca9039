package config

import (
	"github.com/xaionaro-go/secret"
)

// TakeSecret moves *s into a secret.String and blanks *s, so the loaded
// options struct no longer carries the plaintext.
func TakeSecret(s *string) secret.String {
	v := secret.New(*s)
	*s = ""
	return v
}
