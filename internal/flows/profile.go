package flows

import "time"

// Method values mirror the exported Method of the root package.
const (
	MethodNone          uint8 = 0
	MethodAuthenticator uint8 = 1
	MethodEmail         uint8 = 2
)

// Email code purposes. Each purpose has its own code slot and cooldown.
const (
	PurposeEnrollment = "enroll"
	PurposeLogin      = "login"
	PurposeDisable    = "disable"
)

// Profile is the flattened second-factor profile. Exactly one of Secret and
// Email is set when Method is not MethodNone.
type Profile struct {
	UserID    string
	Method    uint8
	Secret    []byte
	Email     string
	EnabledAt time.Time
}

func (p Profile) Enabled() bool {
	return p.Method != MethodNone
}
