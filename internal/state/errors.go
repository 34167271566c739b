package state

import "errors"

// Registration id bounds follow the Signal convention: 14-bit, non-zero.
const (
	minRegistrationID = 1
	maxRegistrationID = 1 << 14
)

var (
	ErrNoAccount             = errors.New("account not found")
	ErrNoDevice              = errors.New("device not found")
	ErrBadCredentials        = errors.New("bad credentials")
	ErrNumberTaken           = errors.New("number registered to another account")
	ErrInvalidRegistrationID = errors.New("registration id out of range")
	ErrNoGroup               = errors.New("group not found")
	ErrGroupExists           = errors.New("group already exists")
	ErrGroupVersion          = errors.New("group change version mismatch")
	ErrManifestConflict      = errors.New("storage manifest version conflict")
	ErrUsernameTaken         = errors.New("username hash taken")
	ErrNoReservation         = errors.New("no matching username reservation")
	ErrNoAttachment          = errors.New("attachment not found")
	ErrNoCallLink            = errors.New("call link not found")
)
