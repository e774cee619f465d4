package user

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Role is the console role assigned to an account. The zero value means unset.
type Role string

const (
	RoleNone    Role = ""
	RoleAdmin   Role = "admin"
	RoleKasir   Role = "kasir"
	RoleManajer Role = "manajer"
)

// Roles lists the selectable roles in display order.
var Roles = []Role{RoleAdmin, RoleKasir, RoleManajer}

// Label returns the human readable role name.
func (r Role) Label() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleKasir:
		return "Kasir"
	case RoleManajer:
		return "Manajer"
	default:
		return "Select Role"
	}
}

const DefaultStatus = "published"

// Form field names, matching the remote API's JSON keys.
const (
	FieldName     = "nama_user"
	FieldUsername = "username"
	FieldPassword = "password"
	FieldRole     = "role"
	FieldStatus   = "status"
)

var ErrUnknownField = errors.New("unknown user field")

type User struct {
	ID       string `json:"id_user,omitempty"`
	Name     string `json:"nama_user"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"` // write-only
	Role     Role   `json:"role"`
	Status   string `json:"status"`
}

// NewDraft returns the empty record a form starts from.
func NewDraft() User {
	return User{Status: DefaultStatus}
}

// Set updates a single field by its form name.
func (u *User) Set(field, value string) error {
	switch field {
	case FieldName:
		u.Name = value
	case FieldUsername:
		u.Username = value
	case FieldPassword:
		u.Password = value
	case FieldRole:
		u.Role = Role(value)
	case FieldStatus:
		u.Status = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// WithoutPassword returns a copy that never carries the secret.
func (u User) WithoutPassword() User {
	u.Password = ""
	return u
}

// ValidationError lists the fields rejected before a request is sent.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid user: " + strings.Join(e.Fields, ", ")
}

var validate = validator.New()

// ValidateForCreate checks a record about to be created. Password is required.
func ValidateForCreate(u User) error {
	return check(u, true)
}

// ValidateForUpdate checks a record about to be updated. Password is never
// part of an edit.
func ValidateForUpdate(u User) error {
	return check(u, false)
}

func check(u User, withPassword bool) error {
	var fields []string
	rule := func(field string, value any, tag string) {
		if err := validate.Var(value, tag); err != nil {
			fields = append(fields, field)
		}
	}

	rule(FieldName, u.Name, "required")
	rule(FieldUsername, u.Username, "required")
	if withPassword {
		rule(FieldPassword, u.Password, "required")
	}
	rule(FieldRole, string(u.Role), "omitempty,oneof=admin kasir manajer")

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
