package console

import (
	"errors"
	"time"

	"user_console/internal/user"
)

var ErrFieldNotEditable = errors.New("field cannot be edited in this form")

// FormView is the local editable copy behind the create/edit overlay.
type FormView struct {
	EditMode     bool      `json:"edit_mode"`
	UserID       string    `json:"user_id"`
	Draft        user.User `json:"draft"`
	Loaded       bool      `json:"loaded"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
	Pending      bool      `json:"pending"`
	PendingSince time.Time `json:"pending_since,omitempty"`
	Err          string    `json:"error,omitempty"`
	Success      string    `json:"success,omitempty"`
	SuccessUntil time.Time `json:"success_until,omitempty"`
}

func NewFormView(editMode bool, userID string) *FormView {
	return &FormView{
		EditMode: editMode,
		UserID:   userID,
		Draft:    user.NewDraft(),
	}
}

// NeedsFetch reports whether the form edits an existing record.
func (f *FormView) NeedsFetch() bool {
	return f.EditMode && f.UserID != ""
}

// SetField updates the draft by field name. The password is not part of an edit.
func (f *FormView) SetField(name, value string) error {
	if f.EditMode && name == user.FieldPassword {
		return ErrFieldNotEditable
	}
	return f.Draft.Set(name, value)
}

// ShowPassword reports whether the password input is rendered.
func (f *FormView) ShowPassword() bool {
	return !f.EditMode
}

func (f *FormView) Title() string {
	if f.EditMode {
		return "Edit User"
	}
	return "Add User"
}

func (f *FormView) SubmitLabel() string {
	switch {
	case f.Pending:
		return f.PendingLabel()
	case f.EditMode:
		return "Update User"
	default:
		return "Add User"
	}
}

// PendingLabel is the button text while a submit is in flight.
func (f *FormView) PendingLabel() string {
	if f.EditMode {
		return "Updating..."
	}
	return "Adding..."
}

func (f *FormView) SubmitDisabled() bool {
	return f.Pending
}

// MarkPending records that a submit started at now.
func (f *FormView) MarkPending(now time.Time) {
	f.Pending = true
	f.PendingSince = now
}

// ClearPending drops the in-flight marker.
func (f *FormView) ClearPending() {
	f.Pending = false
	f.PendingSince = time.Time{}
}

// ExpirePending clears a marker older than maxAge, left behind by a submit
// whose outcome was never stored.
func (f *FormView) ExpirePending(now time.Time, maxAge time.Duration) bool {
	if !f.Pending || now.Sub(f.PendingSince) <= maxAge {
		return false
	}
	f.ClearPending()
	return true
}

// SuccessMessage returns the success banner while it has not expired.
func (f *FormView) SuccessMessage(now time.Time) string {
	if f.Success == "" || !now.Before(f.SuccessUntil) {
		return ""
	}
	return f.Success
}

// ExpireSuccess clears a success banner whose time is up.
func (f *FormView) ExpireSuccess(now time.Time) {
	if f.Success != "" && !now.Before(f.SuccessUntil) {
		f.Success = ""
		f.SuccessUntil = time.Time{}
	}
}

func (f *FormView) reset() {
	f.Draft = user.NewDraft()
}

func (f *FormView) failureMessage() string {
	if f.EditMode {
		return "Error updating user."
	}
	return "Error adding user."
}

func (f *FormView) successMessage() string {
	if f.EditMode {
		return "User updated successfully!"
	}
	return "User added successfully!"
}

// FormPage is what the overlay renders for one request.
type FormPage struct {
	View     *FormView
	Loading  bool
	FetchErr error
	Success  string
	// SuccessLeft is how long the banner stays visible.
	SuccessLeft time.Duration
	Roles       []user.Role
}
