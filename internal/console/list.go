package console

import "user_console/internal/user"

// PageSize is the fixed number of users requested per page.
const PageSize = 3

// ListView is the per-session state of the user list: the current page and
// the overlay form it may have opened.
type ListView struct {
	Page     int       `json:"page"`
	EditMode bool      `json:"edit_mode"`
	EditID   string    `json:"edit_id"`
	FormOpen bool      `json:"form_open"`
	Form     *FormView `json:"form,omitempty"`
}

func NewListView() *ListView {
	return &ListView{Page: 1}
}

// CanPrev reports whether a previous page exists.
func (v *ListView) CanPrev() bool {
	return v.Page > 1
}

func (v *ListView) NextPage() {
	v.Page++
}

func (v *ListView) PrevPage() {
	if v.Page > 1 {
		v.Page--
	}
}

// OpenAdd opens an empty create form.
func (v *ListView) OpenAdd() {
	v.EditMode = false
	v.EditID = ""
	v.FormOpen = true
	v.Form = NewFormView(false, "")
}

// OpenEdit opens the form for an existing user.
func (v *ListView) OpenEdit(id string) {
	v.EditMode = true
	v.EditID = id
	v.FormOpen = true
	v.Form = NewFormView(true, id)
}

// CloseForm dismisses the overlay and drops its local state.
func (v *ListView) CloseForm() {
	v.FormOpen = false
	v.Form = nil
}

// Normalize repairs state read back from a session store.
func (v *ListView) Normalize() {
	if v.Page < 1 {
		v.Page = 1
	}
	if v.FormOpen && v.Form == nil {
		v.Form = NewFormView(v.EditMode, v.EditID)
	}
	if !v.FormOpen {
		v.Form = nil
	}
}

// ForStorage returns a copy that is safe to persist: the draft password
// never leaves the process.
func (v *ListView) ForStorage() ListView {
	cp := *v
	if v.Form != nil {
		form := *v.Form
		form.Draft = form.Draft.WithoutPassword()
		cp.Form = &form
	}
	return cp
}

// ListPage is what the list renders for one request.
type ListPage struct {
	Page       int
	Users      []user.User
	Loading    bool
	Refreshing bool
	Err        error
	CanPrev    bool
	CanNext    bool
}
