package console

import (
	"testing"
	"time"

	"user_console/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListView_Paging(t *testing.T) {
	lv := NewListView()
	assert.Equal(t, 1, lv.Page)
	assert.False(t, lv.CanPrev())

	lv.PrevPage()
	assert.Equal(t, 1, lv.Page, "page never drops below 1")

	lv.NextPage()
	lv.NextPage()
	assert.Equal(t, 3, lv.Page)
	assert.True(t, lv.CanPrev())

	lv.PrevPage()
	assert.Equal(t, 2, lv.Page)
}

func TestListView_OpenAndClose(t *testing.T) {
	lv := NewListView()

	lv.OpenEdit("42")
	assert.True(t, lv.EditMode)
	assert.Equal(t, "42", lv.EditID)
	assert.True(t, lv.FormOpen)
	require.NotNil(t, lv.Form)
	assert.True(t, lv.Form.NeedsFetch())

	lv.OpenAdd()
	assert.False(t, lv.EditMode)
	assert.Empty(t, lv.EditID)
	assert.True(t, lv.FormOpen)
	assert.False(t, lv.Form.NeedsFetch())

	lv.CloseForm()
	assert.False(t, lv.FormOpen)
	assert.Nil(t, lv.Form)
}

func TestListView_ReopenStartsFresh(t *testing.T) {
	lv := NewListView()
	lv.OpenAdd()
	lv.Form.Err = "Error adding user."
	require.NoError(t, lv.Form.SetField(user.FieldName, "Budi"))

	lv.CloseForm()
	lv.OpenAdd()

	assert.Empty(t, lv.Form.Err)
	assert.Equal(t, user.NewDraft(), lv.Form.Draft)
}

func TestListView_ForStorageDropsPassword(t *testing.T) {
	lv := NewListView()
	lv.OpenAdd()
	require.NoError(t, lv.Form.SetField(user.FieldPassword, "rahasia"))
	require.NoError(t, lv.Form.SetField(user.FieldUsername, "budi"))

	stored := lv.ForStorage()

	assert.Empty(t, stored.Form.Draft.Password)
	assert.Equal(t, "budi", stored.Form.Draft.Username)
	assert.Equal(t, "rahasia", lv.Form.Draft.Password, "live state keeps the password")
}

func TestListView_Normalize(t *testing.T) {
	lv := &ListView{Page: 0, FormOpen: true, EditMode: true, EditID: "9"}
	lv.Normalize()

	assert.Equal(t, 1, lv.Page)
	require.NotNil(t, lv.Form)
	assert.Equal(t, "9", lv.Form.UserID)

	closed := &ListView{Page: 2, Form: NewFormView(false, "")}
	closed.Normalize()
	assert.Nil(t, closed.Form)
}

func TestFormView_Labels(t *testing.T) {
	tests := []struct {
		name     string
		editMode bool
		pending  bool
		title    string
		label    string
	}{
		{"add idle", false, false, "Add User", "Add User"},
		{"add pending", false, true, "Add User", "Adding..."},
		{"edit idle", true, false, "Edit User", "Update User"},
		{"edit pending", true, true, "Edit User", "Updating..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := NewFormView(tt.editMode, "1")
			fv.Pending = tt.pending

			assert.Equal(t, tt.title, fv.Title())
			assert.Equal(t, tt.label, fv.SubmitLabel())
			assert.Equal(t, tt.pending, fv.SubmitDisabled())
			assert.Equal(t, !tt.editMode, fv.ShowPassword())
		})
	}
}

func TestFormView_SetField(t *testing.T) {
	fv := NewFormView(false, "")
	require.NoError(t, fv.SetField(user.FieldRole, "kasir"))
	require.NoError(t, fv.SetField(user.FieldPassword, "pw"))
	assert.Equal(t, user.RoleKasir, fv.Draft.Role)
	assert.Equal(t, "pw", fv.Draft.Password)

	assert.ErrorIs(t, fv.SetField("email", "x"), user.ErrUnknownField)

	edit := NewFormView(true, "3")
	assert.ErrorIs(t, edit.SetField(user.FieldPassword, "pw"), ErrFieldNotEditable)
	assert.Empty(t, edit.Draft.Password)
}

func TestFormView_SuccessExpires(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fv := NewFormView(false, "")
	fv.Success = "User added successfully!"
	fv.SuccessUntil = now.Add(3 * time.Second)

	assert.Equal(t, "User added successfully!", fv.SuccessMessage(now.Add(2*time.Second)))
	assert.Empty(t, fv.SuccessMessage(now.Add(3*time.Second)))

	fv.ExpireSuccess(now.Add(time.Second))
	assert.NotEmpty(t, fv.Success)
	fv.ExpireSuccess(now.Add(4 * time.Second))
	assert.Empty(t, fv.Success)
}

func TestFormView_ExpirePending(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fv := NewFormView(false, "")
	fv.MarkPending(now)

	assert.False(t, fv.ExpirePending(now.Add(5*time.Second), 10*time.Second))
	assert.True(t, fv.Pending)
	assert.Equal(t, "Adding...", fv.SubmitLabel())

	assert.True(t, fv.ExpirePending(now.Add(11*time.Second), 10*time.Second))
	assert.False(t, fv.Pending)
	assert.True(t, fv.PendingSince.IsZero())
	assert.Equal(t, "Add User", fv.SubmitLabel())
	assert.Equal(t, "Adding...", fv.PendingLabel())
}
