package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"user_console/internal/console"
	"user_console/internal/middleware"
	"user_console/internal/session"
	"user_console/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

var errMissingSession = errors.New("console session missing from context")

// formFields are the inputs the overlay posts.
var formFields = []string{user.FieldName, user.FieldUsername, user.FieldPassword, user.FieldRole}

// defaultPendingTimeout matches the default remote API timeout.
const defaultPendingTimeout = 10 * time.Second

type ConsoleController struct {
	svc     console.ServiceInterface
	store   session.Store
	locks   *sessionLocks
	refetch time.Duration
	// pendingTimeout is how long a stored in-flight submit blocks new ones.
	pendingTimeout time.Duration
	now            func() time.Time
}

func NewConsoleController(svc console.ServiceInterface, store session.Store, refetch, pendingTimeout time.Duration) *ConsoleController {
	if pendingTimeout <= 0 {
		pendingTimeout = defaultPendingTimeout
	}
	return &ConsoleController{
		svc:            svc,
		store:          store,
		locks:          &sessionLocks{},
		refetch:        refetch,
		pendingTimeout: pendingTimeout,
		now:            time.Now,
	}
}

// Index renders the list with the overlay form when one is open.
func (ctl *ConsoleController) Index(c *gin.Context) {
	id, ok := middleware.SessionID(c)
	if !ok {
		ctl.sessionError(c, errMissingSession)
		return
	}

	unlock := ctl.locks.lock(id)
	defer unlock()

	lv, err := ctl.load(c)
	if err != nil {
		ctl.sessionError(c, err)
		return
	}
	ctl.render(c, http.StatusOK, lv)
	ctl.save(c.Request.Context(), id, lv)
}

// Rows renders the list partial the page polls.
func (ctl *ConsoleController) Rows(c *gin.Context) {
	lv, err := ctl.load(c)
	if err != nil {
		ctl.sessionError(c, err)
		return
	}
	c.HTML(http.StatusOK, "rows", ctl.svc.List(lv))
}

func (ctl *ConsoleController) NextPage(c *gin.Context) {
	ctl.mutate(c, func(lv *console.ListView) {
		if ctl.svc.List(lv).CanNext {
			lv.NextPage()
		}
	})
}

func (ctl *ConsoleController) PrevPage(c *gin.Context) {
	ctl.mutate(c, func(lv *console.ListView) { lv.PrevPage() })
}

func (ctl *ConsoleController) OpenAdd(c *gin.Context) {
	ctl.mutate(c, func(lv *console.ListView) { lv.OpenAdd() })
}

func (ctl *ConsoleController) OpenEdit(c *gin.Context) {
	id := c.Param("id")
	ctl.mutate(c, func(lv *console.ListView) { lv.OpenEdit(id) })
}

func (ctl *ConsoleController) CloseForm(c *gin.Context) {
	ctl.mutate(c, func(lv *console.ListView) { lv.CloseForm() })
}

// Form renders the overlay partial. 204 when no form is open.
func (ctl *ConsoleController) Form(c *gin.Context) {
	id, ok := middleware.SessionID(c)
	if !ok {
		ctl.sessionError(c, errMissingSession)
		return
	}

	unlock := ctl.locks.lock(id)
	defer unlock()

	lv, err := ctl.load(c)
	if err != nil {
		ctl.sessionError(c, err)
		return
	}
	if !lv.FormOpen {
		c.Status(http.StatusNoContent)
		return
	}

	page := ctl.svc.Form(lv.Form)
	ctl.save(c.Request.Context(), id, lv)
	c.HTML(http.StatusOK, "form", page)
}

// Submit applies the posted fields to the open form and creates or updates
// the user. The session is unlocked while the remote call runs; the stored
// Pending flag turns a second submit away meanwhile. Success redirects to the
// list; failures render in place so a failed create keeps every field.
func (ctl *ConsoleController) Submit(c *gin.Context) {
	id, ok := middleware.SessionID(c)
	if !ok {
		ctl.sessionError(c, errMissingSession)
		return
	}

	unlock := ctl.locks.lock(id)
	lv, err := ctl.load(c)
	if err != nil {
		unlock()
		ctl.sessionError(c, err)
		return
	}
	if !lv.FormOpen {
		unlock()
		c.Redirect(http.StatusSeeOther, "/users")
		return
	}

	fv := lv.Form
	if fv.Pending {
		unlock()
		c.Redirect(http.StatusSeeOther, "/users")
		return
	}

	for _, name := range formFields {
		value, ok := c.GetPostForm(name)
		if !ok {
			continue
		}
		if err := fv.SetField(name, value); err != nil && !errors.Is(err, console.ErrFieldNotEditable) {
			logrus.WithError(err).WithField("field", name).Warn("Ignoring form field")
		}
	}

	fv.MarkPending(ctl.now())
	ctl.save(c.Request.Context(), id, lv)
	unlock()

	fv.ClearPending()
	submitErr := ctl.svc.Submit(c.Request.Context(), fv)

	unlock = ctl.locks.lock(id)
	defer unlock()

	current, err := ctl.load(c)
	if err != nil {
		ctl.sessionError(c, err)
		return
	}
	// the form may have been closed or replaced while the call ran
	if current.FormOpen && current.Form.EditMode == fv.EditMode && current.Form.UserID == fv.UserID {
		current.Form = fv
	}
	ctl.save(c.Request.Context(), id, current)

	if submitErr == nil {
		c.Redirect(http.StatusSeeOther, "/users")
		return
	}

	status := http.StatusBadGateway
	var verr *user.ValidationError
	if errors.As(submitErr, &verr) {
		status = http.StatusUnprocessableEntity
	}

	// current.Form is this request's form, so a failed create keeps every field
	ctl.render(c, status, current)
}

// ConfirmDelete renders the confirmation page used without JavaScript.
func (ctl *ConsoleController) ConfirmDelete(c *gin.Context) {
	lv, err := ctl.load(c)
	if err != nil {
		ctl.sessionError(c, err)
		return
	}

	page := confirmPage{ID: c.Param("id")}
	for _, u := range ctl.svc.List(lv).Users {
		if u.ID == page.ID {
			page.Name = u.Name
			break
		}
	}
	c.HTML(http.StatusOK, "confirm", page)
}

// Delete removes the user when confirm=yes. confirm=no declines; without
// an answer the browser is sent to the confirmation page.
func (ctl *ConsoleController) Delete(c *gin.Context) {
	userID := c.Param("id")

	var confirmed bool
	switch c.PostForm("confirm") {
	case "yes":
		confirmed = true
	case "no":
	default:
		c.Redirect(http.StatusSeeOther, "/users/"+userID+"/delete")
		return
	}

	lv, err := ctl.load(c)
	if err != nil {
		ctl.sessionError(c, err)
		return
	}

	// failures are logged by the service; the list stays usable
	_ = ctl.svc.Delete(c.Request.Context(), lv, userID, confirmed)
	c.Redirect(http.StatusSeeOther, "/users")
}

// mutate applies fn to the session's view and redirects back to the list.
func (ctl *ConsoleController) mutate(c *gin.Context, fn func(lv *console.ListView)) {
	id, ok := middleware.SessionID(c)
	if !ok {
		ctl.sessionError(c, errMissingSession)
		return
	}

	unlock := ctl.locks.lock(id)
	defer unlock()

	lv, err := ctl.load(c)
	if err != nil {
		ctl.sessionError(c, err)
		return
	}
	fn(lv)
	ctl.save(c.Request.Context(), id, lv)
	c.Redirect(http.StatusSeeOther, "/users")
}

func (ctl *ConsoleController) render(c *gin.Context, status int, lv *console.ListView) {
	page := usersPage{
		List:          ctl.svc.List(lv),
		RefetchMillis: millis(ctl.refetch),
	}
	if lv.FormOpen && lv.Form != nil {
		form := ctl.svc.Form(lv.Form)
		page.Form = &form
	}
	c.HTML(status, "users", page)
}

func (ctl *ConsoleController) load(c *gin.Context) (*console.ListView, error) {
	id, ok := middleware.SessionID(c)
	if !ok {
		return nil, errMissingSession
	}

	data, err := ctl.store.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}

	lv := console.NewListView()
	if data != nil {
		if err := json.Unmarshal(data, lv); err != nil {
			logrus.WithError(err).WithField("session", id).Warn("Discarding unreadable console session")
			lv = console.NewListView()
		}
	}
	lv.Normalize()
	if lv.Form != nil && lv.Form.ExpirePending(ctl.now(), ctl.pendingTimeout) {
		logrus.WithField("session", id).Warn("Clearing submit that never finished")
	}
	return lv, nil
}

func (ctl *ConsoleController) save(ctx context.Context, id string, lv *console.ListView) {
	data, err := json.Marshal(lv.ForStorage())
	if err != nil {
		logrus.WithError(err).Error("Failed to encode console session")
		return
	}
	if err := ctl.store.Set(ctx, id, data); err != nil {
		logrus.WithError(err).WithField("session", id).Error("Failed to store console session")
	}
}

func (ctl *ConsoleController) sessionError(c *gin.Context, err error) {
	logrus.WithError(err).Error("Console session unavailable")
	c.String(http.StatusServiceUnavailable, "Console session unavailable, please retry")
}
