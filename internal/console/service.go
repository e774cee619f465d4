package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"user_console/internal/observability"
	"user_console/internal/query"
	"user_console/internal/user"

	"github.com/sirupsen/logrus"
)

var ErrSubmitPending = errors.New("a submit is already in progress")

// Broadcaster tells other console replicas that user data changed.
type Broadcaster interface {
	Broadcast(ctx context.Context, userID string) error
}

type Options struct {
	Query       query.Options
	SuccessTTL  time.Duration
	Broadcaster Broadcaster
}

// ServiceInterface is what the HTTP layer needs from the console.
type ServiceInterface interface {
	List(lv *ListView) ListPage
	Delete(ctx context.Context, lv *ListView, id string, confirmed bool) error
	Form(fv *FormView) FormPage
	Submit(ctx context.Context, fv *FormView) error
	ApplyInvalidation(userID string)
}

type Service struct {
	api         user.API
	pages       *query.Query[int, []user.User]
	users       *query.Query[string, user.User]
	broadcaster Broadcaster
	successTTL  time.Duration
	now         func() time.Time
}

func NewService(api user.API, opts Options) *Service {
	qopts := opts.Query
	if qopts.Retryable == nil {
		qopts.Retryable = user.IsRetryable
	}
	if opts.SuccessTTL <= 0 {
		opts.SuccessTTL = 3 * time.Second
	}

	s := &Service{
		api:         api,
		broadcaster: opts.Broadcaster,
		successTTL:  opts.SuccessTTL,
		now:         time.Now,
	}
	s.pages = query.New("users_page", func(ctx context.Context, page int) ([]user.User, error) {
		return api.ListUsers(ctx, page, PageSize)
	}, qopts)
	s.users = query.New("user", func(ctx context.Context, id string) (user.User, error) {
		u, err := api.GetUser(ctx, id)
		return u.WithoutPassword(), err
	}, qopts)
	return s
}

// Run polls the active list pages and user records until ctx is done.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pages.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.users.Run(ctx)
	}()
	wg.Wait()
}

func (s *Service) Close() {
	s.pages.Close()
	s.users.Close()
}

// List returns what the list shows for the view's current page.
func (s *Service) List(lv *ListView) ListPage {
	res := s.pages.Observe(lv.Page)

	return ListPage{
		Page:       lv.Page,
		Users:      res.Data,
		Loading:    res.IsLoading(),
		Refreshing: res.IsFetching && res.HasData(),
		Err:        res.Err,
		CanPrev:    lv.CanPrev(),
		CanNext:    res.HasData() && len(res.Data) >= PageSize,
	}
}

// Delete removes a user once the operator confirmed it and reloads the
// current page. Nothing is sent when confirmation was declined.
func (s *Service) Delete(ctx context.Context, lv *ListView, id string, confirmed bool) error {
	if !confirmed {
		return nil
	}

	if err := s.api.DeleteUser(ctx, id); err != nil {
		observability.GlobalMetrics.MutationsTotal.WithLabelValues("delete", "failed").Inc()
		logrus.WithError(err).WithField("user_id", id).Error("Error deleting user")
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	observability.GlobalMetrics.MutationsTotal.WithLabelValues("delete", "success").Inc()
	logrus.WithField("user_id", id).Info("User deleted")

	s.pages.MarkAllStale()
	s.users.Invalidate(id)
	if _, err := s.pages.Refetch(ctx, lv.Page); err != nil {
		logrus.WithError(err).WithField("page", lv.Page).Warn("Failed to reload page after delete")
	}
	s.broadcast(ctx, id)
	return nil
}

// Form returns what the overlay shows. In edit mode the record is fetched
// again when the form opens and the draft is filled from the first result
// that landed after that.
func (s *Service) Form(fv *FormView) FormPage {
	now := s.now()
	fv.ExpireSuccess(now)

	page := FormPage{View: fv, Roles: user.Roles}
	if msg := fv.SuccessMessage(now); msg != "" {
		page.Success = msg
		page.SuccessLeft = fv.SuccessUntil.Sub(now)
	}

	if !fv.NeedsFetch() || fv.Loaded {
		return page
	}

	if fv.OpenedAt.IsZero() {
		fv.OpenedAt = now
		s.users.Invalidate(fv.UserID)
	}

	res := s.users.Observe(fv.UserID)
	switch {
	case res.HasData() && !res.Stale && !res.UpdatedAt.Before(fv.OpenedAt):
		fv.Draft = res.Data.WithoutPassword()
		fv.Loaded = true
	case res.Err != nil && !res.IsFetching:
		page.FetchErr = res.Err
	default:
		page.Loading = true
	}
	return page
}

// Submit validates the draft and creates or updates the user. On success the
// draft is reset and a message is shown for SuccessTTL; on failure the draft
// is kept and the error stays until the next attempt.
func (s *Service) Submit(ctx context.Context, fv *FormView) error {
	if fv.Pending {
		return ErrSubmitPending
	}

	action := "create"
	validate := user.ValidateForCreate
	if fv.EditMode {
		action = "update"
		validate = user.ValidateForUpdate
	}

	if err := validate(fv.Draft); err != nil {
		observability.GlobalMetrics.MutationsTotal.WithLabelValues(action, "rejected").Inc()
		fv.Err = err.Error()
		fv.Success = ""
		return err
	}

	fv.MarkPending(s.now())
	defer fv.ClearPending()

	var err error
	if fv.EditMode {
		err = s.api.UpdateUser(ctx, fv.UserID, fv.Draft.WithoutPassword())
	} else {
		err = s.api.CreateUser(ctx, fv.Draft)
	}

	if err != nil {
		observability.GlobalMetrics.MutationsTotal.WithLabelValues(action, "failed").Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"action":  action,
			"user_id": fv.UserID,
		}).Error(fv.failureMessage())
		fv.Err = fv.failureMessage()
		fv.Success = ""
		return err
	}

	observability.GlobalMetrics.MutationsTotal.WithLabelValues(action, "success").Inc()
	logrus.WithFields(logrus.Fields{
		"action":  action,
		"user_id": fv.UserID,
	}).Info("User saved")

	fv.Err = ""
	fv.Success = fv.successMessage()
	fv.SuccessUntil = s.now().Add(s.successTTL)
	fv.reset()

	s.ApplyInvalidation(fv.UserID)
	s.broadcast(ctx, fv.UserID)
	return nil
}

// ApplyInvalidation drops cached pages and, when known, the cached record.
func (s *Service) ApplyInvalidation(userID string) {
	s.pages.InvalidateAll()
	if userID != "" {
		s.users.Invalidate(userID)
	}
}

func (s *Service) broadcast(ctx context.Context, userID string) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, userID); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to broadcast invalidation")
	}
}
