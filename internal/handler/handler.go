package handler

import (
	"net/http"
	"time"

	"user_console/internal/console"
	"user_console/internal/middleware"
	"user_console/internal/observability"
	"user_console/internal/session"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Service console.ServiceInterface
	Store   session.Store
	Session middleware.SessionConfig
	// Limiter guards mutations; nil disables rate limiting.
	Limiter         gin.HandlerFunc
	RefetchInterval time.Duration
	// PendingTimeout bounds how long an unfinished submit blocks the form.
	PendingTimeout time.Duration
}

// SetupHandler initializes the console router
func SetupHandler(deps Deps) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.PrometheusMiddleware(observability.GlobalMetrics))
	r.SetHTMLTemplate(loadTemplates())

	consoleController := NewConsoleController(deps.Service, deps.Store, deps.RefetchInterval, deps.PendingTimeout)

	setupRoutes(r, consoleController, deps)

	return r
}

// setupRoutes configures all application routes
func setupRoutes(r *gin.Engine, ctl *ConsoleController, deps Deps) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/users")
	})

	users := r.Group("/users")
	users.Use(middleware.SessionMiddleware(deps.Session))
	{
		users.GET("", ctl.Index)
		users.GET("/rows", ctl.Rows)
		users.POST("/page/next", ctl.NextPage)
		users.POST("/page/prev", ctl.PrevPage)

		users.POST("/form/add", ctl.OpenAdd)
		users.POST("/:id/form/edit", ctl.OpenEdit)
		users.POST("/form/close", ctl.CloseForm)
		users.GET("/form", ctl.Form)

		users.GET("/:id/delete", ctl.ConfirmDelete)
	}

	// create, update and delete are rate limited per session
	mutations := users.Group("")
	if deps.Limiter != nil {
		mutations.Use(deps.Limiter)
	}
	{
		mutations.POST("/form", ctl.Submit)
		mutations.POST("/:id/delete", ctl.Delete)
	}
}
