package handler

import (
	"embed"
	"html/template"
	"time"

	"user_console/internal/console"
)

//go:embed templates/*.html
var templateFS embed.FS

func loadTemplates() *template.Template {
	return template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))
}

type usersPage struct {
	List          console.ListPage
	Form          *console.FormPage
	RefetchMillis int64
}

type confirmPage struct {
	ID   string
	Name string
}

func millis(d time.Duration) int64 {
	if d <= 0 {
		return 3000
	}
	return d.Milliseconds()
}
