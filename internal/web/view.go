package web

import (
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/vbonduro/platescan/internal/domain"
)

// Template sets. Each fragment file set includes the partials it nests.
var (
	pageFiles      = []string{"base.html", "pages/index.html", "partials/workspace.html", "partials/status.html", "partials/result.html"}
	workspaceFiles = []string{"partials/workspace.html", "partials/status.html", "partials/result.html"}
	statusFiles    = []string{"partials/status.html", "partials/result.html"}
)

// viewData is what every template receives.
type viewData struct {
	Session      *domain.Session
	MaxImageSize string
	AcceptTypes  string
}

func (s *Server) view(sess *domain.Session) viewData {
	return viewData{
		Session:      sess,
		MaxImageSize: humanize.Bytes(uint64(s.maxImageBytes)),
		AcceptTypes:  strings.Join(allowedImageTypes, ","),
	}
}

func (v viewData) Loading() bool   { return v.Session.State() == domain.StateLoading }
func (v viewData) Failed() bool    { return v.Session.State() == domain.StateFailure }
func (v viewData) Succeeded() bool { return v.Session.State() == domain.StateSuccess }

// PreviewURL is the handle the page uses to display the selected image.
func (v viewData) PreviewURL() string {
	if !v.Session.HasImage() {
		return ""
	}
	return "/preview/" + v.Session.PreviewKey
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// respond renders the named fragment for htmx requests and redirects plain
// form posts back to the page.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, name string, sess *domain.Session) {
	if !isHTMX(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	files := statusFiles
	if name == "workspace" {
		files = workspaceFiles
	}
	if err := s.renderPartial(w, status, name, s.view(sess), files...); err != nil {
		s.logger.Error("render partial failed", "template", name, "error", err)
	}
}
