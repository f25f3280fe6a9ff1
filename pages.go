package jerry

import (
	"embed"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 NOT FOUND"

	// RootRequest is the only request answered with the index page.
	RootRequest = "GET / HTTP/1.1\r\n"

	indexPage    = "200.html"
	notFoundPage = "404.html"
)

//go:embed templates/200.html templates/404.html
var defaultTemplates embed.FS

// Pages are the two static bodies the server knows how to send.
type Pages struct {
	Index    []byte
	NotFound []byte
}

// LoadPages reads 200.html and 404.html from dir. An empty dir selects the
// pages built into the binary.
func LoadPages(dir string) (*Pages, error) {
	read := func(name string) ([]byte, error) {
		if dir == "" {
			return defaultTemplates.ReadFile("templates/" + name)
		}
		return os.ReadFile(filepath.Join(dir, name))
	}

	index, err := read(indexPage)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", indexPage)
	}

	notFound, err := read(notFoundPage)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", notFoundPage)
	}

	return &Pages{Index: index, NotFound: notFound}, nil
}

// NewPageMux answers RootRequest with the index page and everything else
// with the not found page.
func NewPageMux(pages *Pages) *Mux {
	mux := NewMux(StaticHandler(StatusNotFound, pages.NotFound))
	mux.Handle(RootRequest, StaticHandler(StatusOK, pages.Index))
	return mux
}
