package webapp

import (
	"net/http"
	"strings"

	"github.com/keithlinneman/nbweb/internal/contents"
	"github.com/keithlinneman/nbweb/internal/httperr"
	"github.com/keithlinneman/nbweb/internal/jsonapi"
	"github.com/keithlinneman/nbweb/internal/log"
	"github.com/keithlinneman/nbweb/internal/urlpath"
)

// contentsAPI serves contents models as JSON.
type contentsAPI struct {
	manager contents.Manager
	prefix  string
}

// entry returns the parent path and name addressed by r. The bare
// prefix addresses the root directory.
func (c *contentsAPI) entry(r *http.Request) (dir, name string, err error) {
	p, ok := strings.CutPrefix(r.URL.Path, c.prefix)
	if !ok {
		if r.URL.Path+"/" != c.prefix {
			return "", "", httperr.NotFound()
		}
		p = ""
	}
	dir, name = urlpath.Split(p)
	return dir, name, nil
}

func (c *contentsAPI) get(w http.ResponseWriter, r *http.Request) error {
	dir, name, err := c.entry(r)
	if err != nil {
		return err
	}
	content := r.URL.Query().Get("content") == "1"

	model, err := c.manager.GetModel(r.Context(), name, dir, content)
	if err != nil {
		return contents.HTTPError(err)
	}
	w.Header().Set("Cache-Control", "no-store")
	jsonapi.WriteJSON(w, http.StatusOK, model)
	return nil
}

// put saves the request body. The response is 201 with a Location
// header for a new entry and 200 for an overwrite.
func (c *contentsAPI) put(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	dir, name, err := c.entry(r)
	if err != nil {
		return err
	}
	if name == "" {
		return httperr.BadRequest("cannot save the root directory")
	}

	var model contents.Model
	if err := jsonapi.DecodeBody(r, &model); err != nil {
		return err
	}

	existed, err := c.exists(r, name, dir)
	if err != nil {
		return contents.HTTPError(err)
	}

	saved, err := c.manager.Save(ctx, &model, name, dir)
	if err != nil {
		return contents.HTTPError(err)
	}
	log.FromContext(ctx).Info(ctx, "contents saved", "path", saved.Path, "type", saved.Type, "created", !existed)

	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
		w.Header().Set("Location", urlpath.Join(c.prefix, urlpath.Escape(saved.Path)))
	}
	jsonapi.WriteJSON(w, status, saved)
	return nil
}

func (c *contentsAPI) exists(r *http.Request, name, dir string) (bool, error) {
	ok, err := c.manager.FileExists(r.Context(), name, dir)
	if err != nil || ok {
		return ok, err
	}
	return c.manager.PathExists(r.Context(), urlpath.Join(dir, name))
}
