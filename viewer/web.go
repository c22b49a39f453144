package viewer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/pyramid"
	"github.com/janelia-flyem/ngshow/volume"
)

// BadRequest writes an HTTP 400 error with the given message and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func httpError(w http.ResponseWriter, r *http.Request, status int, message string) {
	errorMsg := fmt.Sprintf("ERROR: %s (%s).", message, r.URL.Path)
	if status >= http.StatusInternalServerError {
		ngshow.Errorf("%s\n", errorMsg)
	} else {
		ngshow.Debugf("%s\n", errorMsg)
	}
	http.Error(w, errorMsg, status)
}

// sourceError maps errors returned by a source to an HTTP status.
func sourceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pyramid.ErrBadScaleKey),
		errors.Is(err, pyramid.ErrScaleDims),
		errors.Is(err, pyramid.ErrNoEligibleScale),
		errors.Is(err, volume.ErrOutOfBounds),
		errors.Is(err, volume.ErrBadFactors),
		errors.Is(err, volume.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, volume.ErrNoMesh):
		status = http.StatusNotFound
	}
	httpError(w, r, status, err.Error())
}

// logRequests is middleware that times every request.
func logRequests(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		timedLog := ngshow.NewTimeLog()
		h.ServeHTTP(w, r)
		timedLog.Debugf("%s %s", r.Method, r.URL.Path)
	}
	return http.HandlerFunc(fn)
}

// Handler returns the HTTP handler serving all data routes with CORS enabled.
func (v *Viewer) Handler() http.Handler {
	mux := web.New()
	mux.Use(logRequests)
	mux.Get("/state", v.stateHandler)
	mux.Get("/neuroglancer/info/:token", v.infoHandler)
	mux.Get("/neuroglancer/mesh/:token/:id", v.meshHandler)
	mux.Get("/neuroglancer/:format/:token/:scale/:start/:end", v.subvolumeHandler)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	})
	return c.Handler(mux)
}

func (v *Viewer) lookup(c web.C, w http.ResponseWriter, r *http.Request) (volume.Source, bool) {
	token := c.URLParams["token"]
	src, found := v.Source(token)
	if !found {
		httpError(w, r, http.StatusNotFound, fmt.Sprintf("no volume with token %q", token))
	}
	return src, found
}

func (v *Viewer) stateHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	data, err := v.MarshalState()
	if err != nil {
		httpError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (v *Viewer) infoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	src, found := v.lookup(c, w, r)
	if !found {
		return
	}
	info, err := src.Info()
	if err != nil {
		sourceError(w, r, err)
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		httpError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (v *Viewer) meshHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	src, found := v.lookup(c, w, r)
	if !found {
		return
	}
	id, err := strconv.ParseUint(c.URLParams["id"], 10, 64)
	if err != nil {
		BadRequest(w, r, "bad object id %q", c.URLParams["id"])
		return
	}
	data, err := src.ObjectMesh(r.Context(), id)
	if err != nil {
		sourceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (v *Viewer) subvolumeHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	src, found := v.lookup(c, w, r)
	if !found {
		return
	}
	format := volume.Format(c.URLParams["format"])
	scale, err := pyramid.ParseScaleKey(c.URLParams["scale"])
	if err != nil {
		sourceError(w, r, err)
		return
	}
	start, err := ngshow.ParsePointNd(c.URLParams["start"])
	if err != nil {
		BadRequest(w, r, "bad start coordinate: %v", err)
		return
	}
	end, err := ngshow.ParsePointNd(c.URLParams["end"])
	if err != nil {
		BadRequest(w, r, "bad end coordinate: %v", err)
		return
	}
	info, err := src.Info()
	if err != nil {
		sourceError(w, r, err)
		return
	}

	key := fmt.Sprintf("%s/%d/%s/%s/%s/%s", src.Token(), info.Generation, format, scale, start, end)
	data, cached := v.cache.get(key)
	if !cached {
		data, err = src.EncodedSubvolume(r.Context(), format, start, end, []int64(scale))
		if err != nil {
			sourceError(w, r, err)
			return
		}
		v.cache.set(key, data)
	}
	ngshow.Debugf("Sending %s subvolume %s-%s at scale %s (cached %t)\n", humanize.Bytes(uint64(len(data))), start, end, scale, cached)
	w.Header().Set("Content-Type", volume.ContentType(format))
	w.Write(data)
}
