package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/janelia-flyem/ngshow/layer"
	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/volume"
)

// State is the set of layers shown by a viewer, in the order they were added.
type State struct {
	layers []*layer.Layer
}

// Append adds a layer, failing if the name is already used.
func (s *State) Append(l *layer.Layer) error {
	if l.Name == "" {
		return fmt.Errorf("layer must have a name")
	}
	if s.Layer(l.Name) != nil {
		return fmt.Errorf("layer %q already exists", l.Name)
	}
	s.layers = append(s.layers, l)
	return nil
}

// Layer returns the named layer or nil.
func (s *State) Layer(name string) *layer.Layer {
	for _, l := range s.layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Remove deletes the named layer and returns true if it existed.
func (s *State) Remove(name string) bool {
	for i, l := range s.layers {
		if l.Name == name {
			s.layers = append(s.layers[:i:i], s.layers[i+1:]...)
			return true
		}
	}
	return false
}

// Layers returns the layers in order.
func (s *State) Layers() []*layer.Layer {
	return append([]*layer.Layer{}, s.layers...)
}

func (s *State) clone() *State {
	return &State{layers: s.Layers()}
}

type layerJSON struct {
	Name    string            `json:"name"`
	Type    volume.VolumeType `json:"type"`
	Source  string            `json:"source"`
	Shader  string            `json:"shader,omitempty"`
	Opacity *float64          `json:"opacity,omitempty"`
	Visible *bool             `json:"visible,omitempty"`
}

// Viewer serves the sources of its layers over HTTP.
type Viewer struct {
	config Config
	cache  *responseCache

	mu      sync.RWMutex
	state   *State
	sources map[string]volume.Source // token -> source

	listener net.Listener
	server   *http.Server
	url      string
}

// New returns a viewer that is not yet serving.
func New(config Config) *Viewer {
	return &Viewer{
		config:  config,
		cache:   newResponseCache(config.Server.CacheMB),
		state:   &State{},
		sources: make(map[string]volume.Source),
	}
}

// Txn applies fn to a copy of the state and makes it current if fn succeeds.
func (v *Viewer) Txn(fn func(s *State) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := v.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	sources := make(map[string]volume.Source, len(next.layers))
	for _, l := range next.layers {
		sources[l.Source.Token()] = l.Source
	}
	v.state = next
	v.sources = sources
	return nil
}

// State returns a copy of the current state.
func (v *Viewer) State() *State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.clone()
}

// Source returns the source registered under token.
func (v *Viewer) Source(token string) (volume.Source, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	src, found := v.sources[token]
	return src, found
}

// Invalidate marks the data of the named layer as changed and returns its new generation.
func (v *Viewer) Invalidate(name string) (uint64, error) {
	v.mu.RLock()
	l := v.state.Layer(name)
	v.mu.RUnlock()
	if l == nil {
		return 0, fmt.Errorf("no layer %q", name)
	}
	return l.Source.Invalidate(), nil
}

// SourceURL returns the data source URL of a token as used in the viewer state.
func (v *Viewer) SourceURL(token string) string {
	return fmt.Sprintf("python://volume/%s/neuroglancer/%s", v.URL(), token)
}

// MarshalState returns the viewer state as JSON.
func (v *Viewer) MarshalState() ([]byte, error) {
	state := v.State()
	out := struct {
		Layers []layerJSON `json:"layers"`
	}{Layers: make([]layerJSON, 0, len(state.layers))}
	for _, l := range state.layers {
		lj := layerJSON{
			Name:    l.Name,
			Type:    l.Source.VolumeType(),
			Source:  v.SourceURL(l.Source.Token()),
			Shader:  l.Shader,
			Opacity: l.Opacity,
		}
		if !l.Visible {
			hidden := false
			lj.Visible = &hidden
		}
		out.Layers = append(out.Layers, lj)
	}
	return json.Marshal(out)
}

// Serve starts the HTTP server in the background.  The URL is known once Serve returns.
func (v *Viewer) Serve() error {
	if url := v.URL(); url != "" {
		return fmt.Errorf("viewer is already serving at %s", url)
	}
	addr := net.JoinHostPort(v.config.Server.BindAddress, strconv.Itoa(v.config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("can't listen on %s: %v", addr, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	host := v.config.Server.BindAddress
	if host == "" || host == "0.0.0.0" || host == "::" {
		if host, err = os.Hostname(); err != nil {
			host = "localhost"
		}
	}
	server := &http.Server{
		Handler:           v.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	v.mu.Lock()
	if v.server != nil {
		current := v.url
		v.mu.Unlock()
		listener.Close()
		return fmt.Errorf("viewer is already serving at %s", current)
	}
	v.listener = listener
	v.url = url
	v.server = server
	v.mu.Unlock()

	ngshow.Infof("Serving volumes at %s\n", url)
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			ngshow.Criticalf("Viewer server stopped: %v\n", err)
		}
	}()
	return nil
}

// URL returns the address of the server or an empty string before Serve.
func (v *Viewer) URL() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.url
}

// String returns the URL, mirroring how a viewer prints itself.
func (v *Viewer) String() string {
	return v.URL()
}

// Shutdown stops the HTTP server.
func (v *Viewer) Shutdown(ctx context.Context) error {
	v.mu.RLock()
	server, url := v.server, v.url
	v.mu.RUnlock()
	if server == nil {
		return nil
	}
	attempts, hits := v.cache.stats()
	ngshow.Infof("Shutting down viewer at %s, response cache hits %d of %d\n", url, hits, attempts)
	return server.Shutdown(ctx)
}
