package layer

import (
	"fmt"
	"math"

	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/pyramid"
	"github.com/janelia-flyem/ngshow/volume"
)

var (
	spatialDimNames = []string{"t", "z", "y", "x"}
	channelDimNames = []string{"b^", "c^"}
)

// Options control how a layer is built and displayed.
type Options struct {
	// Opacity between 0 and 1.  Nil leaves the viewer default.
	Opacity *float64

	// Shader is a named shader (rgb, rgba, mask, heatmap) or shader source.  If empty and
	// the data has a channel axis with more than one channel, rgb is used.
	Shader string

	Hidden bool

	// ReversedAxes presents the axes in reverse order, for arrays stored x-fastest.
	ReversedAxes bool

	// ScaleRGB multiplies rgb shader output by 255.
	ScaleRGB bool

	// Channels used by the rgb shader.  Defaults to 0, 1, 2.
	Channels []int

	// Hue is the rgb color used by the rgba shader.  Defaults to blue.
	Hue []float64

	// VolumeType overrides the data type based default.
	VolumeType volume.VolumeType
}

// Layer is a named source along with its display settings.
type Layer struct {
	Name    string
	Source  volume.Source
	Shader  string
	Opacity *float64
	Visible bool
}

// Appender receives new layers, typically a viewer state within a transaction.
type Appender interface {
	Append(l *Layer) error
}

// CoordinateSpace returns the coordinate space of an array.  Leading axes beyond the
// array's spatial rank are channel axes.
func CoordinateSpace(a volume.Array, reversed bool) (volume.CoordinateSpace, error) {
	spatialDims := volume.SpatialDims(a)
	channelDims := volume.ChannelDims(a)
	if spatialDims > len(spatialDimNames) || spatialDims < 1 {
		return volume.CoordinateSpace{}, fmt.Errorf("can't name %d spatial dimensions", spatialDims)
	}
	if channelDims > len(channelDimNames) || channelDims < 0 {
		return volume.CoordinateSpace{}, fmt.Errorf("can't name %d channel dimensions", channelDims)
	}
	var cs volume.CoordinateSpace
	cs.Names = append(cs.Names, channelDimNames[len(channelDimNames)-channelDims:]...)
	cs.Names = append(cs.Names, spatialDimNames[len(spatialDimNames)-spatialDims:]...)
	for i := 0; i < channelDims; i++ {
		cs.Units = append(cs.Units, "")
		cs.Scales = append(cs.Scales, 1)
	}
	for i := 0; i < spatialDims; i++ {
		cs.Units = append(cs.Units, "nm")
	}
	cs.Scales = append(cs.Scales, a.VoxelSize()...)
	if reversed {
		cs = cs.Reversed()
	}
	return cs, nil
}

// VoxelOffset returns the offset of an array in voxels, zero along channel axes.
func VoxelOffset(a volume.Array, reversed bool) ngshow.PointNd {
	voxelSize := a.VoxelSize()
	offset := a.Offset()
	out := make(ngshow.PointNd, volume.ChannelDims(a), len(a.Shape()))
	for d := range voxelSize {
		out = append(out, int64(math.Round(offset[d]/voxelSize[d])))
	}
	if reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func newLocalVolume(a volume.Array, opts Options) (*volume.LocalVolume, error) {
	dims, err := CoordinateSpace(a, opts.ReversedAxes)
	if err != nil {
		return nil, err
	}
	return volume.NewLocalVolume(a, volume.LocalOptions{
		Dimensions:  dims,
		VoxelOffset: VoxelOffset(a, opts.ReversedAxes),
		VolumeType:  opts.VolumeType,
	})
}

// NewSource returns a LocalVolume for a single array or a pyramid for several.
func NewSource(arrays []volume.Array, opts Options) (volume.Source, error) {
	switch len(arrays) {
	case 0:
		return nil, fmt.Errorf("no arrays given for layer")
	case 1:
		return newLocalVolume(arrays[0], opts)
	}
	sources := make([]volume.Source, len(arrays))
	for i, a := range arrays {
		v, err := newLocalVolume(a, opts)
		if err != nil {
			return nil, fmt.Errorf("scale %d: %v", i, err)
		}
		sources[i] = v
	}
	return pyramid.New(sources...)
}

// defaultShader picks rgb for data with a multi-valued channel axis.
func defaultShader(a volume.Array) string {
	if volume.ChannelDims(a) > 0 && a.Shape()[0] > 1 {
		return ShaderRGB
	}
	return ""
}

// Add builds a layer from one or more arrays and appends it under name.
func Add(to Appender, arrays []volume.Array, name string, opts Options) (*Layer, error) {
	source, err := NewSource(arrays, opts)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", name, err)
	}
	shaderName := opts.Shader
	if shaderName == "" {
		shaderName = defaultShader(arrays[0])
	}
	var shader string
	if source.VolumeType() == volume.Image {
		if shader, err = renderShader(shaderName, opts); err != nil {
			return nil, fmt.Errorf("layer %q: %v", name, err)
		}
	}
	l := &Layer{
		Name:    name,
		Source:  source,
		Shader:  shader,
		Opacity: opts.Opacity,
		Visible: !opts.Hidden,
	}
	if err := to.Append(l); err != nil {
		return nil, err
	}
	ngshow.Infof("Added layer %q: %s\n", name, source)
	return l, nil
}
