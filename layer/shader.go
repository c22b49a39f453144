package layer

import (
	"bytes"
	"fmt"
	"text/template"
)

// Named shaders recognized in Options.Shader.  Any other non-empty string is used as
// shader source.
const (
	ShaderRGB     = "rgb"
	ShaderRGBA    = "rgba"
	ShaderMask    = "mask"
	ShaderHeatmap = "heatmap"
)

var shaders = template.Must(template.New("shaders").Parse(`
{{- define "rgb"}}
void main() {
    emitRGB(
        {{if .ScaleRGB}}255.0*{{end}}vec3(
            toNormalized(getDataValue({{index .Channels 0}})),
            toNormalized(getDataValue({{index .Channels 1}})),
            toNormalized(getDataValue({{index .Channels 2}})))
        );
}
{{- end}}
{{- define "rgba"}}
void main() {
    emitRGBA(
        vec4(
        {{printf "%f" (index .Hue 0)}}, {{printf "%f" (index .Hue 1)}}, {{printf "%f" (index .Hue 2)}},
        toNormalized(getDataValue()))
        );
}
{{- end}}
{{- define "mask"}}
void main() {
  emitGrayscale(255.0*toNormalized(getDataValue()));
}
{{- end}}
{{- define "heatmap"}}
void main() {
    float v = toNormalized(getDataValue(0));
    vec4 rgba = vec4(0,0,0,0);
    if (v != 0.0) {
        rgba = vec4(colormapJet(v), 1.0);
    }
    emitRGBA(rgba);
}
{{- end}}
`))

type shaderParams struct {
	ScaleRGB bool
	Channels []int
	Hue      []float64
}

// renderShader expands a named shader.  Unknown names are returned unchanged so custom
// shader source can be passed through.
func renderShader(name string, opts Options) (string, error) {
	switch name {
	case "":
		return "", nil
	case ShaderRGB, ShaderRGBA, ShaderMask, ShaderHeatmap:
	default:
		return name, nil
	}
	params := shaderParams{
		ScaleRGB: opts.ScaleRGB,
		Channels: opts.Channels,
		Hue:      opts.Hue,
	}
	if params.Channels == nil {
		params.Channels = []int{0, 1, 2}
	}
	if params.Hue == nil {
		params.Hue = []float64{0, 0, 1}
	}
	if len(params.Channels) != 3 {
		return "", fmt.Errorf("rgb shader needs 3 channels, got %v", params.Channels)
	}
	if len(params.Hue) != 3 {
		return "", fmt.Errorf("rgba shader needs 3 hue components, got %v", params.Hue)
	}
	var buf bytes.Buffer
	if err := shaders.ExecuteTemplate(&buf, name, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}
