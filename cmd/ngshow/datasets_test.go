package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/pyramid"
	"github.com/janelia-flyem/ngshow/viewer"
	"github.com/janelia-flyem/ngshow/volume"
)

func writeFile(t *testing.T, path string, data []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// writeZarr stores a single-chunk uint8 zarr array of the given zyx shape and resolution.
func writeZarr(t *testing.T, dir string, shape [3]int, resolution [3]int) {
	zarray := []byte(`{"chunks": [` + itoa(shape[0]) + `,` + itoa(shape[1]) + `,` + itoa(shape[2]) + `],
		"compressor": null, "dtype": "|u1", "fill_value": 0, "order": "C",
		"shape": [` + itoa(shape[0]) + `,` + itoa(shape[1]) + `,` + itoa(shape[2]) + `], "zarr_format": 2}`)
	writeFile(t, filepath.Join(dir, ".zarray"), zarray)
	zattrs := []byte(`{"resolution": [` + itoa(resolution[0]) + `,` + itoa(resolution[1]) + `,` + itoa(resolution[2]) + `]}`)
	writeFile(t, filepath.Join(dir, ".zattrs"), zattrs)
	data := make([]byte, shape[0]*shape[1]*shape[2])
	for i := range data {
		data[i] = byte(i)
	}
	writeFile(t, filepath.Join(dir, "0.0.0"), data)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func TestFlags(t *testing.T) {
	var list datasetList
	d, s := datasetFlag{&list}, sliceFlag{&list}
	if err := s.Set(":"); err == nil {
		t.Errorf("expected error for -s before -d\n")
	}
	if err := d.Set("a.zarr/raw"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("0:10,:,:"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(":"); err == nil {
		t.Errorf("expected error for second -s\n")
	}
	if err := d.Set("b.zarr/*"); err != nil {
		t.Fatal(err)
	}
	if err := d.Set("c.zarr/raw  d.zarr/raw"); err != nil {
		t.Fatal(err)
	}
	if err := d.Set("  "); err == nil {
		t.Errorf("expected error for empty -d\n")
	}
	want := datasetList{
		{globs: []string{"a.zarr/raw"}, slices: "0:10,:,:", hasSlices: true},
		{globs: []string{"b.zarr/*"}},
		{globs: []string{"c.zarr/raw", "d.zarr/raw"}},
	}
	if diff := cmp.Diff(want, list, cmp.AllowUnexported(datasetArg{})); diff != "" {
		t.Errorf("bad dataset list (-want +got):\n%s", diff)
	}
	if d.String() != "a.zarr/raw b.zarr/* c.zarr/raw d.zarr/raw" {
		t.Errorf("bad flag string %q\n", d.String())
	}
}

func TestRemainingArgs(t *testing.T) {
	tests := []struct {
		name    string
		parsed  datasetList
		args    []string
		want    datasetList
		wantErr bool
	}{
		{
			name: "paths without -d",
			args: []string{"a", "b"},
			want: datasetList{{globs: []string{"a", "b"}}},
		},
		{
			name:   "group sliced together",
			parsed: datasetList{{globs: []string{"a"}}},
			args:   []string{"b", "-s", "0:10"},
			want:   datasetList{{globs: []string{"a", "b"}, slices: "0:10", hasSlices: true}},
		},
		{
			name:   "later groups",
			parsed: datasetList{{globs: []string{"a"}}},
			args:   []string{"b", "-s=1:2", "c", "-d", "e", "f", "--s", ":"},
			want: datasetList{
				{globs: []string{"a", "b"}, slices: "1:2", hasSlices: true},
				{globs: []string{"c"}},
				{globs: []string{"e", "f"}, slices: ":", hasSlices: true},
			},
		},
		{
			name:    "second -s for a group",
			parsed:  datasetList{{globs: []string{"a"}, slices: ":", hasSlices: true}},
			args:    []string{"-s", "0:1"},
			wantErr: true,
		},
		{
			name:    "missing value",
			parsed:  datasetList{{globs: []string{"a"}}},
			args:    []string{"b", "-s"},
			wantErr: true,
		},
		{
			name:    "other option after datasets",
			parsed:  datasetList{{globs: []string{"a"}}},
			args:    []string{"b", "-verbose"},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		list := tc.parsed
		err := addRemainingArgs(&list, tc.args)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error\n", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v\n", tc.name, err)
			continue
		}
		if diff := cmp.Diff(tc.want, list, cmp.AllowUnexported(datasetArg{})); diff != "" {
			t.Errorf("%s: bad dataset list (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestNames(t *testing.T) {
	for ref, want := range map[string]string{
		"/data/sample.zarr/raw/":       "raw",
		"file:///data/sample.zarr/raw": "raw",
		"gs://bucket/volumes/em":       "em",
		"s3://bucket/volumes/em/":      "em",
	} {
		if got := datasetName(ref); got != want {
			t.Errorf("name of %q: expected %q, got %q\n", ref, want, got)
		}
	}
	for name, want := range map[string]int{"s0": 0, "s12": 12} {
		if got, ok := scaleIndex(name); !ok || got != want {
			t.Errorf("scale index of %q: expected %d, got %d\n", name, want, got)
		}
	}
	for _, name := range []string{"raw", "s", "sx", "s-1"} {
		if _, ok := scaleIndex(name); ok {
			t.Errorf("%q should not be a scale directory\n", name)
		}
	}
}

func TestOpenDataset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeZarr(t, filepath.Join(dir, "sample.zarr", "raw"), [3]int{2, 4, 4}, [3]int{40, 4, 4})
	writeZarr(t, filepath.Join(dir, "sample.zarr", "multi", "s0"), [3]int{2, 4, 4}, [3]int{40, 4, 4})
	writeZarr(t, filepath.Join(dir, "sample.zarr", "multi", "s1"), [3]int{2, 2, 2}, [3]int{40, 8, 8})
	writeFile(t, filepath.Join(dir, "sample.zarr", "empty", "notes.txt"), []byte("nothing"))

	arrays, err := openDataset(ctx, filepath.Join(dir, "sample.zarr", "raw"))
	if err != nil {
		t.Fatalf("couldn't open single scale dataset: %v\n", err)
	}
	if len(arrays) != 1 {
		t.Fatalf("expected 1 array, got %d\n", len(arrays))
	}
	data, err := arrays[0].ReadRegion(ctx, ngshow.PointNd{1, 3, 3}, ngshow.PointNd{2, 4, 4})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{31}, data); diff != "" {
		t.Errorf("bad voxel (-want +got):\n%s", diff)
	}

	arrays, err = openDataset(ctx, filepath.Join(dir, "sample.zarr", "multi"))
	if err != nil {
		t.Fatalf("couldn't open multiscale dataset: %v\n", err)
	}
	if len(arrays) != 2 {
		t.Fatalf("expected 2 scales, got %d\n", len(arrays))
	}
	if diff := cmp.Diff(ngshow.NdFloat64{40, 8, 8}, arrays[1].VoxelSize()); diff != "" {
		t.Errorf("bad s1 voxel size (-want +got):\n%s", diff)
	}

	if _, err := openDataset(ctx, filepath.Join(dir, "sample.zarr", "empty")); err == nil {
		t.Errorf("expected error for directory without arrays\n")
	}
}

func TestAddDatasets(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeZarr(t, filepath.Join(dir, "sample.zarr", "raw"), [3]int{2, 4, 4}, [3]int{40, 4, 4})
	writeZarr(t, filepath.Join(dir, "sample.zarr", "multi", "s0"), [3]int{2, 4, 4}, [3]int{40, 4, 4})
	writeZarr(t, filepath.Join(dir, "sample.zarr", "multi", "s1"), [3]int{2, 2, 2}, [3]int{40, 8, 8})
	writeZarr(t, filepath.Join(dir, "other.zarr", "em"), [3]int{2, 4, 4}, [3]int{40, 4, 4})

	v := viewer.New(viewer.DefaultConfig())
	entries := datasetList{
		{globs: []string{filepath.Join(dir, "sample.zarr", "r*"), filepath.Join(dir, "other.zarr", "em")}, slices: "1:2,:,2:", hasSlices: true},
		{globs: []string{filepath.Join(dir, "sample.zarr", "multi")}},
	}
	if err := addDatasets(ctx, v, entries); err != nil {
		t.Fatalf("couldn't add datasets: %v\n", err)
	}
	state := v.State()
	for _, name := range []string{"raw", "em"} {
		l := state.Layer(name)
		if l == nil {
			t.Fatalf("no %s layer\n", name)
		}
		info, err := l.Source.Info()
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(ngshow.PointNd{1, 4, 2}, info.Shape); diff != "" {
			t.Errorf("bad sliced shape of %s (-want +got):\n%s", name, diff)
		}
	}
	multi := state.Layer("multi")
	if multi == nil {
		t.Fatalf("no multi layer\n")
	}
	if _, ok := multi.Source.(*pyramid.Pyramid); !ok {
		t.Errorf("expected pyramid for multiscale dataset, got %T\n", multi.Source)
	}
	data, err := multi.Source.EncodedSubvolume(ctx, volume.FormatRaw, ngshow.PointNd{0, 0, 0}, ngshow.PointNd{1, 1, 1}, []int64{1, 2, 2})
	if err != nil || len(data) != 1 {
		t.Errorf("bad pyramid read: %v, %v\n", data, err)
	}

	bad := datasetList{{globs: []string{filepath.Join(dir, "sample.zarr", "raw")}, slices: "1:2:3", hasSlices: true}}
	if err := addDatasets(ctx, v, bad); err == nil {
		t.Errorf("expected error for stepped slice\n")
	}
}
