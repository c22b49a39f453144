package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/storage"
	"github.com/janelia-flyem/ngshow/storage/ngprecomputed"
	"github.com/janelia-flyem/ngshow/storage/zarr"
	"github.com/janelia-flyem/ngshow/volume"
)

// datasetArg is one -d group of paths or globs and the -s that followed it, if any.
// The slices apply to every dataset of the group.
type datasetArg struct {
	globs     []string
	slices    string
	hasSlices bool
}

type datasetList []datasetArg

type datasetFlag struct {
	list *datasetList
}

func (f datasetFlag) String() string {
	if f.list == nil {
		return ""
	}
	var globs []string
	for _, d := range *f.list {
		globs = append(globs, d.globs...)
	}
	return strings.Join(globs, " ")
}

// Set starts a new group.  A quoted value may hold several space-separated paths.
func (f datasetFlag) Set(value string) error {
	globs := strings.Fields(value)
	if len(globs) == 0 {
		return errors.New("the -d argument needs at least one path")
	}
	*f.list = append(*f.list, datasetArg{globs: globs})
	return nil
}

type sliceFlag struct {
	list *datasetList
}

func (f sliceFlag) String() string {
	return ""
}

func (f sliceFlag) Set(value string) error {
	n := len(*f.list)
	if n == 0 {
		return errors.New("the -s argument has to follow a -d argument")
	}
	last := &(*f.list)[n-1]
	if last.hasSlices {
		return fmt.Errorf("only one -s argument allowed to follow -d %s", strings.Join(last.globs, " "))
	}
	last.slices = value
	last.hasSlices = true
	return nil
}

// addRemainingArgs handles what the flag package leaves unparsed after the first
// positional path.  Paths join the preceding -d group, so "-d a b -s 0:10" slices
// both a and b.  Later -d and -s arguments are still honored.
func addRemainingArgs(list *datasetList, args []string) error {
	d, s := datasetFlag{list}, sliceFlag{list}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			if n := len(*list); n > 0 && !(*list)[n-1].hasSlices {
				(*list)[n-1].globs = append((*list)[n-1].globs, arg)
			} else {
				*list = append(*list, datasetArg{globs: []string{arg}})
			}
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		var target flag.Value
		switch name {
		case "d":
			target = d
		case "s":
			target = s
		default:
			return fmt.Errorf("option %s has to come before the datasets", arg)
		}
		if !hasValue {
			if i+1 == len(args) {
				return fmt.Errorf("option %s needs a value", arg)
			}
			i++
			value = args[i]
		}
		if err := target.Set(value); err != nil {
			return err
		}
	}
	return nil
}

func isRemote(ref string) bool {
	return strings.Contains(ref, "://") && !strings.HasPrefix(ref, "file://")
}

// expandGlob returns matching local paths.  Remote references are returned unchanged.
func expandGlob(glob string) ([]string, error) {
	if isRemote(glob) {
		return []string{glob}, nil
	}
	matches, err := filepath.Glob(strings.TrimPrefix(glob, "file://"))
	if err != nil {
		return nil, fmt.Errorf("bad glob %q: %v", glob, err)
	}
	if len(matches) == 0 {
		ngshow.Warningf("No datasets match %q\n", glob)
	}
	return matches, nil
}

// datasetName is the last path element, used as the layer name.
func datasetName(ref string) string {
	if isRemote(ref) {
		return path.Base(strings.TrimRight(ref, "/"))
	}
	return filepath.Base(filepath.Clean(strings.TrimPrefix(ref, "file://")))
}

// scaleIndex returns n for scale directory names like "s3".
func scaleIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "s") {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	return n, err == nil && n >= 0
}

// openDataset returns one array for a single-scale dataset or several for a multiscale one.
func openDataset(ctx context.Context, ref string) ([]volume.Array, error) {
	bucket, err := storage.OpenBucket(ctx, ref)
	if err != nil {
		return nil, err
	}

	if ngprecomputed.IsVolume(ctx, bucket) {
		vol, err := ngprecomputed.Open(ctx, bucket, ref)
		if err != nil {
			return nil, err
		}
		return vol.Scales(), nil
	}

	arr, openErr := zarr.Open(ctx, bucket, "")
	if openErr == nil {
		return []volume.Array{arr}, nil
	}
	fmt.Printf("%v\nDidn't work, checking if this is multi-res...\n", openErr)

	dirs, err := storage.ListDirs(ctx, bucket, "")
	if err != nil {
		return nil, err
	}
	var scales []string
	for _, dir := range dirs {
		if _, ok := scaleIndex(dir); ok {
			scales = append(scales, dir)
		}
	}
	if len(scales) == 0 {
		return nil, openErr
	}
	sort.Slice(scales, func(i, j int) bool {
		a, _ := scaleIndex(scales[i])
		b, _ := scaleIndex(scales[j])
		return a < b
	})
	fmt.Printf("Found scales %v\n", scales)
	arrays := make([]volume.Array, len(scales))
	for i, scale := range scales {
		if arrays[i], err = zarr.Open(ctx, bucket, scale); err != nil {
			return nil, err
		}
	}
	return arrays, nil
}

// sliceArrays applies the same lazy crop to every array of a dataset.
func sliceArrays(arrays []volume.Array, slices []volume.Slice) ([]volume.Array, error) {
	out := make([]volume.Array, len(arrays))
	for i, a := range arrays {
		sliced, err := volume.NewSliced(a, slices)
		if err != nil {
			return nil, err
		}
		out[i] = sliced
	}
	return out, nil
}
