// Command-line tool that serves zarr and precomputed datasets to a neuroglancer viewer.
// Multiscale datasets are combined into scale pyramids.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/janelia-flyem/ngshow/layer"
	"github.com/janelia-flyem/ngshow/ngshow"
	"github.com/janelia-flyem/ngshow/viewer"
	"github.com/janelia-flyem/ngshow/volume"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Print version and exit.
	showVersion = flag.Bool("version", false, "")

	// Only print the URL.
	noBrowser = flag.Bool("n", false, "")

	// Address the data server binds to.
	bindAddress = flag.String("b", viewer.DefaultBindAddress, "")

	// Port of the data server.  Zero selects any free port.
	port = flag.Int("port", 0, "")

	// Optional TOML configuration.
	configFile = flag.String("config", "", "")

	datasets datasetList
)

const helpMessage = `
ngshow serves zarr and neuroglancer precomputed datasets to a neuroglancer viewer

Usage: ngshow [options] -d <path|glob> [path|glob ...] [-s <slices>] [-d ...]

      -d          =string   Dataset paths or globs; may be repeated.  Paths following a
                            -d join its group.  Local paths, file://, gs:// and s3://
                            references are accepted.
      -s          =string   Slices like "10:20,:,5:" applied to every dataset of the
                            preceding -d group.
      -n          (flag)    Do not open a browser, just print the URL.
      -b          =string   Bind address (default 0.0.0.0).
      -port       =number   Port to bind to (default any free port).
      -config     =string   TOML configuration file.
      -version    (flag)    Print version.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

A dataset that is not itself an array is searched for multiscale s0, s1, ...
subdirectories, which are shown as a single layer.  Precomputed volumes are shown
with all their scales.
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Var(datasetFlag{&datasets}, "d", "")
	flag.Var(sliceFlag{&datasets}, "s", "")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("ngshow %s\n", ngshow.Version)
		os.Exit(0)
	}
	if err := addRemainingArgs(&datasets, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(2)
	}
	if *showHelp || len(datasets) == 0 {
		flag.Usage()
		os.Exit(0)
	}
	if *runVerbose {
		ngshow.SetLogMode(ngshow.DebugMode)
	}
	ngshow.NumCPU = runtime.NumCPU()

	config, err := loadConfig()
	if err != nil {
		log.Fatalf("Bad configuration: %v\n", err)
	}
	config.Logging.SetLogger()
	defer ngshow.Shutdown()

	v := viewer.New(config)
	ctx := context.Background()
	if err := addDatasets(ctx, v, datasets); err != nil {
		log.Fatalf("%v\n", err)
	}
	if err := v.Serve(); err != nil {
		log.Fatalf("Unable to start server: %v\n", err)
	}

	fmt.Println(v)
	if os.Getenv("DISPLAY") != "" && !*noBrowser {
		fmt.Println("Open the URL above in a neuroglancer-enabled browser to view the layers.")
	}
	fmt.Println("Press ENTER to quit")
	waitForQuit()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.Shutdown(shutdownCtx); err != nil {
		ngshow.Errorf("Error shutting down server: %v\n", err)
	}
}

// loadConfig reads any TOML config and applies flags that were explicitly set.
func loadConfig() (viewer.Config, error) {
	config := viewer.DefaultConfig()
	if *configFile != "" {
		var err error
		if config, err = viewer.LoadConfig(*configFile); err != nil {
			return config, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "b":
			config.Server.BindAddress = *bindAddress
		case "port":
			config.Server.Port = *port
		}
	})
	return config, nil
}

// waitForQuit blocks until ENTER is pressed, stdin closes, or a stop signal arrives.
func waitForQuit() {
	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, os.Interrupt, syscall.SIGTERM)
	enter := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()
	select {
	case sig := <-stopSig:
		log.Printf("Stop signal captured: %q.  Shutting down...\n", sig)
	case <-enter:
	}
}

// addDatasets opens every dataset matched by the -d globs and adds it as a layer.
func addDatasets(ctx context.Context, v *viewer.Viewer, entries datasetList) error {
	for _, d := range entries {
		var slices []volume.Slice
		if d.hasSlices {
			var err error
			if slices, err = volume.ParseSlices(d.slices); err != nil {
				return fmt.Errorf("bad slices %q for %s: %v", d.slices, strings.Join(d.globs, " "), err)
			}
		}
		var paths []string
		for _, glob := range d.globs {
			matches, err := expandGlob(glob)
			if err != nil {
				return err
			}
			paths = append(paths, matches...)
		}
		fmt.Printf("Adding %s with slices %q\n", strings.Join(d.globs, " "), d.slices)
		for _, path := range paths {
			fmt.Printf("Adding %s\n", path)
			arrays, err := openDataset(ctx, path)
			if err != nil {
				return fmt.Errorf("couldn't read %s: %v", path, err)
			}
			if slices != nil {
				if arrays, err = sliceArrays(arrays, slices); err != nil {
					return fmt.Errorf("couldn't slice %s: %v", path, err)
				}
			}
			err = v.Txn(func(s *viewer.State) error {
				_, err := layer.Add(s, arrays, datasetName(path), layer.Options{})
				return err
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
