package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"sort"
	"strings"

	plt "github.com/phil-mansfield/pyplot"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/src-d/go-billy.v4/osfs"

	"github.com/phil-mansfield/linkage"
	"github.com/phil-mansfield/linkage/gather"
	"github.com/phil-mansfield/linkage/geom"
	"github.com/phil-mansfield/linkage/io"
	"github.com/phil-mansfield/linkage/ledger"
	"github.com/phil-mansfield/linkage/material"
	"github.com/phil-mansfield/linkage/metrics"
	"github.com/phil-mansfield/linkage/monitor"
	"github.com/phil-mansfield/linkage/store"
	s3store "github.com/phil-mansfield/linkage/store/s3"
	"github.com/phil-mansfield/linkage/toy"
)

type FileGroup struct {
	log     *os.File
	closers []func() error
}

func (fg *FileGroup) Close() {
	for i := len(fg.closers) - 1; i >= 0; i-- {
		if err := fg.closers[i](); err != nil {
			log.Println(err.Error())
		}
	}
	if fg.log != nil {
		err := fg.log.Close()
		if err != nil {
			log.Fatal(err.Error())
		}
	}
}

func main() {
	var run, exampleConfig, plot string
	vars := map[string]*string{
		"Run":           &run,
		"ExampleConfig": &exampleConfig,
		"Plot":          &plot,
	}

	flag.StringVar(
		&run, "Run", "", "Configuration file for [Run] mode.",
	)
	flag.StringVar(
		&exampleConfig,
		"ExampleConfig", "", "Prints an example configuration file of the "+
			"specified type to stdout. The only accepted argument is 'Run'.",
	)
	flag.StringVar(
		&plot, "Plot", "",
		"Elevation table to plot. The figure is written next to it as a png.",
	)

	flag.Parse()

	modeName, err := getModeName(vars)
	if err != nil {
		log.Fatal(err.Error())
	}

	switch modeName {
	case "Run":
		wrap, err := io.ReadRunConfig(run)
		if err != nil {
			log.Fatal(err.Error())
		}
		runMain(wrap)
	case "ExampleConfig":
		switch exampleConfig {
		case "Run":
			fmt.Println(io.ExampleRunFile)
		default:
			log.Fatal(
				"Unrecognized 'ExampleConfig' argument. The only recognized "+
					"argument is 'Run'.",
			)
		}
	case "Plot":
		plotMain(plot)
	default:
		panic("Impossible")
	}
}

func getModeName(vars map[string]*string) (string, error) {
	setNames := []string{}

	for name, varPtr := range vars {
		if *varPtr != "" {
			setNames = append(setNames, name)
		}
	}
	sort.Strings(setNames)

	if len(setNames) == 0 {
		return "", fmt.Errorf("No flags have been set.")
	}

	if len(setNames) > 1 {
		return "", fmt.Errorf(
			"The following flags were set: %s, but linkage "+
				"only accepts one flag at a time.",
			strings.Join(setNames, ", "),
		)
	}

	return setNames[0], nil
}

func runMain(wrap *io.RunWrapper) {
	con := &wrap.Linkage
	fg := &FileGroup{}
	defer fg.Close()

	if con.ValidLogFile() {
		f, err := os.Create(con.LogFile)
		if err != nil {
			log.Fatal(err.Error())
		}
		fg.log = f
		log.SetOutput(f)
	}

	if err := os.MkdirAll(con.Output, 0777); err != nil {
		log.Fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cont, land, err := toyModels(wrap)
	if err != nil {
		log.Fatal(err.Error())
	}
	land.Output = osfs.New(path.Join(con.Output, "surface"))

	st, err := snapshotStore(ctx, &wrap.Snapshots)
	if err != nil {
		log.Fatal(err.Error())
	}

	policy, err := material.ParsePolicy(con.OutsidePolicy)
	if err != nil {
		log.Fatal(err.Error())
	}

	m := linkage.New()
	m.Continuum, m.Swarm, m.Surface = cont, cont.Swarm(), land
	m.CheckpointInterval = con.CheckpointInterval
	m.Materials = material.Map{
		Air: con.AirMaterial, Sediment: con.SedimentMaterial,
	}
	m.DisableMaterialChanges = con.DisableMaterialChanges
	m.OutsidePolicy = policy
	m.Sync = gather.NewSynchronizer(st)
	m.Logger = log.New(log.Writer(), "", log.LstdFlags)

	m.Update = func(m *linkage.Model, maxSeconds float64) (float64, error) {
		return cont.Advance(maxSeconds)
	}
	m.Checkpoint = func(m *linkage.Model, index int, years float64) error {
		return writeCheckpoint(con.Output, index, years, land)
	}

	m.Observers = observers(ctx, wrap, m.Sync.RunID, fg)

	log.Printf("Starting run %s for %g years.", m.Sync.RunID, con.Years)
	if err := m.RunForYears(ctx, con.Years, con.Sigma); err != nil {
		log.Fatal(err.Error())
	}
	log.Printf(
		"Finished at year %g after %d steps and %d checkpoints.",
		m.TimeYears(), m.Steps(), m.CheckpointIndex(),
	)
}

// toyModels builds the demo continuum and surface models described by the
// [Toy] section.
func toyModels(wrap *io.RunWrapper) (*toy.Continuum, *toy.Landscape, error) {
	con, lcon := &wrap.Toy, &wrap.Linkage
	box := geom.Box{
		Min: geom.Vec{con.MinX, con.MinY, con.MinZ},
		Max: geom.Vec{con.MaxX, con.MaxY, con.MaxZ},
	}

	var pts []geom.Vec
	if con.ValidDEM() {
		var err error
		if pts, err = io.ReadDEM(con.DEM); err != nil {
			return nil, nil, err
		}
	} else {
		pts = geom.FlatDEM(
			box.Min, box.Max, [2]int{con.SurfaceResX, con.SurfaceResY},
			con.Elevation,
		)
	}

	cont, err := toy.NewContinuum(toy.ContinuumParams{
		Box:        box,
		Resolution: [3]int{con.ResX, con.ResY, con.ResZ},
		Partitions: con.Partitions,
		Flow: toy.Flow{
			Velocity:    geom.Vec{con.VelocityX, con.VelocityY, con.VelocityZ},
			Uplift:      con.Uplift,
			UpliftWidth: con.UpliftWidth,
			Center: [2]float64{
				(con.MinX + con.MaxX) / 2, (con.MinY + con.MaxY) / 2,
			},
		},
		MaxDt:     con.MaxDt,
		Elevation: con.Elevation,
		Air:       lcon.AirMaterial[0],
		Sediment:  lcon.SedimentMaterial[0],
	})
	if err != nil {
		return nil, nil, err
	}

	land, err := toy.NewLandscape(pts)
	if err != nil {
		return nil, nil, err
	}
	land.Diffusivity = con.Diffusivity
	land.Afactor = con.Afactor

	return cont, land, nil
}

func snapshotStore(
	ctx context.Context, con *io.SnapshotsConfig,
) (store.Store, error) {
	switch con.Driver {
	case "fs":
		if err := os.MkdirAll(con.Dir, 0777); err != nil {
			return nil, err
		}
		return store.NewDir(con.Dir), nil
	case "s3":
		s, err := s3store.New(ctx, s3store.Config{
			Region:          con.Region,
			Bucket:          con.Bucket,
			Endpoint:        con.Endpoint,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			PathStyle:       con.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return store.NewMemory(), nil
}

// observers starts whichever of the ledger, metrics server and monitor
// server the configuration asks for.
func observers(
	ctx context.Context, wrap *io.RunWrapper, runID string, fg *FileGroup,
) []linkage.Observer {
	obs := []linkage.Observer{}

	if wrap.Ledger.Enabled() {
		l, err := ledger.Open(ctx, wrap.Ledger.Driver, wrap.Ledger.DSN, runID)
		if err != nil {
			log.Fatal(err.Error())
		}
		fg.closers = append(fg.closers, l.Close)
		obs = append(obs, l)
	}

	if addr := wrap.Serve.MetricsAddr; addr != "" {
		reg := prometheus.NewRegistry()
		mt, err := metrics.New(reg)
		if err != nil {
			log.Fatal(err.Error())
		}
		serve(addr, metrics.Handler(reg), fg)
		obs = append(obs, mt)
	}

	if addr := wrap.Serve.MonitorAddr; addr != "" {
		hub := monitor.NewHub()
		hub.Logger = log.New(log.Writer(), "monitor: ", log.LstdFlags)
		serve(addr, hub, fg)
		fg.closers = append(fg.closers, func() error { hub.Close(); return nil })
		obs = append(obs, hub)
	}

	return obs
}

func serve(addr string, h http.Handler, fg *FileGroup) {
	srv := &http.Server{Addr: addr, Handler: h}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(err.Error())
		}
	}()
	fg.closers = append(fg.closers, srv.Close)
	log.Printf("Serving %s.", addr)
}

func writeCheckpoint(
	dir string, index int, years float64, land *toy.Landscape,
) error {
	fname := path.Join(dir, fmt.Sprintf("checkpoint-%05d.txt", index))
	f, err := os.Create(fname)
	if err != nil {
		return err
	}

	pts := land.Grid().Nodes(land.Elevations())
	comment := fmt.Sprintf("checkpoint %d, year %g", index, years)
	if err := io.WriteDEM(f, comment, pts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// plotMain plots elevation against x. Regular grids are drawn one line per
// row, irregular ones as a scatter of their nodes.
func plotMain(fname string) {
	pts, err := io.ReadDEM(fname)
	if err != nil {
		log.Fatal(err.Error())
	}
	g, elev, err := geom.GridFromDEM(pts)
	if err != nil {
		log.Fatal(err.Error())
	}

	plt.Reset()
	plt.Figure()
	if g.Regular() {
		for r := 0; r < g.Rows; r++ {
			lo, hi := g.Idx(r, 0), g.Idx(r, g.Cols-1)+1
			plt.Plot(g.Xs[lo:hi], elev[lo:hi], "k", plt.LW(1))
		}
	} else {
		plt.Plot(g.Xs, elev, "ok")
	}
	plt.Title(path.Base(fname))
	plt.XLabel(`$x$ [m]`, plt.FontSize(16))
	plt.YLabel(`$z$ [m]`, plt.FontSize(16))
	plt.SaveFig(strings.TrimSuffix(fname, path.Ext(fname)) + ".png")
	plt.Execute()
}
