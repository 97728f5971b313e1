package io

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/gcfg.v1"
)

const (
	ExampleRunFile = `[Linkage]

#######################
# Required Parameters #
#######################

# Number of model years to run the coupled system for.
Years = 50000

# Directory which checkpoint elevation tables will be written to.
Output = path/to/output/dir

#######################
# Optional Parameters #
#######################

# Years between checkpoints. Default is 10000.
# CheckpointInterval = 10000

# Standard deviation, in surface grid nodes, of the Gaussian filter applied to
# the displacement field before it is handed to the surface model. Zero turns
# smoothing off and is the default.
# Sigma = 0

# Material identifiers treated as air and as sediment. Each may be given more
# than once. The first value is the one written when a particle changes layer.
# AirMaterial = 0
# SedimentMaterial = 1

# Turns off reclassification of particles entirely.
# DisableMaterialChanges = false

# What to do with particles that lie outside the surface grid's convex hull.
# Must be one of [ keep | clamp ]. keep leaves them untouched, clamp uses the
# elevation of the nearest surface node.
# OutsidePolicy = keep

# LogFile = log.out

[Snapshots]
# Where partition pieces are exchanged each step. Must be one of
# [ memory | fs | s3 ]. Default is memory.
# Driver = memory
# Dir = path/to/snapshot/dir
# Bucket = linkage-snapshots
# Region = us-east-1
# Endpoint = http://localhost:9000
# PathStyle = true

[Ledger]
# Records every checkpoint in a SQL table. Must be one of
# [ none | sqlite | pgx ]. Default is none.
# Driver = sqlite
# DSN = path/to/ledger.db

[Serve]
# Addresses for the prometheus metrics endpoint and the websocket monitor.
# Both are off when empty.
# MetricsAddr = :9100
# MonitorAddr = :9101

[Toy]
# Parameters of the built-in demo models.

# Domain bounds in meters.
MinX = 0
MaxX = 100000
MinY = 0
MaxY = 100000
MinZ = -30000
MaxZ = 2000

# Elements of the continuum mesh along each axis.
ResX = 16
ResY = 16
ResZ = 8

# Nodes of the surface grid along x and y.
SurfaceResX = 41
SurfaceResY = 41

# Initial elevation of a flat surface. Ignored if DEM is set.
# Elevation = 0
# DEM = path/to/dem.txt

# Number of x-slab partitions of the continuum mesh.
# Partitions = 4

# Background velocity in meters per year.
# VelocityX = 0.01
# VelocityY = 0
# VelocityZ = 0

# Peak uplift rate in meters per year, and the width of the uplift bump in
# meters.
# Uplift = 0.001
# UpliftWidth = 20000

# Hillslope diffusivity in square meters per year.
# Diffusivity = 1

# Merge factor handed through to the displacement forcing.
# Afactor = 1

# Largest step the demo update function will take, in years.
# MaxDt = 1000`
)

type LinkageConfig struct {
	// Required
	Years  float64
	Output string

	// Optional
	CheckpointInterval     float64
	Sigma                  float64
	AirMaterial            []int
	SedimentMaterial       []int
	DisableMaterialChanges bool
	OutsidePolicy          string
	LogFile                string
}

func (con *LinkageConfig) ValidYears() bool {
	return con.Years > 0
}
func (con *LinkageConfig) ValidOutput() bool {
	return con.Output != ""
}
func (con *LinkageConfig) ValidCheckpointInterval() bool {
	return con.CheckpointInterval > 0
}
func (con *LinkageConfig) ValidSigma() bool {
	return con.Sigma >= 0
}
func (con *LinkageConfig) ValidOutsidePolicy() bool {
	switch strings.ToLower(con.OutsidePolicy) {
	case "", "keep", "clamp":
		return true
	}
	return false
}
func (con *LinkageConfig) ValidLogFile() bool {
	return con.LogFile != ""
}

type SnapshotsConfig struct {
	Driver, Dir              string
	Bucket, Region, Endpoint string
	PathStyle                bool
}

func (con *SnapshotsConfig) ValidDriver() bool {
	switch con.Driver {
	case "memory":
		return true
	case "fs":
		return con.Dir != ""
	case "s3":
		return con.Bucket != ""
	}
	return false
}

type LedgerConfig struct {
	Driver, DSN string
}

func (con *LedgerConfig) ValidDriver() bool {
	switch con.Driver {
	case "none":
		return true
	case "sqlite", "pgx":
		return con.DSN != ""
	}
	return false
}
func (con *LedgerConfig) Enabled() bool {
	return con.Driver != "none"
}

type ServeConfig struct {
	MetricsAddr, MonitorAddr string
}

type ToyConfig struct {
	MinX, MaxX, MinY, MaxY, MinZ, MaxZ float64
	ResX, ResY, ResZ                   int
	SurfaceResX, SurfaceResY           int

	Elevation float64
	DEM       string

	Partitions                      int
	VelocityX, VelocityY, VelocityZ float64
	Uplift, UpliftWidth             float64
	Diffusivity                     float64
	Afactor                         float64
	MaxDt                           float64
}

func (con *ToyConfig) ValidBounds() bool {
	return con.MinX < con.MaxX && con.MinY < con.MaxY && con.MinZ < con.MaxZ
}
func (con *ToyConfig) ValidResolution() bool {
	return con.ResX > 0 && con.ResY > 0 && con.ResZ > 0
}
func (con *ToyConfig) ValidSurfaceResolution() bool {
	return con.SurfaceResX > 1 && con.SurfaceResY > 1
}
func (con *ToyConfig) ValidDEM() bool {
	return con.DEM != ""
}
func (con *ToyConfig) ValidPartitions() bool {
	return con.Partitions > 0 && con.Partitions <= con.ResX+1
}
func (con *ToyConfig) ValidDiffusivity() bool {
	return con.Diffusivity >= 0
}
func (con *ToyConfig) ValidMaxDt() bool {
	return con.MaxDt > 0
}
func (con *ToyConfig) ValidUpliftWidth() bool {
	return con.Uplift == 0 || con.UpliftWidth > 0
}

type RunWrapper struct {
	Linkage   LinkageConfig
	Snapshots SnapshotsConfig
	Ledger    LedgerConfig
	Serve     ServeConfig
	Toy       ToyConfig
}

func DefaultRunWrapper() *RunWrapper {
	w := &RunWrapper{}
	w.Linkage.CheckpointInterval = 10000
	w.Linkage.OutsidePolicy = "keep"
	w.Snapshots.Driver = "memory"
	w.Snapshots.Region = "us-east-1"
	w.Ledger.Driver = "none"

	w.Toy.Partitions = 1
	w.Toy.Diffusivity = 1
	w.Toy.Afactor = 1
	w.Toy.MaxDt = 1000
	return w
}

// CheckInit validates every section and fills in the material defaults. All
// problems are reported together.
func (w *RunWrapper) CheckInit() error {
	var err error
	con := &w.Linkage

	if !con.ValidYears() {
		err = multierr.Append(err, fmt.Errorf(
			"Years must be positive, but is %g.", con.Years,
		))
	}
	if !con.ValidOutput() {
		err = multierr.Append(err, fmt.Errorf("Need to specify an Output directory."))
	}
	if !con.ValidCheckpointInterval() {
		err = multierr.Append(err, fmt.Errorf(
			"CheckpointInterval must be positive, but is %g.",
			con.CheckpointInterval,
		))
	}
	if !con.ValidSigma() {
		err = multierr.Append(err, fmt.Errorf(
			"Sigma must be non-negative, but is %g.", con.Sigma,
		))
	}
	if !con.ValidOutsidePolicy() {
		err = multierr.Append(err, fmt.Errorf(
			"OutsidePolicy must be one of [ keep | clamp ], but is '%s'.",
			con.OutsidePolicy,
		))
	}

	// gcfg appends to multi-valued variables, so defaults are only applied
	// after parsing.
	if len(con.AirMaterial) == 0 {
		con.AirMaterial = []int{0}
	}
	if len(con.SedimentMaterial) == 0 {
		con.SedimentMaterial = []int{1}
	}
	for _, a := range con.AirMaterial {
		for _, s := range con.SedimentMaterial {
			if a == s {
				err = multierr.Append(err, fmt.Errorf(
					"Material %d is listed as both AirMaterial and "+
						"SedimentMaterial.", a,
				))
			}
		}
	}

	if !w.Snapshots.ValidDriver() {
		err = multierr.Append(err, fmt.Errorf(
			"Snapshots Driver '%s' is not one of [ memory | fs | s3 ] or is "+
				"missing its Dir/Bucket.", w.Snapshots.Driver,
		))
	}
	if !w.Ledger.ValidDriver() {
		err = multierr.Append(err, fmt.Errorf(
			"Ledger Driver '%s' is not one of [ none | sqlite | pgx ] or is "+
				"missing its DSN.", w.Ledger.Driver,
		))
	}

	toy := &w.Toy
	if !toy.ValidBounds() {
		err = multierr.Append(err, fmt.Errorf(
			"Toy bounds [%g, %g] x [%g, %g] x [%g, %g] are empty.",
			toy.MinX, toy.MaxX, toy.MinY, toy.MaxY, toy.MinZ, toy.MaxZ,
		))
	}
	if !toy.ValidResolution() {
		err = multierr.Append(err, fmt.Errorf(
			"Toy resolution (%d, %d, %d) must be positive on every axis.",
			toy.ResX, toy.ResY, toy.ResZ,
		))
	}
	if !toy.ValidDEM() && !toy.ValidSurfaceResolution() {
		err = multierr.Append(err, fmt.Errorf(
			"Toy surface resolution (%d, %d) needs at least two nodes on "+
				"each axis.", toy.SurfaceResX, toy.SurfaceResY,
		))
	}
	if !toy.ValidPartitions() {
		err = multierr.Append(err, fmt.Errorf(
			"Toy Partitions must be in range [1, %d], but is %d.",
			toy.ResX+1, toy.Partitions,
		))
	}
	if !toy.ValidDiffusivity() {
		err = multierr.Append(err, fmt.Errorf(
			"Toy Diffusivity must be non-negative, but is %g.", toy.Diffusivity,
		))
	}
	if !toy.ValidMaxDt() {
		err = multierr.Append(err, fmt.Errorf(
			"Toy MaxDt must be positive, but is %g.", toy.MaxDt,
		))
	}
	if !toy.ValidUpliftWidth() {
		err = multierr.Append(err, fmt.Errorf(
			"Toy UpliftWidth must be positive when Uplift is set, but is %g.",
			toy.UpliftWidth,
		))
	}

	return err
}

// ReadRunConfig reads and validates the run configuration in fname.
func ReadRunConfig(fname string) (*RunWrapper, error) {
	w := DefaultRunWrapper()
	if err := gcfg.ReadFileInto(w, fname); err != nil {
		return nil, err
	}
	if err := w.CheckInit(); err != nil {
		return nil, err
	}
	return w, nil
}

// ParseRunConfig is ReadRunConfig for configuration text already in memory.
func ParseRunConfig(text string) (*RunWrapper, error) {
	w := DefaultRunWrapper()
	if err := gcfg.ReadStringInto(w, text); err != nil {
		return nil, err
	}
	if err := w.CheckInit(); err != nil {
		return nil, err
	}
	return w, nil
}
