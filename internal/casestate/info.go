package casestate

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

// Info carries the metrics reported by a run. Absent values are empty
// strings.
type Info struct {
	Message          string `yaml:"message"`
	ComputeTime      string `yaml:"compute_time"`
	ComputeTimeUsage string `yaml:"compute_time_usage"`
	PreprocessTime   string `yaml:"preprocess_time"`
	ComputeMem       string `yaml:"compute_mem"`
	PreprocessMem    string `yaml:"preprocess_mem"`
	MPIRanks         string `yaml:"mpi_ranks"`
	OMPThreads       string `yaml:"omp_threads"`
	MemoryLeaks      string `yaml:"memory_leaks"`
}

// MaxMemory returns the peak memory in kB over preprocessing and
// computation, and false when neither is known.
func (i Info) MaxMemory() (float64, bool) {
	peak, ok := 0.0, false
	for _, s := range []string{i.ComputeMem, i.PreprocessMem} {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			peak = math.Max(peak, v)
			ok = true
		}
	}
	return peak, ok
}

// Leaks returns the number of memory leaks reported, 0 when unknown.
func (i Info) Leaks() int {
	n, _ := strconv.Atoi(i.MemoryLeaks)
	return n
}

type aggregate int

const (
	aggFirst aggregate = iota
	aggMax
	aggSum
)

type infoField struct {
	key string
	agg aggregate
	get func(*Info) *string
}

var infoFields = []infoField{
	{"message", aggFirst, func(i *Info) *string { return &i.Message }},
	{"compute_time", aggMax, func(i *Info) *string { return &i.ComputeTime }},
	{"compute_time_usage", aggMax, func(i *Info) *string { return &i.ComputeTimeUsage }},
	{"preprocess_time", aggMax, func(i *Info) *string { return &i.PreprocessTime }},
	{"compute_mem", aggMax, func(i *Info) *string { return &i.ComputeMem }},
	{"preprocess_mem", aggMax, func(i *Info) *string { return &i.PreprocessMem }},
	{"mpi_ranks", aggSum, func(i *Info) *string { return &i.MPIRanks }},
	{"omp_threads", aggMax, func(i *Info) *string { return &i.OMPThreads }},
	{"memory_leaks", aggSum, func(i *Info) *string { return &i.MemoryLeaks }},
}

// readSummaries merges the metrics of the summary files of every domain of
// a run: timings and memory keep the maximum, rank and leak counts add up.
func readSummaries(paths []string) Info {
	var info Info
	for _, p := range paths {
		f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true, Loose: true}, p)
		if err != nil {
			continue
		}
		values := make(map[string]string)
		for _, sec := range f.Sections() {
			for _, k := range sec.Keys() {
				if _, seen := values[k.Name()]; !seen {
					values[k.Name()] = strings.TrimSpace(k.String())
				}
			}
		}
		for _, field := range infoFields {
			v, ok := values[field.key]
			if !ok || v == "" {
				continue
			}
			merge(field.get(&info), v, field.agg)
		}
	}
	return info
}

func merge(dst *string, v string, agg aggregate) {
	if *dst == "" {
		*dst = v
		return
	}
	if agg == aggFirst {
		return
	}
	a, errA := strconv.ParseFloat(*dst, 64)
	b, errB := strconv.ParseFloat(v, 64)
	if errA != nil || errB != nil {
		return
	}
	switch agg {
	case aggMax:
		*dst = strconv.FormatFloat(math.Max(a, b), 'f', -1, 64)
	case aggSum:
		*dst = strconv.FormatFloat(a+b, 'f', -1, 64)
	}
}
