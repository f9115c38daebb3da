// Package prof turns the scheduler's per-thread accounting data into
// a pprof profile, so a dump of where CPU time went across every
// thread in the system can be opened with the standard pprof tooling
// instead of hand-parsed.
package prof

import "io"
import "time"

import "github.com/google/pprof/profile"

// / Sample_t is one thread's accumulated usage at the time of the
// / snapshot, the same shape accnt.Accnt_t already tracks.
type Sample_t struct {
	Pid    int
	Tid    int
	Name   string
	Userns int64
	Sysns  int64
}

// / Build assembles samples into a pprof CPU profile with two value
// / types (user, sys), one sample per thread, labeled by pid/tid/name
// / so pprof's own grouping/filtering can slice by any of them.
func Build(samples []Sample_t) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		TimeNanos: time.Now().UnixNano(),
	}
	fn := &profile.Function{ID: 1, Name: "thread"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p.Function = []*profile.Function{fn}
	p.Location = []*profile.Location{loc}

	for _, s := range samples {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{s.Userns, s.Sysns},
			Label: map[string][]string{
				"name": {s.Name},
			},
			NumLabel: map[string][]int64{
				"pid": {int64(s.Pid)},
				"tid": {int64(s.Tid)},
			},
			NumUnit: map[string][]string{
				"pid": {""},
				"tid": {""},
			},
		})
	}
	return p
}

// / Write renders samples as a gzip-compressed pprof profile, per the
// / format pprof(1) and the various flame-graph tools read directly.
func Write(w io.Writer, samples []Sample_t) error {
	return Build(samples).Write(w)
}
