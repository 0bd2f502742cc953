// Package proc reads resource usage of process units from /proc.
package proc

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Linux reports cpu times in clock ticks of 1/100s.
const clockTicks = 100

type Stats struct {
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	Threads    int       `json:"threads"`
	MemoryRSS  int64     `json:"memory_rss"`
	MemoryMB   int64     `json:"memory_mb"`
	CPUPercent float64   `json:"cpu_percent"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

type procStat struct {
	state     byte
	cpuTicks  uint64
	threads   int
	startTick uint64
	rssPages  int64
}

type sample struct {
	ticks uint64
	at    time.Time
}

// Sampler computes CPU usage between consecutive reads of the same pid.
type Sampler struct {
	prev     map[int]sample
	bootTime time.Time
}

func NewSampler() *Sampler {
	s := &Sampler{prev: map[int]sample{}}
	if bt, err := bootTime(); err == nil {
		s.bootTime = bt
	}
	return s
}

// Read returns the current stats of pid. CPUPercent stays zero until the
// second read of the same pid.
func (s *Sampler) Read(pid int) (*Stats, error) {
	if pid <= 0 {
		return nil, errors.New("invalid PID")
	}
	ps, err := readProcStat(pid)
	if err != nil {
		return nil, err
	}

	rss := ps.rssPages * int64(os.Getpagesize())
	st := &Stats{
		PID:       pid,
		State:     string(ps.state),
		Threads:   ps.threads,
		MemoryRSS: rss,
		MemoryMB:  rss / (1024 * 1024),
	}
	if !s.bootTime.IsZero() {
		st.StartedAt = s.bootTime.Add(time.Duration(ps.startTick) * time.Second / clockTicks)
	}

	now := time.Now()
	if prev, ok := s.prev[pid]; ok {
		if elapsed := now.Sub(prev.at).Seconds(); elapsed > 0 && ps.cpuTicks >= prev.ticks {
			st.CPUPercent = float64(ps.cpuTicks-prev.ticks) / clockTicks / elapsed * 100
		}
	}
	s.prev[pid] = sample{ticks: ps.cpuTicks, at: now}
	return st, nil
}

// ReadAll reads every pid still alive, skipping the ones that are gone.
func (s *Sampler) ReadAll(pids []int) map[int]*Stats {
	out := make(map[int]*Stats, len(pids))
	for _, pid := range pids {
		if st, err := s.Read(pid); err == nil {
			out[pid] = st
		}
	}
	return out
}

func readProcStat(pid int) (*procStat, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return nil, errors.Wrap(err, "read stat file")
	}

	// pid (comm) state ppid ... ; comm may contain spaces and parens.
	content := string(data)
	closeParen := strings.LastIndex(content, ")")
	if closeParen < 0 {
		return nil, errors.New("malformed stat file: no closing paren")
	}
	fields := strings.Fields(content[closeParen+1:])
	if len(fields) < 22 {
		return nil, errors.Errorf("malformed stat file: expected 22+ fields, got %d", len(fields))
	}

	// Indexes count from the state field.
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse utime")
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse stime")
	}
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return nil, errors.Wrap(err, "parse num_threads")
	}
	start, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse starttime")
	}
	rss, err := strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse rss")
	}

	return &procStat{
		state:     fields[0][0],
		cpuTicks:  utime + stime,
		threads:   threads,
		startTick: start,
		rssPages:  rss,
	}, nil
}

func bootTime() (time.Time, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return time.Time{}, errors.Wrap(err, "open /proc/stat")
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 2 && parts[0] == "btime" {
			secs, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return time.Time{}, errors.Wrap(err, "parse btime")
			}
			return time.Unix(secs, 0), nil
		}
	}
	return time.Time{}, errors.New("btime not found in /proc/stat")
}
