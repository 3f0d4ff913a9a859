package handlers

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/localcdp/browserd/internal/rpcerr"
)

// Rating grades a Core Web Vital against its fixed thresholds.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Vital is one computed metric with its grade.
type Vital struct {
	Metric string   `json:"metric"`
	Value  *float64 `json:"value"`
	Grade  Rating   `json:"grade"`
}

// AnalyzeParams point at a streamed trace file.
type AnalyzeParams struct {
	Path string `json:"path"`
}

// AnalyzeResult carries the Core Web Vitals for the traced load.
type AnalyzeResult struct {
	Path   string  `json:"path"`
	Vitals []Vital `json:"vitals"`
}

// traceEvent is the subset of a Chrome trace event the analyzer reads.
type traceEvent struct {
	Name      string          `json:"name"`
	Timestamp float64         `json:"ts"`
	Args      json.RawMessage `json:"args"`
}

// Analyze parses a newline-delimited trace and computes LCP, CLS, and
// TTFB with the standard Good / Needs-Improvement / Poor thresholds
// (2.5s / 0.1 / 800ms for Good).
func (h *H) Analyze(p AnalyzeParams) (*AnalyzeResult, error) {
	if p.Path == "" {
		return nil, rpcerr.New(rpcerr.InvalidParams, "path is required")
	}
	events, err := parseTraceFile(p.Path)
	if err != nil {
		return nil, err
	}
	return &AnalyzeResult{Path: p.Path, Vitals: ComputeVitals(events)}, nil
}

func parseTraceFile(path string) ([]traceEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.StorageUnavailable, err, "opening trace %s", path)
	}
	defer f.Close()

	var events []traceEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev traceEvent
		if json.Unmarshal(line, &ev) == nil {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, rpcerr.Wrap(rpcerr.Internal, err, "reading trace %s", path)
	}
	return events, nil
}

// ComputeVitals derives LCP, CLS, and TTFB from raw trace events.
func ComputeVitals(events []traceEvent) []Vital {
	navStart := findNavigationStart(events)
	lcp := computeLCP(events, navStart)
	cls := computeCLS(events)
	ttfb := computeTTFB(events)
	return []Vital{
		{Metric: "LCP", Value: lcp, Grade: gradeByThresholds(lcp, 2500, 4000)},
		{Metric: "CLS", Value: cls, Grade: gradeByThresholds(cls, 0.1, 0.25)},
		{Metric: "TTFB", Value: ttfb, Grade: gradeByThresholds(ttfb, 800, 1800)},
	}
}

func findNavigationStart(events []traceEvent) float64 {
	for _, e := range events {
		if e.Name == "navigationStart" {
			return e.Timestamp
		}
	}
	min := 0.0
	for _, e := range events {
		if e.Timestamp > 0 && (min == 0 || e.Timestamp < min) {
			min = e.Timestamp
		}
	}
	return min
}

// computeLCP reports the timestamp of the last LCP candidate relative to
// navigation start, in milliseconds.
func computeLCP(events []traceEvent, navStart float64) *float64 {
	var last *traceEvent
	for i := range events {
		if events[i].Name == "largestContentfulPaint::Candidate" {
			last = &events[i]
		}
	}
	if last == nil {
		return nil
	}
	v := (last.Timestamp - navStart) / 1000.0
	return &v
}

// computeCLS sums LayoutShift scores across the trace.
func computeCLS(events []traceEvent) *float64 {
	sum := 0.0
	found := false
	for _, e := range events {
		if e.Name != "LayoutShift" {
			continue
		}
		var args struct {
			Data struct {
				Score float64 `json:"score"`
			} `json:"data"`
		}
		if json.Unmarshal(e.Args, &args) == nil {
			sum += args.Data.Score
			found = true
		}
	}
	if !found {
		return nil
	}
	return &sum
}

// computeTTFB is the gap between the first ResourceSendRequest and the
// first ResourceReceiveResponse in the trace, in milliseconds. The two
// events are not matched by request id.
func computeTTFB(events []traceEvent) *float64 {
	var sendTs, recvTs float64
	for _, e := range events {
		if e.Name == "ResourceSendRequest" && sendTs == 0 {
			sendTs = e.Timestamp
		}
		if e.Name == "ResourceReceiveResponse" && recvTs == 0 {
			recvTs = e.Timestamp
		}
	}
	if sendTs == 0 || recvTs == 0 {
		return nil
	}
	v := (recvTs - sendTs) / 1000.0
	return &v
}

// gradeByThresholds rates value against the metric's Good and
// Needs-Improvement cutoffs. A metric absent from the trace grades good:
// nothing shifted, nothing painted late.
func gradeByThresholds(value *float64, good, needsImprovement float64) Rating {
	if value == nil {
		return RatingGood
	}
	switch {
	case *value < good:
		return RatingGood
	case *value < needsImprovement:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}
