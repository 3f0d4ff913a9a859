package handlers

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/config"
)

func writeTrace(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func vitalByMetric(vitals []Vital, metric string) Vital {
	for _, v := range vitals {
		if v.Metric == metric {
			return v
		}
	}
	return Vital{}
}

func TestAnalyzeComputesVitals(t *testing.T) {
	h := New(config.Default())
	// Timestamps are microseconds; navigationStart at 1_000_000.
	path := writeTrace(t,
		`{"name":"navigationStart","ts":1000000}`,
		`{"name":"ResourceSendRequest","ts":1000000}`,
		`{"name":"ResourceReceiveResponse","ts":1400000}`,
		`{"name":"largestContentfulPaint::Candidate","ts":2200000,"args":{"data":{"size":5000}}}`,
		`{"name":"LayoutShift","ts":2300000,"args":{"data":{"score":0.04}}}`,
		`{"name":"LayoutShift","ts":2400000,"args":{"data":{"score":0.03}}}`,
	)

	res, err := h.Analyze(AnalyzeParams{Path: path})
	require.NoError(t, err)
	require.Len(t, res.Vitals, 3)

	lcp := vitalByMetric(res.Vitals, "LCP")
	require.NotNil(t, lcp.Value)
	require.InDelta(t, 1200.0, *lcp.Value, 0.001)
	require.Equal(t, RatingGood, lcp.Grade)

	cls := vitalByMetric(res.Vitals, "CLS")
	require.NotNil(t, cls.Value)
	require.InDelta(t, 0.07, *cls.Value, 1e-9)
	require.Equal(t, RatingGood, cls.Grade)

	ttfb := vitalByMetric(res.Vitals, "TTFB")
	require.NotNil(t, ttfb.Value)
	require.InDelta(t, 400.0, *ttfb.Value, 0.001)
	require.Equal(t, RatingGood, ttfb.Grade)
}

func TestAnalyzeGradesThresholds(t *testing.T) {
	cases := []struct {
		metric string
		value  float64
		grade  Rating
	}{
		{"LCP", 2499, RatingGood},
		{"LCP", 2500, RatingNeedsImprovement},
		{"LCP", 4000, RatingPoor},
		{"CLS", 0.09, RatingGood},
		{"CLS", 0.1, RatingNeedsImprovement},
		{"CLS", 0.25, RatingPoor},
		{"TTFB", 799, RatingGood},
		{"TTFB", 800, RatingNeedsImprovement},
		{"TTFB", 1800, RatingPoor},
	}
	thresholds := map[string][2]float64{
		"LCP":  {2500, 4000},
		"CLS":  {0.1, 0.25},
		"TTFB": {800, 1800},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%s_%g", c.metric, c.value), func(t *testing.T) {
			v := c.value
			th := thresholds[c.metric]
			require.Equal(t, c.grade, gradeByThresholds(&v, th[0], th[1]))
		})
	}
}

func TestAnalyzeMissingMetricsGradeGood(t *testing.T) {
	h := New(config.Default())
	path := writeTrace(t, `{"name":"navigationStart","ts":1000000}`)

	res, err := h.Analyze(AnalyzeParams{Path: path})
	require.NoError(t, err)
	for _, v := range res.Vitals {
		require.Nil(t, v.Value, v.Metric)
		require.Equal(t, RatingGood, v.Grade, v.Metric)
	}
}

func TestAnalyzeSkipsMalformedLines(t *testing.T) {
	h := New(config.Default())
	path := writeTrace(t,
		`{"name":"navigationStart","ts":1000000}`,
		`not json at all`,
		`{"name":"largestContentfulPaint::Candidate","ts":4000000}`,
	)
	res, err := h.Analyze(AnalyzeParams{Path: path})
	require.NoError(t, err)
	lcp := vitalByMetric(res.Vitals, "LCP")
	require.NotNil(t, lcp.Value)
	require.Equal(t, RatingNeedsImprovement, lcp.Grade)
}

func TestAnalyzeMissingFile(t *testing.T) {
	h := New(config.Default())
	_, err := h.Analyze(AnalyzeParams{Path: filepath.Join(t.TempDir(), "nope.ndjson")})
	require.Error(t, err)
}
