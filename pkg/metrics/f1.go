// Package metrics scores predictions of the emotion classifier.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// FilterSentinel drops every position whose true label equals sentinel.
func FilterSentinel(labels, preds []int, sentinel int) ([]int, []int, error) {
	if len(labels) != len(preds) {
		return nil, nil, fmt.Errorf("got %d labels and %d predictions", len(labels), len(preds))
	}
	keptLabels := make([]int, 0, len(labels))
	keptPreds := make([]int, 0, len(preds))
	for i, l := range labels {
		if l == sentinel {
			continue
		}
		keptLabels = append(keptLabels, l)
		keptPreds = append(keptPreds, preds[i])
	}
	return keptLabels, keptPreds, nil
}

// ClassScore holds the per-class scores of a Report.
type ClassScore struct {
	Label     int
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is a classification report over the labels seen in either the
// truth or the predictions.
type Report struct {
	Classes  []ClassScore
	Accuracy float64
	// WeightedF1 averages the per-class F1 weighted by support.
	WeightedF1 float64
	Total      int
}

// Evaluate builds the report. Precision or recall with an empty denominator
// counts as 0.
func Evaluate(labels, preds []int) (*Report, error) {
	if len(labels) != len(preds) {
		return nil, fmt.Errorf("got %d labels and %d predictions", len(labels), len(preds))
	}
	r := &Report{Total: len(labels)}
	if len(labels) == 0 {
		return r, nil
	}

	tp := map[int]int{}
	support := map[int]int{}
	predicted := map[int]int{}
	correct := 0
	for i, l := range labels {
		support[l]++
		predicted[preds[i]]++
		if preds[i] == l {
			tp[l]++
			correct++
		}
	}
	seen := map[int]bool{}
	for l := range support {
		seen[l] = true
	}
	for p := range predicted {
		seen[p] = true
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	for _, c := range classes {
		s := ClassScore{Label: c, Support: support[c]}
		if predicted[c] > 0 {
			s.Precision = float64(tp[c]) / float64(predicted[c])
		}
		if support[c] > 0 {
			s.Recall = float64(tp[c]) / float64(support[c])
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.WeightedF1 += s.F1 * float64(s.Support)
		r.Classes = append(r.Classes, s)
	}
	r.WeightedF1 /= float64(len(labels))
	r.Accuracy = float64(correct) / float64(len(labels))
	return r, nil
}

// Score builds the report over the non-sentinel positions.
func Score(labels, preds []int, sentinel int) (*Report, error) {
	l, p, err := FilterSentinel(labels, preds, sentinel)
	if err != nil {
		return nil, err
	}
	return Evaluate(l, p)
}

// WeightedF1 returns the support-weighted F1 over the non-sentinel positions.
func WeightedF1(labels, preds []int, sentinel int) (float64, error) {
	r, err := Score(labels, preds, sentinel)
	if err != nil {
		return 0, err
	}
	return r.WeightedF1, nil
}

// Render writes the report as a table, with one row per class.
func (r *Report) Render(w io.Writer, names []string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Class", "Precision", "Recall", "F1", "Support"})
	for _, c := range r.Classes {
		name := strconv.Itoa(c.Label)
		if c.Label >= 0 && c.Label < len(names) {
			name = names[c.Label]
		}
		table.Append([]string{name, f4(c.Precision), f4(c.Recall), f4(c.F1), strconv.Itoa(c.Support)})
	}
	table.SetFooter([]string{"weighted", "", "acc " + f4(r.Accuracy), f4(r.WeightedF1), strconv.Itoa(r.Total)})
	table.Render()
}

func f4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
