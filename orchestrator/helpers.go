package orchestrator

import (
	"sort"

	"github.com/maastricht-university/edmo-mood/emotion"
)

// Summarize counts labels and averages confidence per label. The dominant
// label is the most frequent one; ties go to the higher mean confidence,
// then to taxonomy order.
func Summarize(preds []emotion.Prediction) Summary {
	s := Summary{
		Count:          len(preds),
		Counts:         map[emotion.Label]int{},
		MeanConfidence: map[emotion.Label]float64{},
	}
	if len(preds) == 0 {
		return s
	}
	s.From = preds[0].Timestamp
	s.To = preds[len(preds)-1].Timestamp

	fallback := 0
	for _, p := range preds {
		s.Counts[p.Emotion]++
		s.MeanConfidence[p.Emotion] += p.Confidence
		if p.Source == emotion.SourceFallback {
			fallback++
		}
	}
	for l := range s.MeanConfidence {
		s.MeanConfidence[l] /= float64(s.Counts[l])
	}
	s.FallbackShare = float64(fallback) / float64(len(preds))

	labels := make([]emotion.Label, 0, len(s.Counts))
	for _, l := range emotion.Labels {
		if s.Counts[l] > 0 {
			labels = append(labels, l)
		}
	}
	sort.SliceStable(labels, func(i, j int) bool {
		a, b := labels[i], labels[j]
		if s.Counts[a] != s.Counts[b] {
			return s.Counts[a] > s.Counts[b]
		}
		return s.MeanConfidence[a] > s.MeanConfidence[b]
	})
	if len(labels) > 0 {
		s.Dominant = labels[0]
	}
	return s
}

// Since keeps the predictions at or after ts (unix ms). preds must be in
// timestamp order, which History guarantees.
func Since(preds []emotion.Prediction, ts int64) []emotion.Prediction {
	i := sort.Search(len(preds), func(i int) bool { return preds[i].Timestamp >= ts })
	return preds[i:]
}
