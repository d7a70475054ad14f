package controller

import (
	"github.com/nvr-ai/go-ml-eval/metrics"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// EvaluationRecord is the per-sample payload of an object detection run.
type EvaluationRecord struct {
	SampleID string `json:"sampleId"`
	// Boxes are [ymin, xmin, ymax, xmax] in normalized coordinates.
	Boxes  [][4]float32 `json:"boxes"`
	Labels []int        `json:"labels"`
	Scores []float32    `json:"scores"`
	// MAP is the sample mAP, or the F1 score for centroid-matched heads.
	MAP float64 `json:"mAP"`
	*CentroidScores
}

// CentroidScores are the extra fields of a centroid-matched record.
type CentroidScores struct {
	F1            float64                      `json:"f1"`
	Precision     float64                      `json:"precision"`
	Recall        float64                      `json:"recall"`
	PerClass      map[int]metrics.ClassMetrics `json:"per_class,omitempty"`
	DebugInfoJSON string                       `json:"debugInfoJson"`
	YTrueLabels   []int                        `json:"y_true_labels"`
	YPredLabels   []int                        `json:"y_pred_labels"`
}

func newRecord(sampleID string, dets []postprocess.Detection) EvaluationRecord {
	r := EvaluationRecord{
		SampleID: sampleID,
		Boxes:    make([][4]float32, len(dets)),
		Labels:   make([]int, len(dets)),
		Scores:   make([]float32, len(dets)),
	}
	for i, d := range dets {
		r.Boxes[i] = d.Box.Array()
		r.Labels[i] = d.Label
		r.Scores[i] = d.Score
	}
	return r
}

func newCentroidScores(res metrics.CentroidResult) (*CentroidScores, error) {
	debug, err := res.Debug.JSON()
	if err != nil {
		return nil, err
	}
	s := &CentroidScores{
		F1:            res.F1,
		Precision:     res.Precision,
		Recall:        res.Recall,
		PerClass:      res.PerClass,
		DebugInfoJSON: debug,
		YTrueLabels:   res.YTrueLabels,
		YPredLabels:   res.YPredLabels,
	}
	if s.YTrueLabels == nil {
		s.YTrueLabels = []int{}
	}
	if s.YPredLabels == nil {
		s.YPredLabels = []int{}
	}
	return s, nil
}
