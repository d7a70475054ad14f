package dataset

import (
	"github.com/pkg/errors"
)

// Labels is an ordered list of class names; the position is the 0-indexed class.
type Labels struct {
	names     []string
	nameToIdx map[string]int
}

// NewLabels builds the label set and its name index.
func NewLabels(names ...string) *Labels {
	l := &Labels{names: names, nameToIdx: make(map[string]int, len(names))}
	for i, n := range names {
		if _, ok := l.nameToIdx[n]; !ok {
			l.nameToIdx[n] = i
		}
	}
	return l
}

// Names returns the class names.
func (l *Labels) Names() []string {
	return l.names
}

// Len returns the number of classes.
func (l *Labels) Len() int {
	return len(l.names)
}

// Name returns the class name for a 0-indexed class.
func (l *Labels) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(l.names) {
		return "", errors.Errorf("index %d out of range for %d labels", idx, len(l.names))
	}
	return l.names[idx], nil
}

// Index returns the 0-indexed class of a name.
func (l *Labels) Index(name string) (int, bool) {
	idx, ok := l.nameToIdx[name]
	return idx, ok
}

// MapTestLabelToTrain converts a label index of the testing label set into the training label
// set.
//
// Arguments:
//   - testIdx: The label in the testing set.
//   - train: The training label set.
//   - test: The testing label set.
//   - zeroIndex: Whether labels are 0-indexed; otherwise they are 1-indexed on both sides.
//
// Returns:
//   - int: The label in the training set, or -1 when the class was not trained.
//   - error: When testIdx is outside the testing set.
func MapTestLabelToTrain(testIdx int, train, test *Labels, zeroIndex bool) (int, error) {
	adjust := 1
	if zeroIndex {
		adjust = 0
	}
	name, err := test.Name(testIdx - adjust)
	if err != nil {
		return 0, errors.Wrap(err, "testing label")
	}
	idx, ok := train.Index(name)
	if !ok {
		return -1, nil
	}
	return idx + adjust, nil
}

// RemapSamples converts the 1-indexed box labels of samples from the testing label set to the
// training label set. Boxes of classes the model was not trained on are dropped. The input is
// left untouched.
//
// Arguments:
//   - samples: The samples to convert.
//   - train: The training label set.
//   - test: The testing label set.
//   - remapClass: Whether the 1-indexed sample class label is converted as well.
//
// Returns:
//   - []Sample: The converted copies.
//   - error: When a label is outside the testing set.
func RemapSamples(samples []Sample, train, test *Labels, remapClass bool) ([]Sample, error) {
	out := make([]Sample, len(samples))
	for i, s := range samples {
		out[i] = s
		if s.GroundTruth != nil {
			boxes := make([]GroundTruthBox, 0, len(s.GroundTruth))
			for _, b := range s.GroundTruth {
				label, err := MapTestLabelToTrain(b.Label, train, test, false)
				if err != nil {
					return nil, errors.Wrapf(err, "sample %s", s.SampleID)
				}
				if label < 0 {
					continue
				}
				b.Label = label
				boxes = append(boxes, b)
			}
			out[i].GroundTruth = boxes
		}
		if remapClass && s.Label > 0 {
			label, err := MapTestLabelToTrain(s.Label, train, test, false)
			if err != nil {
				return nil, errors.Wrapf(err, "sample %s", s.SampleID)
			}
			out[i].Label = label
		}
	}
	return out, nil
}
