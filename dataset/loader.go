package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/images"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SampleFilePrefix is the file name prefix of per-sample files in a sample directory.
const SampleFilePrefix = "sample-"

// ErrLengthMismatch is returned when features and labels do not describe the same samples.
var ErrLengthMismatch = errors.New("dataset: features and labels differ in length")

// readJSON decodes the JSON file at path into v.
func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

// LoadFeatures reads a JSON array of feature vectors.
func LoadFeatures(path string) ([][]float32, error) {
	var features [][]float32
	if err := readJSON(path, &features); err != nil {
		return nil, err
	}
	return features, nil
}

// LoadGroundTruth reads a JSON array of structured labels.
func LoadGroundTruth(path string) ([]GroundTruth, error) {
	var truth []GroundTruth
	if err := readJSON(path, &truth); err != nil {
		return nil, err
	}
	return truth, nil
}

// Join pairs feature vectors with their ground truth.
//
// Arguments:
//   - features: One feature vector per sample.
//   - truth: One ground truth record per sample, or nil for unlabelled data.
//
// Returns:
//   - []Sample: The joined samples in input order.
//   - error: ErrLengthMismatch when both are given and their lengths differ.
func Join(features [][]float32, truth []GroundTruth) ([]Sample, error) {
	if truth != nil && len(truth) != len(features) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d feature vectors, %d labels", len(features), len(truth))
	}
	samples := make([]Sample, len(features))
	for i, f := range features {
		samples[i].Features = f
		if truth != nil {
			samples[i].SampleID = truth[i].SampleID
			samples[i].GroundTruth = truth[i].BoundingBoxes
			samples[i].Label = truth[i].Label
			samples[i].Value = truth[i].Value
		} else {
			samples[i].SampleID = strconv.Itoa(i)
		}
	}
	return samples, nil
}

// LoadSamples reads features and, when labelsPath is not empty, structured labels.
func LoadSamples(featuresPath, labelsPath string) ([]Sample, error) {
	features, err := LoadFeatures(featuresPath)
	if err != nil {
		return nil, err
	}
	var truth []GroundTruth
	if labelsPath != "" {
		if truth, err = LoadGroundTruth(labelsPath); err != nil {
			return nil, err
		}
	}
	return Join(features, truth)
}

// LoadSampleDirectory reads all sample files from a directory.
//
// Files are named sample-<n>.json and each holds one Sample. Other files are ignored.
//
// Arguments:
//   - dir: Directory path containing sample files.
//
// Returns:
//   - []Sample: The samples ordered by n.
//   - error: Error if loading fails.
func LoadSampleDirectory(dir string) ([]Sample, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		n      int
		sample Sample
	}
	var found []indexed
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" || !strings.HasPrefix(file.Name(), SampleFilePrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file.Name(), SampleFilePrefix), ".json"))
		if err != nil {
			return nil, errors.Wrapf(err, "sample file %s", file.Name())
		}
		var s Sample
		if err := readJSON(filepath.Join(dir, file.Name()), &s); err != nil {
			return nil, err
		}
		found = append(found, indexed{n: n, sample: s})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].n < found[j].n
	})

	samples := make([]Sample, len(found))
	for i, f := range found {
		samples[i] = f.sample
	}
	return samples, nil
}

// LoadPredictions reads precomputed detections: per sample, a list of
// [[ymin, xmin, ymax, xmax], label, score] triples.
func LoadPredictions(path string) ([][]postprocess.Detection, error) {
	var raw [][][3]jsoniter.RawMessage
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}

	predictions := make([][]postprocess.Detection, len(raw))
	for i, sample := range raw {
		predictions[i] = make([]postprocess.Detection, 0, len(sample))
		for j, triple := range sample {
			var (
				box   [4]float32
				label float32
				score float32
			)
			if err := json.Unmarshal(triple[0], &box); err != nil {
				return nil, errors.Wrapf(err, "sample %d detection %d box", i, j)
			}
			if err := json.Unmarshal(triple[1], &label); err != nil {
				return nil, errors.Wrapf(err, "sample %d detection %d label", i, j)
			}
			if err := json.Unmarshal(triple[2], &score); err != nil {
				return nil, errors.Wrapf(err, "sample %d detection %d score", i, j)
			}
			predictions[i] = append(predictions[i], postprocess.Detection{
				Box:   images.ToCornerForm(box, images.FormatCornerYXYX),
				Label: int(label),
				Score: score,
			})
		}
	}
	return predictions, nil
}
