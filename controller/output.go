package controller

import (
	"fmt"
	"io"
	"math"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// VectorDigits is the number of decimals vector outputs are rounded to.
const VectorDigits = 5

// Output returns the payload written for the run: detection records unchanged, vector outputs
// rounded to VectorDigits decimals.
func (r *Result) Output() any {
	if r.Vectors != nil {
		return RoundVectors(r.Vectors, VectorDigits)
	}
	if r.Records == nil {
		return []EvaluationRecord{}
	}
	return r.Records
}

// RoundVectors rounds every value to the given number of decimals.
func RoundVectors(vectors [][]float32, digits int) [][]float64 {
	scale := math.Pow(10, float64(digits))
	out := make([][]float64, len(vectors))
	for i, row := range vectors {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = math.Round(float64(v)*scale) / scale
		}
	}
	return out
}

// WriteOutput serializes the payload as compact JSON.
//
// With an output file the JSON is the whole file. Otherwise it is printed to w on its own line
// between "Begin output" and "End output" marker lines.
//
// Arguments:
//   - w: The stream used when outputFile is empty.
//   - outputFile: The destination file, or empty.
//   - payload: The value to encode.
//
// Returns:
//   - error: When encoding or writing fails.
func WriteOutput(w io.Writer, outputFile string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode output")
	}
	if outputFile != "" {
		return errors.Wrapf(os.WriteFile(outputFile, data, 0o644), "write %s", outputFile)
	}
	if _, err := fmt.Fprintf(w, "Begin output\n%s\nEnd output\n", data); err != nil {
		return errors.Wrap(err, "write output")
	}
	return nil
}
