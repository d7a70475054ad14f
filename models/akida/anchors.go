package akida

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/models/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileAnchorProvider reads the anchor table from a JSON file, either as [[w, h], ...] or as
// [{"width": w, "height": h}, ...].
type FileAnchorProvider struct {
	Path string
}

// Anchors implements model.AnchorProvider.
func (p FileAnchorProvider) Anchors() ([]model.Anchor, error) {
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, errors.Wrap(err, "read anchors")
	}
	return ParseAnchors(raw)
}

// ParseAnchors decodes an anchor table.
func ParseAnchors(raw []byte) ([]model.Anchor, error) {
	var pairs [][2]float32
	if err := json.Unmarshal(raw, &pairs); err == nil {
		anchors := make([]model.Anchor, len(pairs))
		for i, p := range pairs {
			anchors[i] = model.Anchor{Width: p[0], Height: p[1]}
		}
		return validate(anchors)
	}

	var anchors []model.Anchor
	if err := json.Unmarshal(raw, &anchors); err != nil {
		return nil, errors.Wrap(err, "parse anchors")
	}
	return validate(anchors)
}

func validate(anchors []model.Anchor) ([]model.Anchor, error) {
	if len(anchors) == 0 {
		return nil, errors.New("anchor table is empty")
	}
	for i, a := range anchors {
		if a.Width <= 0 || a.Height <= 0 {
			return nil, errors.Errorf("anchor %d has non-positive size %vx%v", i, a.Width, a.Height)
		}
	}
	return anchors, nil
}

// StaticAnchors is an in-memory anchor table.
type StaticAnchors []model.Anchor

// Anchors implements model.AnchorProvider.
func (s StaticAnchors) Anchors() ([]model.Anchor, error) {
	return validate(s)
}
