// Package model - The decoder contract and the closed set of supported last layers.
package model

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/inference"
	"github.com/nvr-ai/go-ml-eval/models/postprocess"
)

// Configuration errors. These are constant for a run, so the first sample that hits one aborts
// the whole batch.
var (
	ErrUnsupportedLastLayer     = errors.New("unsupported last layer")
	ErrMissingGroundTruth       = errors.New("ground truth must be provided for object detection")
	ErrMissingMinimumConfidence = errors.New("minimum confidence rating must be provided for object detection")
	ErrMissingNumClasses        = errors.New("number of classes must be provided for object detection")
	ErrNonSquareInput           = errors.New("only square input is supported")
	ErrMissingCollaborator      = errors.New("external decoder collaborator is not configured")
)

// LastLayer is the tag identifying how a model's final layer encodes its detections.
type LastLayer string

const (
	// LastLayerMobileNetSSD is a TensorFlow SSD head with scores, labels and boxes outputs.
	LastLayerMobileNetSSD LastLayer = "mobilenet-ssd"
	// LastLayerYOLOv5 is a YOLOv5 v6 export with normalized coordinates.
	LastLayerYOLOv5 LastLayer = "yolov5"
	// LastLayerYOLOv5v5DRPAI is a YOLOv5 v5 export with absolute pixel coordinates.
	LastLayerYOLOv5v5DRPAI LastLayer = "yolov5v5-drpai"
	// LastLayerYOLOv7 emits already suppressed absolute corner boxes.
	LastLayerYOLOv7 LastLayer = "yolov7"
	// LastLayerYOLOX is the anchor-free YOLOX head decoded over stride grids.
	LastLayerYOLOX LastLayer = "yolox"
	// LastLayerYOLOPro emits xyxy boxes followed by class scores.
	LastLayerYOLOPro LastLayer = "yolo-pro"
	// LastLayerYOLOv11 emits transposed normalized center-form boxes followed by class scores.
	LastLayerYOLOv11 LastLayer = "yolov11"
	// LastLayerYOLOv11Abs is LastLayerYOLOv11 with absolute pixel coordinates.
	LastLayerYOLOv11Abs LastLayer = "yolov11-abs"
	// LastLayerFOMO is a dense per-cell class probability map.
	LastLayerFOMO LastLayer = "fomo"
	// LastLayerTAORetinaNet is an NVIDIA TAO RetinaNet head.
	LastLayerTAORetinaNet LastLayer = "tao-retinanet"
	// LastLayerTAOSSD is an NVIDIA TAO SSD head.
	LastLayerTAOSSD LastLayer = "tao-ssd"
	// LastLayerTAOYOLOv3 is an NVIDIA TAO YOLOv3 head.
	LastLayerTAOYOLOv3 LastLayer = "tao-yolov3"
	// LastLayerTAOYOLOv4 is an NVIDIA TAO YOLOv4 head.
	LastLayerTAOYOLOv4 LastLayer = "tao-yolov4"
	// LastLayerYOLOv2Akida is a BrainChip Akida YOLOv2 head decoded with an anchor table.
	LastLayerYOLOv2Akida LastLayer = "yolov2-akida"
)

// LastLayers lists every supported tag.
var LastLayers = []LastLayer{
	LastLayerMobileNetSSD,
	LastLayerYOLOv5,
	LastLayerYOLOv5v5DRPAI,
	LastLayerYOLOv7,
	LastLayerYOLOX,
	LastLayerYOLOPro,
	LastLayerYOLOv11,
	LastLayerYOLOv11Abs,
	LastLayerFOMO,
	LastLayerTAORetinaNet,
	LastLayerTAOSSD,
	LastLayerTAOYOLOv3,
	LastLayerTAOYOLOv4,
	LastLayerYOLOv2Akida,
}

// Valid reports whether the tag is one of LastLayers.
func (l LastLayer) Valid() bool {
	for _, known := range LastLayers {
		if l == known {
			return true
		}
	}
	return false
}

// IsTAO reports whether the tag is one of the NVIDIA TAO heads.
func (l LastLayer) IsTAO() bool {
	switch l {
	case LastLayerTAORetinaNet, LastLayerTAOSSD, LastLayerTAOYOLOv3, LastLayerTAOYOLOv4:
		return true
	}
	return false
}

// UsesCentroidMatching reports whether the head is scored by centroid matching instead of mAP.
func (l LastLayer) UsesCentroidMatching() bool {
	return l == LastLayerFOMO
}

// RequiresSquareInput reports whether the decoder rejects non-square inputs.
func (l LastLayer) RequiresSquareInput() bool {
	return l == LastLayerFOMO || l == LastLayerYOLOv7
}

// DecodeArgs carries the per-run parameters every decoder may need.
type DecodeArgs struct {
	// Width of the model input in pixels.
	Width int `json:"width" yaml:"width"`
	// Height of the model input in pixels.
	Height int `json:"height" yaml:"height"`
	// MinimumConfidence is the confidence threshold. Nil selects the decoder's default.
	MinimumConfidence *float32 `json:"minimum_confidence,omitempty" yaml:"minimum_confidence"`
	// NumClasses is the number of foreground classes.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
}

// Side returns the square input side. It is the width, which the decoders use for scaling.
func (a DecodeArgs) Side() int {
	return a.Width
}

// CheckSquare returns ErrNonSquareInput when width and height differ.
func (a DecodeArgs) CheckSquare() error {
	if a.Width != a.Height {
		return errors.Wrapf(ErrNonSquareInput, "not %dx%d", a.Width, a.Height)
	}
	return nil
}

// Decoder turns one architecture's raw output tensors into canonical detections.
type Decoder interface {
	// LastLayer returns the tag the decoder handles.
	LastLayer() LastLayer
	// Decode converts dequantized outputs into detections with normalized corner-form boxes.
	Decode(outputs []inference.RawOutputTensor, args DecodeArgs) ([]postprocess.Detection, error)
}

// Anchor is one YOLOv2 prior as (width, height) in grid cells.
type Anchor struct {
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// AnchorProvider supplies the anchor table of an anchor-based head.
type AnchorProvider interface {
	Anchors() ([]Anchor, error)
}

// NewDecoderArgs is the arguments for creating a new decoder.
type NewDecoderArgs struct {
	// LastLayer selects the decoder.
	LastLayer LastLayer `json:"last_layer" yaml:"last_layer"`
	// AnchorsPath is the anchor table used by the Akida YOLOv2 decoder.
	AnchorsPath string `json:"anchors_path" yaml:"anchors_path"`
	// Anchors overrides AnchorsPath with an injected anchor table.
	Anchors AnchorProvider `json:"-" yaml:"-"`
	// Collaborator is an externally implemented decoder, used for the TAO heads.
	Collaborator Decoder `json:"-" yaml:"-"`
}
