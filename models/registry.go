// Package models - registry for the last layer decoders.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/models/akida"
	"github.com/nvr-ai/go-ml-eval/models/fomo"
	"github.com/nvr-ai/go-ml-eval/models/model"
	"github.com/nvr-ai/go-ml-eval/models/ssd"
	"github.com/nvr-ai/go-ml-eval/models/tao"
	"github.com/nvr-ai/go-ml-eval/models/yolopro"
	"github.com/nvr-ai/go-ml-eval/models/yolov5"
	"github.com/nvr-ai/go-ml-eval/models/yolov7"
	"github.com/nvr-ai/go-ml-eval/models/yolox"
)

// NewDecoder creates the decoder for a last layer tag.
//
// This factory is the single place where a tag is mapped to its decoder, so the set of
// supported heads is the set of cases below. External resources (the Akida anchor table and the
// TAO box decoders) are taken from args.
//
// Arguments:
//   - args: The last layer tag and the resources its decoder needs.
//
// Returns:
//   - model.Decoder: The decoder for the tag.
//   - error: model.ErrUnsupportedLastLayer for unknown tags, model.ErrMissingCollaborator when a
//     required external resource is absent.
//
// Example:
//
// ```go
//
//	decoder, err := NewDecoder(model.NewDecoderArgs{LastLayer: model.LastLayerYOLOv5})
//	if err != nil {
//	    log.Fatalf("Failed to create decoder: %v", err)
//	}
//	detections, err := decoder.Decode(outputs, model.DecodeArgs{Width: 320, Height: 320})
//
// ```
func NewDecoder(args model.NewDecoderArgs) (model.Decoder, error) {
	switch args.LastLayer {
	case model.LastLayerMobileNetSSD:
		return ssd.NewDecoder(), nil
	case model.LastLayerYOLOv5:
		return decoder(yolov5.NewDecoder(yolov5.Version6))
	case model.LastLayerYOLOv5v5DRPAI:
		return decoder(yolov5.NewDecoder(yolov5.Version5))
	case model.LastLayerYOLOv7:
		return yolov7.NewDecoder(), nil
	case model.LastLayerYOLOX:
		return yolox.NewDecoder(false), nil
	case model.LastLayerYOLOPro, model.LastLayerYOLOv11, model.LastLayerYOLOv11Abs:
		return decoder(yolopro.NewDecoder(args.LastLayer))
	case model.LastLayerFOMO:
		return fomo.NewDecoder(), nil
	case model.LastLayerTAORetinaNet, model.LastLayerTAOSSD, model.LastLayerTAOYOLOv3, model.LastLayerTAOYOLOv4:
		if args.Collaborator == nil {
			return nil, errors.Wrapf(model.ErrMissingCollaborator, "%s", args.LastLayer)
		}
		return decoder(tao.NewDecoder(args.LastLayer, args.Collaborator))
	case model.LastLayerYOLOv2Akida:
		anchors := args.Anchors
		if anchors == nil && args.AnchorsPath != "" {
			anchors = akida.FileAnchorProvider{Path: args.AnchorsPath}
		}
		return decoder(akida.NewDecoder(anchors))
	default:
		return nil, errors.Wrapf(model.ErrUnsupportedLastLayer, "%q", args.LastLayer)
	}
}

// decoder drops the typed nil a failed constructor returns.
func decoder(d model.Decoder, err error) (model.Decoder, error) {
	if err != nil {
		return nil, err
	}
	return d, nil
}
