package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.viam.com/depthstream/config"
	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/rimage"
	"go.viam.com/depthstream/stream"
)

// snapshotWriter writes every nth published frame of each stream to disk.
type snapshotWriter struct {
	dir          string
	ext          string
	every        int
	previewWidth int
	logger       logging.Logger

	seen    map[string]int
	written int
}

func newSnapshotWriter(conf config.OutputConfig, logger logging.Logger) (*snapshotWriter, error) {
	if err := os.MkdirAll(conf.Directory, 0o750); err != nil {
		return nil, err
	}
	every := conf.EveryNFrames
	if every == 0 {
		every = 1
	}
	return &snapshotWriter{
		dir:          conf.Directory,
		ext:          rimage.Extension(conf.MimeType()),
		every:        every,
		previewWidth: conf.PreviewWidth,
		logger:       logger,
		seen:         map[string]int{},
	}, nil
}

func (w *snapshotWriter) OnFrame(name string, frame *stream.Frame) {
	w.seen[name]++
	if (w.seen[name]-1)%w.every != 0 {
		return
	}
	base := filepath.Join(w.dir, fmt.Sprintf("%s-%06d", name, frame.Sequence))
	if err := rimage.WriteImageToFile(base+w.ext, frame.Image); err != nil {
		w.logger.Warnw("cannot write snapshot", "stream", name, "error", err)
		return
	}
	w.written++
	if w.previewWidth > 0 {
		if err := rimage.WriteImageToFile(base+"-preview"+w.ext, rimage.Preview(frame.Image, w.previewWidth)); err != nil {
			w.logger.Warnw("cannot write snapshot preview", "stream", name, "error", err)
		}
	}
}

func (w *snapshotWriter) OnDepthRange(name string, depthRange stream.DepthRange) {
	w.logger.Infow("depth range changed", "stream", name, "min", depthRange.Min, "max", depthRange.Max)
}
