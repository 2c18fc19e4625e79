package main

import (
	"github.com/maka00/recorder"
	"github.com/maka00/recorder/engine"
	"github.com/maka00/recorder/internal/config"
	"github.com/maka00/recorder/internal/sprite"
)

// newController builds the capture services described by cfg on eng.
func newController(eng engine.Engine, cfg *config.Config, onChunk recorder.ChunkFunc) (*recorder.CaptureController, error) {
	source := recorder.NewVideoSourceService(eng, recorder.SourceConfig{
		Descriptor:   cfg.Pipelines.Source,
		DeviceDir:    cfg.DeviceDir,
		SocketDir:    cfg.SocketDir,
		StartTimeout: cfg.Source.StartTimeout,
		StopTimeout:  cfg.Source.StopTimeout,
	})

	spriteCfg := sprite.DefaultConfig(cfg.OutputDir)
	spriteCfg.BatchSize = cfg.Sprite.BatchSize
	spriteCfg.StripHeight = cfg.Sprite.StripHeight
	spriteCfg.SliceWidth = cfg.Sprite.SliceWidth
	spriteCfg.CueInterval = cfg.Sprite.CueInterval

	segments, err := recorder.NewSegmentRecorder(eng, recorder.RecordingConfig{
		OutputDir:   cfg.OutputDir,
		ChunkPrefix: cfg.Recording.ChunkPrefix,
		Extension:   cfg.Recording.Extension,
		ChunkSize:   cfg.Recording.ChunkSize,
		StopTimeout: cfg.Recording.StopTimeout,
		Sprite:      spriteCfg,
	}, onChunk)
	if err != nil {
		return nil, err
	}

	still := recorder.NewStillCapture(eng, recorder.StillConfig{
		Descriptor: cfg.Pipelines.Still,
		OutputDir:  cfg.OutputDir,
		Prefix:     cfg.Still.Prefix,
		Extension:  cfg.Still.Extension,
		Timeout:    cfg.Still.Timeout,
	})

	return recorder.NewCaptureController(source, segments, still, recorder.NewPreviewService(eng), recorder.ControllerConfig{
		RecordingDescriptor: cfg.Pipelines.Recording,
		PreviewDescriptor:   cfg.Pipelines.Preview,
		GracePeriod:         cfg.GracePeriod,
	}), nil
}
