package engine

import (
	"fmt"
	"log"

	"github.com/satindergrewal/beatgrid/internal/audio"
	"github.com/satindergrewal/beatgrid/internal/library"
	"github.com/satindergrewal/beatgrid/internal/msgq"
	"github.com/satindergrewal/beatgrid/internal/stretch"
)

// New builds a connected engine pair at the given starting tempo. The
// library must be in the cfg.SampleRate output domain. A nil logger logs
// to the standard logger; a nil factory uses stretch.NewVarispeed.
func New(cfg Config, lib *library.Library, bpm float64, backend audio.Backend, newStretcher stretch.Factory, logger *log.Logger) (*AudioEngine, *IOEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if lib == nil || backend == nil {
		return nil, nil, fmt.Errorf("%w: library and backend are required", ErrConfig)
	}
	if lib.OutputRate() != float64(cfg.SampleRate) {
		return nil, nil, fmt.Errorf("%w: library output rate %v, engine rate %d", ErrConfig, lib.OutputRate(), cfg.SampleRate)
	}
	if !(bpm > 0) {
		return nil, nil, fmt.Errorf("%w: bpm must be positive, got %v", ErrConfig, bpm)
	}
	if newStretcher == nil {
		newStretcher = stretch.NewVarispeed
	}
	if logger == nil {
		logger = log.Default()
	}

	toRender := msgq.New[renderMsg](cfg.PoolCapacity)
	toIO := msgq.New[ioMsg](cfg.PoolCapacity)
	shared := newSharedState(bpm)

	a := newAudioEngine(cfg, lib, toRender, toIO, shared, newStretcher)
	e := newIOEngine(cfg, lib, toIO, toRender, shared, backend, logger)
	return a, e, nil
}
