package probe

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/hamed0406/loadprobe/internal/config"
)

// Constructor builds one independent Probe from cfg.
type Constructor func(cfg config.Config) (Probe, error)

// ConstructorFor selects the probe variant for cfg.Mode.
func ConstructorFor(cfg config.Config) (Constructor, error) {
	switch cfg.Mode {
	case config.ModeHTTP:
		return func(c config.Config) (Probe, error) {
			p, err := NewHTTPProbe(c)
			if err != nil {
				return nil, err
			}
			return p, nil
		}, nil
	case config.ModeDB:
		return NewDBProbe, nil
	default:
		return nil, &config.Error{Option: "mode", Err: fmt.Errorf("unknown mode %q", cfg.Mode)}
	}
}

// Build calls construct once per worker and returns exactly cfg.Parallel
// probes. Probes are never shared: workers emulate independent clients, so
// each gets its own transport, connection config and pool.
//
// If any construction fails, the probes already built are closed and the
// error is returned as a *config.Error; no partial set is ever returned.
func Build(cfg config.Config, construct Constructor) ([]Probe, error) {
	if cfg.Parallel < 1 {
		return nil, &config.Error{Option: "parallel", Err: fmt.Errorf("worker count must be >= 1, got %d", cfg.Parallel)}
	}

	probes := make([]Probe, 0, cfg.Parallel)
	for i := 0; i < cfg.Parallel; i++ {
		p, err := construct(cfg)
		if err != nil {
			return nil, constructError(i, err, CloseAll(probes))
		}
		probes = append(probes, p)
	}
	return probes, nil
}

func constructError(worker int, err, closeErr error) error {
	out := &config.Error{Source: fmt.Sprintf("worker %d", worker), Err: err}
	var cerr *config.Error
	if errors.As(err, &cerr) {
		out.Option = cerr.Option
		out.Err = cerr.Err
	}
	out.Err = multierr.Append(out.Err, closeErr)
	return out
}

// CloseAll closes every probe and combines their errors.
func CloseAll(probes []Probe) error {
	var err error
	for _, p := range probes {
		err = multierr.Append(err, p.Close())
	}
	return err
}
