package aggregator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/bighogz/ownership-lens/internal/models"
)

// EstimateInput is what a total-shares estimator may look at.
type EstimateInput struct {
	Insider       float64
	Beneficial    float64
	Institutional float64
	Holders       []models.HolderRecord
}

// Known is the number of shares attributed to some category.
func (in EstimateInput) Known() float64 {
	return in.Insider + in.Beneficial + in.Institutional
}

type Estimate struct {
	Total   float64
	Method  string
	Quality models.DataQuality
}

// Estimator derives a total share count. A zero Total means "no opinion".
type Estimator interface {
	Estimate(in EstimateInput) Estimate
}

// BackSolve divides the first beneficial position that reports both a share
// count and a percent of class by that percent.
type BackSolve struct{}

func (BackSolve) Estimate(in EstimateInput) Estimate {
	for _, h := range in.Holders {
		if h.Shares > 0 && h.PercentOwnership != nil && *h.PercentOwnership > 0 {
			return Estimate{Total: h.Shares / (*h.PercentOwnership / 100), Method: "back_solved", Quality: models.QualityReported}
		}
	}
	return Estimate{}
}

// KnownFraction assumes the known categories account for Fraction of all
// shares. This is an approximation, not a reported figure.
type KnownFraction struct {
	Fraction float64
}

func (k KnownFraction) Estimate(in EstimateInput) Estimate {
	if k.Fraction <= 0 || in.Known() <= 0 {
		return Estimate{}
	}
	return Estimate{Total: in.Known() / k.Fraction, Method: fmt.Sprintf("known_fraction_%.2f", k.Fraction), Quality: models.QualityEstimated}
}

// Chain returns the first estimate with a positive total.
type Chain []Estimator

func (c Chain) Estimate(in EstimateInput) Estimate {
	for _, e := range c {
		if est := e.Estimate(in); est.Total > 0 {
			return est
		}
	}
	return Estimate{}
}

const wasmEstimateExport = "estimate_total_shares"

// WASMEstimator runs an externally supplied WebAssembly module that exports
// estimate_total_shares(known f64) f64.
type WASMEstimator struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	fn      api.Function
}

func NewWASMEstimator(ctx context.Context, wasm []byte) (*WASMEstimator, error) {
	r := wazero.NewRuntime(ctx)
	mod, err := r.Instantiate(ctx, wasm)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate estimator module: %w", err)
	}
	fn := mod.ExportedFunction(wasmEstimateExport)
	if fn == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("estimator module does not export %s", wasmEstimateExport)
	}
	return &WASMEstimator{runtime: r, fn: fn}, nil
}

// LoadWASMEstimator reads the module at path.
func LoadWASMEstimator(ctx context.Context, path string) (*WASMEstimator, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewWASMEstimator(ctx, wasm)
}

func (w *WASMEstimator) Estimate(in EstimateInput) Estimate {
	if in.Known() <= 0 {
		return Estimate{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	res, err := w.fn.Call(context.Background(), api.EncodeF64(in.Known()))
	if err != nil || len(res) == 0 {
		return Estimate{}
	}
	return Estimate{Total: api.DecodeF64(res[0]), Method: "wasm", Quality: models.QualityEstimated}
}

func (w *WASMEstimator) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}
