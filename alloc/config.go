package alloc

import (
	"io"
	"log/slog"
	"math/bits"
	"runtime"

	"github.com/jitalloc/jitalloc/vm"
)

// Options is a bitset of allocator-wide behavior toggles.
type Options uint32

const (
	// UseMultiplePools runs three pools (granularity, 2x, 4x) instead of one,
	// stratifying small and large allocations for fewer bits to scan.
	UseMultiplePools Options = 1 << iota

	// UseDualMapping maps every block through two virtual-memory views (RX
	// and RW) backed by the same physical pages, for W^X-hardened hosts.
	UseDualMapping

	// FillUnusedMemory overwrites freshly-mapped and just-released memory
	// with FillPattern, under a scoped RW-protect toggle.
	FillUnusedMemory

	// ImmediateRelease destroys a block as soon as it becomes empty, rather
	// than keeping one empty reserve block per pool.
	ImmediateRelease

	// DisableInitialPadding disables the one-area guard at offset 0 of every
	// new block.
	DisableInitialPadding

	// CustomFillPattern honors CreateParams.FillPattern instead of the
	// platform default.
	CustomFillPattern
)

func (o Options) has(f Options) bool { return o&f != 0 }

// ResetPolicy controls how much state Allocator.Reset tears down.
type ResetPolicy int

const (
	// ResetSoft keeps one empty, wiped block per pool as a reuse reserve.
	ResetSoft ResetPolicy = iota
	// ResetHard releases every block in every pool.
	ResetHard
)

const (
	basePoolGranularity = 64
	multiPoolCount      = 3

	minBlockSize = 64 * 1024
	maxBlockSize = 256 * 1024 * 1024

	minGranularity = 64
	maxGranularity = 256
)

// CreateParams configures a new Allocator. All fields are optional; invalid
// values are silently replaced with defaults, matching the teacher's own
// size-class configuration pattern of "validate, then substitute".
type CreateParams struct {
	Options     Options
	BlockSize   uint32
	Granularity uint32
	FillPattern uint32

	// Logger receives Debug-level diagnostics about block creation and
	// hardened-runtime fallback decisions, and Warn-level reports of failed
	// mapping releases and RW-protect scopes. A nil Logger discards
	// everything.
	Logger *slog.Logger

	// VM overrides the platform VM service. Nil selects vm.Host().
	VM vm.Service
}

// resolvedConfig is CreateParams after defaulting and validation.
type resolvedConfig struct {
	options     Options
	blockSize   uint32
	granularity uint32
	fillPattern uint32
	poolCount   int
	logger      *slog.Logger
	vmSvc       vm.Service
}

// ResolvedConfig is the externally visible result of defaulting and
// validating a CreateParams against the host VM service, for callers that
// want to inspect what New would actually do without constructing an
// Allocator.
type ResolvedConfig struct {
	Options     Options
	BlockSize   uint32
	Granularity uint32
	FillPattern uint32
	PoolCount   int
}

// Resolve reports the effective configuration for params against host,
// or vm.Host() if host is nil.
func Resolve(params CreateParams, host vm.Service) ResolvedConfig {
	if host == nil {
		host = vm.Host()
	}
	cfg := resolve(params, host.Info())
	if !cfg.options.has(UseDualMapping) {
		hrInfo := host.HardenedRuntimeInfo()
		if hrInfo.Enabled() && !hrInfo.MapJit() {
			cfg.options |= UseDualMapping
		}
	}
	return ResolvedConfig{
		Options:     cfg.options,
		BlockSize:   cfg.blockSize,
		Granularity: cfg.granularity,
		FillPattern: cfg.fillPattern,
		PoolCount:   cfg.poolCount,
	}
}

func resolve(params CreateParams, vmInfo vm.Info) resolvedConfig {
	cfg := resolvedConfig{
		options:     params.Options,
		blockSize:   params.BlockSize,
		granularity: params.Granularity,
		fillPattern: params.FillPattern,
	}

	if cfg.options.has(UseMultiplePools) {
		cfg.poolCount = multiPoolCount
	} else {
		cfg.poolCount = 1
	}

	if cfg.blockSize < minBlockSize || cfg.blockSize > maxBlockSize || !isPowerOfTwo(cfg.blockSize) {
		cfg.blockSize = vmInfo.PageGranularity
	}

	if cfg.granularity < minGranularity || cfg.granularity > maxGranularity || !isPowerOfTwo(cfg.granularity) {
		cfg.granularity = basePoolGranularity
	}

	if !cfg.options.has(CustomFillPattern) {
		cfg.fillPattern = defaultFillPattern()
	}

	cfg.logger = params.Logger
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg.vmSvc = params.VM
	if cfg.vmSvc == nil {
		cfg.vmSvc = vm.Host()
	}

	return cfg
}

func isPowerOfTwo(v uint32) bool {
	return v != 0 && bits.OnesCount32(v) == 1
}

// defaultFillPattern returns the architecture's default secure fill value:
// four 'int3' bytes on x86/x86-64, zero elsewhere.
func defaultFillPattern() uint32 {
	switch runtime.GOARCH {
	case "386", "amd64":
		return 0xCCCCCCCC
	default:
		return 0
	}
}
