package main

import (
	"github.com/spf13/cobra"

	"github.com/jitalloc/jitalloc/vm"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Report host page geometry and W^X enforcement policy",
		Long: `info prints what vm.Host() reports for the current platform: page
size and granularity, and whether the host enforces a hardened (W^X)
runtime and through which mechanism.

Example:
  jitctl info
  jitctl info --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
}

type hostInfo struct {
	PageSize        uint32 `json:"page_size"`
	PageGranularity uint32 `json:"page_granularity"`
	HardenedEnabled bool   `json:"hardened_enabled"`
	HardenedMapJit  bool   `json:"hardened_map_jit"`
}

func runInfo() error {
	svc := vm.Host()
	info := svc.Info()
	hardened := svc.HardenedRuntimeInfo()

	result := hostInfo{
		PageSize:        info.PageSize,
		PageGranularity: info.PageGranularity,
		HardenedEnabled: hardened.Enabled(),
		HardenedMapJit:  hardened.MapJit(),
	}

	if jsonOut {
		return printJSON(result)
	}

	printInfo("Host VM info:\n")
	printInfo("  Page size:        %d\n", result.PageSize)
	printInfo("  Page granularity: %d\n", result.PageGranularity)
	printInfo("  Hardened runtime: %t\n", result.HardenedEnabled)
	printInfo("  MAP_JIT support:  %t\n", result.HardenedMapJit)
	return nil
}
