package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/config"
)

var cfg = config.Default()
var bpModeFlag int

var rootCmd = &cobra.Command{
	Use:     "spitfired",
	Short:   "Spitfire three-tier storage engine benchmark driver",
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.BPMode = common.BPMode(bpModeFlag)
		logrus.SetLevel(logrus.InfoLevel)
	},
}

func init() {
	f := rootCmd.PersistentFlags()

	f.Float64Var(&cfg.ScaleFactor, "scale_factor", cfg.ScaleFactor, "multiplier for TPC-C data sizes")
	f.Float64Var(&cfg.Duration, "duration", cfg.Duration, "measurement duration, seconds")
	f.Float64Var(&cfg.ProfileDuration, "profile_duration", cfg.ProfileDuration, "per-sample window, seconds")
	f.IntVar(&cfg.BackendCount, "backend_count", cfg.BackendCount, "worker thread count")
	f.IntVar(&cfg.WarehouseCount, "warehouse_count", cfg.WarehouseCount, "TPC-C warehouses")
	f.IntVar(&cfg.LoaderCount, "loader_count", cfg.LoaderCount, "loader parallelism")

	f.IntVar(&bpModeFlag, "bp_mode", int(cfg.BPMode), "0: DRAM+DRAM+SSD, 1: DRAM+NVM+SSD, 2: DRAM+SSD, 3: NVM+SSD")
	f.StringVar(&cfg.DBPath, "db_path", cfg.DBPath, "SSD file directory")
	f.StringVar(&cfg.NVMPath, "nvm_path", cfg.NVMPath, "NVM-backed heap directory")
	f.StringVar(&cfg.WALPath, "wal_path", cfg.WALPath, "WAL directory")
	f.Float64Var(&cfg.DRAMReadProb, "dram_read_prob", cfg.DRAMReadProb, "migration probability Dr")
	f.Float64Var(&cfg.DRAMWriteProb, "dram_write_prob", cfg.DRAMWriteProb, "migration probability Dw")
	f.Float64Var(&cfg.NVMReadProb, "nvm_read_prob", cfg.NVMReadProb, "migration probability Nr")
	f.Float64Var(&cfg.NVMWriteProb, "nvm_write_prob", cfg.NVMWriteProb, "migration probability Nw")
	f.IntVar(&cfg.DRAMBufNumPages, "dram_buf_num_pages", cfg.DRAMBufNumPages, "DRAM tier capacity in pages")
	f.IntVar(&cfg.NVMBufNumPages, "nvm_buf_num_pages", cfg.NVMBufNumPages, "NVM tier capacity in pages")
	f.BoolVar(&cfg.MiniPage, "mini_page", cfg.MiniPage, "enable the mini-page optimisation")
	f.BoolVar(&cfg.DirectIO, "direct_io", cfg.DirectIO, "use direct I/O to SSD")
	f.BoolVar(&cfg.EnableAnnealing, "enable_annealing", cfg.EnableAnnealing, "enable runtime simulated-annealing of migration probabilities")
	f.BoolVar(&cfg.EnableHyMem, "enable_hymem", cfg.EnableHyMem, "enable the HyMem admission-set policy")
	f.Float64Var(&cfg.AdmissionSetSz, "admission_set_sz", cfg.AdmissionSetSz, "admission set capacity as a fraction of NVM pages")
	f.BoolVar(&cfg.LoadExistingDB, "load_existing_db", cfg.LoadExistingDB, "skip load, read metadata page")
	f.Float64Var(&cfg.WarmupDuration, "warmup_duration", cfg.WarmupDuration, "pre-measurement phase, seconds")

	rootCmd.AddCommand(runCmd)
}
