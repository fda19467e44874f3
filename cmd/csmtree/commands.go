package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/lidofinance/csm-rewards/checker"
	"github.com/lidofinance/csm-rewards/config"
	"github.com/lidofinance/csm-rewards/core/types"
	"github.com/lidofinance/csm-rewards/distribution"
	"github.com/lidofinance/csm-rewards/ipfs"
	"github.com/lidofinance/csm-rewards/ledger"
	"github.com/lidofinance/csm-rewards/log"
	"github.com/lidofinance/csm-rewards/merkle"
	"github.com/lidofinance/csm-rewards/metrics"
	"github.com/lidofinance/csm-rewards/rewards"
)

// globalFlags are shared by every command that talks to the network.
type globalFlags struct {
	configFile      string
	rpcURL          string
	distributor     string
	gateway         string
	logLevel        string
	metricsTextfile string
}

// app is the resolved configuration and logger of a command run.
type app struct {
	cfg    *config.Config
	log    *log.Logger
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "csmtree",
		Short:         "Check and export the CSM fee reward tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "TOML config file")
	pf.StringVar(&flags.rpcURL, "rpc-url", "", "Ethereum JSON-RPC endpoint (overrides RPC_URL)")
	pf.StringVar(&flags.distributor, "distributor", "", "CSFeeDistributor address (overrides DISTRIBUTOR_ADDRESS)")
	pf.StringVar(&flags.gateway, "gateway", "", "public IPFS gateway used without GW3 keys")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.metricsTextfile, "metrics-textfile", "", "write check metrics to this file")

	root.AddCommand(
		newCheckCmd(&flags),
		newDumpCmd(&flags),
		newVerifyCmd(),
		newVersionCmd(),
	)
	return root
}

// setup resolves configuration with precedence defaults < TOML < env < flags
// and installs the logger.
func setup(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	config.ApplyEnvironment(cfg)
	if flags.rpcURL != "" {
		cfg.Ledger.RPCURL = flags.rpcURL
	}
	if flags.distributor != "" {
		cfg.Ledger.DistributorAddress = flags.distributor
	}
	if flags.gateway != "" {
		cfg.IPFS.Gateway = flags.gateway
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.metricsTextfile != "" {
		cfg.Metrics.Textfile = flags.metricsTextfile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closer, err := log.Open(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, err
	}
	log.SetDefault(logger)
	return &app{cfg: cfg, log: logger.Module("csmtree"), closer: closer}, nil
}

func (a *app) close() {
	a.closer.Close()
}

func (a *app) fetcher() (checker.Fetcher, error) {
	var f ipfs.Fetcher
	if a.cfg.IPFS.UseGW3() {
		gw3, err := ipfs.NewGW3(a.cfg.IPFS.GW3Endpoint, a.cfg.IPFS.GW3AccessKey, a.cfg.IPFS.GW3SecretKey, a.cfg.IPFS.Timeout)
		if err != nil {
			return nil, err
		}
		f = gw3
	} else {
		a.log.Info("GW3 keys not set, using public gateway", "gateway", a.cfg.IPFS.Gateway)
		f = ipfs.NewGateway(a.cfg.IPFS.Gateway, a.cfg.IPFS.Timeout)
	}
	if a.cfg.IPFS.CacheSize == 0 {
		return f, nil
	}
	return ipfs.NewCache(f, a.cfg.IPFS.CacheSize)
}

func (a *app) checker(cmd *cobra.Command, m *metrics.Check) (*checker.Checker, func(), error) {
	client, err := ethclient.DialContext(cmd.Context(), a.cfg.Ledger.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", a.cfg.Ledger.RPCURL, err)
	}
	f, err := a.fetcher()
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	d := ledger.NewDistributor(client, a.cfg.Address(), a.cfg.BlockRange())
	return checker.New(d, f, m), client.Close, nil
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the latest distribution against the previous one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			m := metrics.NewCheck()
			c, done, err := a.checker(cmd, m)
			if err != nil {
				return err
			}
			defer done()

			res, err := c.Check(cmd.Context())
			a.writeMetrics(m, err)
			switch {
			case errors.Is(err, checker.ErrNoDistribution):
				a.log.Info("no distribution happened so far")
				return nil
			case err != nil:
				a.log.Error("check failed", "err", err)
				return errFailed
			}

			a.log.Info("latest distribution", "tx", res.Distribution.TxHash, "block", res.Distribution.Block,
				"distributed", res.Distribution.Amount.Dec(), "root", res.Current.Root)
			if !res.Report.OK() {
				for _, v := range res.Report.Violations {
					a.log.Error("check failed", "err", v, "root", res.Current.Root)
				}
				return errFailed
			}
			a.log.Info("all checks passed")
			return nil
		},
	}
}

func (a *app) writeMetrics(m *metrics.Check, checkErr error) {
	if a.cfg.Metrics.Textfile == "" || errors.Is(checkErr, checker.ErrNoDistribution) {
		return
	}
	if err := m.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.log.Warn("failed to write metrics", "path", a.cfg.Metrics.Textfile, "err", err)
	}
}

func newDumpCmd(flags *globalFlags) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write tree.json and proofs.json for the latest tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if outDir != "" {
				a.cfg.Output.Dir = outDir
			}

			c, done, err := a.checker(cmd, nil)
			if err != nil {
				return err
			}
			defer done()

			res, err := c.Dump(cmd.Context(), a.cfg.Output.Dir)
			switch {
			case errors.Is(err, checker.ErrNoDistribution):
				a.log.Info("no CID stored so far")
				return nil
			case err != nil:
				a.log.Error("dump failed", "err", err)
				return errFailed
			}
			if a.cfg.Output.GithubOutput == "" {
				return nil
			}
			return checker.WriteGithubOutput(a.cfg.Output.GithubOutput, res.Commitment.CID, res.Updated)
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory for tree.json and proofs.json")
	return cmd
}

// verifyOutput is printed by the verify command.
type verifyOutput struct {
	Operator            string       `json:"operator"`
	CumulativeFeeShares string       `json:"cumulativeFeeShares"`
	Root                types.Hash   `json:"root"`
	Proof               []types.Hash `json:"proof"`
	Valid               bool         `json:"valid"`
}

func newVerifyCmd() *cobra.Command {
	var (
		treeFile string
		operator uint64
		rootHex  string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an operator's proof against a tree document offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(treeFile)
			if err != nil {
				return err
			}
			tree, err := rewards.Parse(data)
			if err != nil {
				return err
			}
			root := tree.Root()
			if rootHex != "" {
				want, err := types.ParseHash(rootHex)
				if err != nil {
					return fmt.Errorf("--root: %w", err)
				}
				if want != root {
					return &distribution.RootMismatchError{Round: "given", Expected: want, Actual: root}
				}
			}

			r, proof, err := tree.ProofOf(operator)
			if err != nil {
				return err
			}
			leaf, err := tree.Leaf(r)
			if err != nil {
				return err
			}
			out := verifyOutput{
				Operator:            rewards.OperatorLabel(r.OperatorID),
				CumulativeFeeShares: r.Shares.Dec(),
				Root:                root,
				Proof:               proof,
				Valid:               merkle.Verify(root, leaf, proof),
			}
			if out.Proof == nil {
				out.Proof = []types.Hash{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Valid {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&treeFile, "tree", "", "tree document (standard-v1 JSON)")
	cmd.Flags().Uint64Var(&operator, "operator", 0, "node operator id")
	cmd.Flags().StringVar(&rootHex, "root", "", "expected tree root")
	cmd.MarkFlagRequired("tree")
	cmd.MarkFlagRequired("operator")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "csmtree %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}
}
