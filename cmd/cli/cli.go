package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/canopy-network/metanode/cmd/rpc"
	"github.com/canopy-network/metanode/controller"
	"github.com/canopy-network/metanode/lib"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var rootCmd = &cobra.Command{
	Use:   "metanode",
	Short: "the metanode bft finalization engine",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(rpc.SoftwareVersion)
	},
}

var (
	client, config, l = &rpc.Client{}, lib.Config{}, lib.LoggerI(nil)
	DataDir           = ""
)

var (
	validators, txRate = 4, 0
	stake              = uint64(1000)
)

func init() {
	cobra.OnInitialize(initialize)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.PersistentFlags().StringVar(&DataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
	startCmd.Flags().IntVar(&validators, "validators", 4, "the number of validators of the localnet, at least 4")
	startCmd.Flags().Uint64Var(&stake, "stake", 1000, "the stake of every validator")
	startCmd.Flags().IntVar(&txRate, "tx-rate", 0, "transactions generated per second, 0 disables the generator")
}

// initialize() runs once the flags are parsed, so --data-dir is honored
func initialize() {
	config = InitializeDataDirectory(DataDir, lib.NewDefaultLogger())
	l = lib.NewLogger(lib.LoggerConfig{Level: config.GetLogLevel()}, config.DataDirPath)
	client = rpc.NewLocalClient(config.RPCConfig)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var startCmd = &cobra.Command{
	Use:   "start --validators=4 --tx-rate=10",
	Short: "start a localnet of validators deciding blocks",
	Run: func(cmd *cobra.Command, args []string) {
		Start()
	},
}

// Start() is the entrypoint of the application
func Start() {
	stakes := make([]uint64, validators)
	for i := range stakes {
		stakes[i] = stake
	}
	// initialize the metrics server, only the first validator reports
	metrics := lib.NewMetricsServer("validator-0", config.MetricsConfig, l)
	net, err := controller.NewLocalnet(config, stakes, metrics, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	rpcServer := rpc.NewServer(net, config, l)
	metrics.Start()
	rpcServer.Start()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan lib.ErrorI, 1)
	go func() { done <- net.Start(ctx) }()
	if txRate > 0 {
		go generateTxs(ctx, net, txRate)
	}
	// block until a kill signal is received or the localnet fails
	select {
	case s := <-waitForKill():
		l.Infof("Exit command %s received", s)
		cancel()
		err = <-done
	case err = <-done:
		cancel()
	}
	if err != nil {
		l.Errorf("Localnet stopped with err: %s", err.Error())
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	rpcServer.Stop(stopCtx)
	metrics.Stop()
	net.Close()
}

// generateTxs() feeds the mempools at a fixed rate until ctx is done
func generateTxs(ctx context.Context, net *controller.Localnet, perSecond int) {
	ticker := time.NewTicker(time.Second / time.Duration(perSecond))
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := net.SendTx([]byte(fmt.Sprintf("tx-%d-%d", time.Now().UnixNano(), i))); err != nil {
				l.Warnf("Generated tx rejected: %s", err.Error())
			}
		}
	}
}

// waitForKill() signals once a kill signal is received
func waitForKill() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGABRT)
	return stop
}

// InitializeDataDirectory() creates the data directory and its config.json if missing and loads the config
func InitializeDataDirectory(dataDirPath string, log lib.LoggerI) (c lib.Config) {
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		log.Fatal(err.Error())
	}
	configFilePath := filepath.Join(dataDirPath, lib.ConfigFilePath)
	if _, err := os.Stat(configFilePath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.ConfigFilePath)
		if err = lib.DefaultConfig().WriteToFile(configFilePath); err != nil {
			log.Fatal(err.Error())
		}
	}
	c, err := lib.NewConfigFromFile(configFilePath)
	if err != nil {
		log.Fatal(err.Error())
	}
	c.DataDirPath = dataDirPath
	if err = c.Validate(); err != nil {
		log.Fatal(err.Error())
	}
	return
}

// writeToConsole() prints numbers with thousands separators and everything else as json, indented on a terminal
func writeToConsole(a any, err error) {
	if err != nil {
		l.Fatal(err.Error())
	}
	switch v := a.(type) {
	case int, uint32, uint64:
		p := message.NewPrinter(language.English)
		if _, e := p.Printf("%d\n", v); e != nil {
			l.Fatal(e.Error())
		}
	case string:
		fmt.Println(v)
	case *string:
		fmt.Println(*v)
	default:
		var (
			bz []byte
			e  lib.ErrorI
		)
		if term.IsTerminal(int(os.Stdout.Fd())) {
			bz, e = lib.MarshalJSONIndent(a)
		} else {
			bz, e = lib.MarshalJSON(a)
		}
		if e != nil {
			l.Fatal(e.Error())
		}
		fmt.Println(string(bz))
	}
}
