package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/OnitiFR/portfwd/cmd/portfwd/server"
	"github.com/spf13/cobra"
)

var globalCfgFile string
var globalMax int
var globalVerbose bool
var globalStrict bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portfwd <src port> <remote host>:<port>",
	Short: "Single-threaded TCP port forwarder",
	Long: `Portfwd accepts connections on a local port and forwards them to a
fixed remote host and port, relaying bytes in both directions. All
connections are multiplexed on a single thread.`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		config, err := buildConfig(cmd, args)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		app, err := server.NewApp(config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %s\n", err)
			os.Exit(2)
		}

		err = app.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %s\n", err)
			os.Exit(2)
		}
	},
}

// buildConfig assembles the final configuration from the optional
// TOML file and the command line (arguments win)
func buildConfig(cmd *cobra.Command, args []string) (*server.AppConfig, error) {
	var config *server.AppConfig
	var err error

	if globalCfgFile != "" {
		config, err = server.NewAppConfigFromTomlFile(globalCfgFile)
		if err != nil {
			return nil, fmt.Errorf("config file '%s': %s", globalCfgFile, err)
		}
	} else {
		config = server.NewAppConfig()
		if len(args) < 2 {
			return nil, fmt.Errorf("you must give a source port and a remote host:port (see --help)")
		}
	}

	if len(args) > 0 {
		config.ListenPort, err = strconv.Atoi(args[0])
		if err != nil || config.ListenPort == 0 {
			return nil, fmt.Errorf("'%s' is a silly local port to use", args[0])
		}
	}

	if len(args) > 1 {
		host, portStr, errS := net.SplitHostPort(args[1])
		if errS != nil {
			return nil, fmt.Errorf("you didn't specify a remote port")
		}
		config.RemoteHost = host
		config.RemotePort, err = strconv.Atoi(portStr)
		if err != nil || config.RemotePort == 0 {
			return nil, fmt.Errorf("'%s' is a silly remote port to use", portStr)
		}
	}

	if cmd.Flags().Changed("max") || config.MaxConnections == 0 {
		config.MaxConnections = globalMax
	}
	if globalVerbose {
		config.Trace = true
	}
	if globalStrict {
		config.StrictFaults = true
	}

	err = config.Validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&globalCfgFile, "config", "c", "", "TOML configuration file")
	rootCmd.Flags().IntVarP(&globalMax, "max", "m", server.DefaultMaxConnections, "maximum number of simultaneous connections")
	rootCmd.Flags().BoolVarP(&globalVerbose, "verbose", "v", false, "show trace messages")
	rootCmd.Flags().BoolVar(&globalStrict, "strict-faults", false, "treat backlog overflow and connect failures as fatal")
}
