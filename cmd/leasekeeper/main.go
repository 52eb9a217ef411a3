package main

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"isc.org/leasekeeper"
	"isc.org/leasekeeper/backends"
	"isc.org/leasekeeper/backends/program"
	"isc.org/leasekeeper/daemon"
	"isc.org/leasekeeper/eventserver"
	leaseutil "isc.org/leasekeeper/util"
)

// Sighup error is used to indicate that the daemon received a SIGHUP
// signal.
type sighupError struct{}

// Returns sighupError error text.
func (e *sighupError) Error() string {
	return "received SIGHUP signal"
}

// Error used to indicate that Ctrl-C was pressed to terminate the daemon.
type ctrlcError struct{}

// Returns ctrlcError error text.
func (e *ctrlcError) Error() string {
	return "received Ctrl-C signal"
}

// Sets the flags bound to the environment variables read from the
// environment file. The variables not bound to any flag are ignored.
type flagEnvironmentSetter struct {
	context *cli.Context
}

// Sets the flag bound to the environment variable.
func (s *flagEnvironmentSetter) Set(key, value string) error {
	for _, flag := range s.context.App.Flags {
		withEnv, ok := flag.(interface{ GetEnvVars() []string })
		if !ok || !slices.Contains(withEnv.GetEnvVars(), key) {
			continue
		}
		names := flag.Names()
		if len(names) == 0 || names[0] == "" {
			continue
		}
		name := names[0]
		if err := s.context.Set(name, value); err != nil {
			return errors.Wrapf(err, "cannot set the %s flag", name)
		}
	}
	return nil
}

// Returns the daemon settings from the command line.
func getSettings(c *cli.Context) daemon.Settings {
	return daemon.Settings{
		SocketPath:     c.String("socket"),
		StateDir:       c.String("state-dir"),
		RunDir:         c.String("run-dir"),
		HelperPath:     c.String("helper"),
		EnableMetrics:  c.Bool("metrics"),
		MetricsAddress: c.String("metrics-address"),
		MetricsPort:    c.Int("metrics-port"),
	}
}

// Starts the daemon and runs it until a signal is received.
func runDaemon(c *cli.Context, reload bool) error {
	if !reload {
		log.Printf("Starting leasekeeper, version %s, build date %s", leasekeeper.Version, leasekeeper.BuildDate)
	}

	config, err := daemon.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	d, err := daemon.New(getSettings(c), config)
	if err != nil {
		return err
	}
	if err = d.Start(); err != nil {
		return err
	}
	defer d.Shutdown()

	// Handle signals.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(ch)
	sig := <-ch
	switch sig {
	case syscall.SIGHUP:
		log.Info("Reloading leasekeeper after receiving SIGHUP signal")
		return &sighupError{}
	case syscall.SIGTERM:
		log.Info("Received SIGTERM signal")
		return nil
	default:
		log.Info("Received Ctrl-C signal")
		return &ctrlcError{}
	}
}

// Checks the configuration file and prints the available backends.
func runCheckConfig(c *cli.Context) error {
	config, err := daemon.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	env := program.NewEnvironment()
	registry, err := backends.NewDefaultRegistry(env)
	if err != nil {
		return err
	}
	for _, iface := range config.Interfaces {
		name := iface.Backend
		if name == "" {
			name = config.Backend
		}
		if name == "" {
			name = backends.DefaultBackend
		}
		if _, err := registry.Select(name, config.EnableExperimental); err != nil {
			return errors.WithMessagef(err, "interface %s", iface.Name)
		}
	}
	fmt.Printf("Configuration %s is valid (%d interfaces)\n", c.String("config"), len(config.Interfaces))
	return nil
}

// Prepare urfave cli app with all flags and commands defined.
func setupApp(reload bool) *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Println(c.App.Version)
	}

	cli.HelpFlag = &cli.BoolFlag{
		Name:    "help",
		Aliases: []string{"h"},
		Usage:   "Show help",
	}

	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "Print the version",
	}

	app := &cli.App{
		Name:     "leasekeeper",
		Usage:    "Obtains and keeps the DHCP leases of the network interfaces",
		Version:  leasekeeper.Version,
		HelpName: "leasekeeper",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "The path to the daemon configuration file",
				Value:   daemon.DefaultConfigPath,
				EnvVars: []string{"LEASEKEEPER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "socket",
				Usage:   "The unix socket the DHCP helper reports the events to",
				Value:   eventserver.DefaultSocketPath,
				EnvVars: []string{eventserver.SocketEnvironmentVariable},
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Usage:   "The directory of the lease and DUID files",
				Value:   program.DefaultStateDir,
				EnvVars: []string{"LEASEKEEPER_STATE_DIR"},
			},
			&cli.StringFlag{
				Name:    "run-dir",
				Usage:   "The directory of the pid files and the generated DHCP client configurations",
				Value:   program.DefaultRunDir,
				EnvVars: []string{"LEASEKEEPER_RUN_DIR"},
			},
			&cli.StringFlag{
				Name:    "helper",
				Usage:   "The helper executed by the DHCP client programs",
				Value:   program.DefaultHelperPath,
				EnvVars: []string{"LEASEKEEPER_HELPER_PATH"},
			},
			&cli.BoolFlag{
				Name:    "metrics",
				Usage:   "Export the lease metrics for Prometheus",
				EnvVars: []string{"LEASEKEEPER_METRICS"},
			},
			&cli.StringFlag{
				Name:    "metrics-address",
				Usage:   "The IP or hostname to listen on for incoming Prometheus connections",
				Value:   "127.0.0.1",
				EnvVars: []string{"LEASEKEEPER_METRICS_ADDRESS"},
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "The port to listen on for incoming Prometheus connections",
				Value:   9548,
				EnvVars: []string{"LEASEKEEPER_METRICS_PORT"},
			},
			&cli.BoolFlag{
				Name:  "use-env-file",
				Usage: "Read the environment variables from the environment file",
				Value: false,
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Environment file location; applicable only if the use-env-file is provided",
				Value: "/etc/leasekeeper/leasekeeper.env",
			},
			// Read directly from the environment variable. It is listed
			// here only for the help.
			&cli.StringFlag{
				Name:    "",
				Usage:   "Logging level can be specified using env variable only. Allowed values: are DEBUG, INFO, WARN, ERROR",
				Value:   "INFO",
				EnvVars: []string{leaseutil.LogLevelEnvironmentVariable},
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("use-env-file") {
				err := leaseutil.LoadEnvironmentFileToSetter(
					c.String("env-file"),
					// Loads environment variables into the flags.
					&flagEnvironmentSetter{context: c},
					// Loads environment variables into process.
					leaseutil.NewProcessEnvironmentVariableSetter(),
				)
				if err != nil {
					err = errors.WithMessagef(err, "the '%s' environment file is invalid", c.String("env-file"))
					return err
				}

				// Reconfigures logging using new environment variables.
				leaseutil.SetupLogging()
			} else if c.IsSet("env-file") {
				log.Warning("The environment file is provided but it is not used because the '--use-env-file' flag is not set")
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return runDaemon(c, reload)
		},
		Commands: []*cli.Command{
			{
				Name:      "check-config",
				Usage:     "Check the configuration file and the availability of the configured backends",
				UsageText: "leasekeeper [--config path] check-config",
				Action:    runCheckConfig,
			},
		},
	}

	return app
}

// Main leasekeeper function.
func main() {
	reload := false
	for {
		leaseutil.SetupLogging()
		app := setupApp(reload)
		err := app.Run(os.Args)
		switch {
		case err == nil:
			return
		case errors.Is(err, &ctrlcError{}):
			// Ctrl-C pressed.
			os.Exit(130)
		case errors.Is(err, &sighupError{}):
			// SIGHUP signal received.
			reload = true
		default:
			// Error occurred.
			log.Fatal(err)
			return
		}
	}
}
