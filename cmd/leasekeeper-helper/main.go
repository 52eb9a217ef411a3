// The helper executed by the DHCP client programs as their script. It
// forwards the variables of its environment to the daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"isc.org/leasekeeper"
	"isc.org/leasekeeper/eventserver"
	leaseutil "isc.org/leasekeeper/util"
)

// Environment variables with the dedicated event fields.
const (
	interfaceVariable = "interface"
	pidVariable       = "pid"
	reasonVariable    = "reason"
)

// Helper settings.
type settings struct {
	Version bool   `short:"v" long:"version" description:"Show software version"`
	Socket  string `short:"s" long:"socket" description:"The unix socket of the daemon" env:"LEASEKEEPER_HELPER_SOCKET" default:"/run/leasekeeper/helper.sock"`
	Timeout int    `short:"t" long:"timeout" description:"Timeout of the event delivery in seconds" default:"10"`
}

// Check if a given error is a request to display the help.
func isHelpRequest(err error) bool {
	var flagsError *flags.Error
	if errors.As(err, &flagsError) {
		if flagsError.Type == flags.ErrHelp {
			return true
		}
	}
	return false
}

// Parses the command line. It returns nil settings when the help was
// requested.
func parseArgs(args []string) (*settings, error) {
	s := &settings{}
	parser := flags.NewParser(s, flags.Default)
	parser.ShortDescription = "leasekeeper DHCP client helper"
	parser.LongDescription = "Reports the DHCP client events to the leasekeeper daemon"
	if _, err := parser.ParseArgs(args); err != nil {
		if isHelpRequest(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "cannot parse the CLI flags")
	}
	return s, nil
}

// Builds the event from the environment variables. The pid of the client
// program defaults to the parent process. The variables other than the
// event fields and the socket location become the event options.
func buildEvent(environ []string, ppid int) (*eventserver.Event, error) {
	event := &eventserver.Event{
		Pid:     ppid,
		Options: make(map[string]string),
	}
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		switch key {
		case interfaceVariable:
			event.Interface = value
		case reasonVariable:
			event.Reason = value
		case pidVariable:
			pid, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid pid %s", value)
			}
			event.Pid = pid
		case eventserver.SocketEnvironmentVariable:
		default:
			event.Options[key] = value
		}
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// Runs the helper for the given arguments and environment.
func run(args []string, environ []string, ppid int) error {
	s, err := parseArgs(args)
	if err != nil || s == nil {
		return err
	}
	if s.Version {
		fmt.Println(leasekeeper.Version)
		return nil
	}

	event, err := buildEvent(environ, ppid)
	if err != nil {
		return errors.WithMessage(err, "invalid DHCP client environment")
	}

	client := eventserver.NewClient(s.Socket)
	timeout := time.Duration(s.Timeout) * time.Second
	if timeout > 0 {
		client.SetRequestTimeout(timeout)
	}
	log.WithFields(log.Fields{
		"iface":  event.Interface,
		"pid":    event.Pid,
		"reason": event.Reason,
	}).Debug("Sending DHCP client event")
	return client.SendEvent(context.Background(), event)
}

// Main leasekeeper-helper function.
func main() {
	leaseutil.SetupLogging()
	if err := run(os.Args[1:], os.Environ(), os.Getppid()); err != nil {
		log.Fatal(err)
	}
}
