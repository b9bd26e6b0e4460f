// Package console reads operator commands from a line-oriented stream such
// as stdin and applies them to a running control loop.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/control"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
)

const helpText = `commands:
  light <0-100>     set manual light intensity
  humidity <0-100>  set target humidity
  status            show the latest reading and actuator states
  stop              stop the controller
  help              show this help
`

// Operator is the part of the control loop the console drives.
type Operator interface {
	Settings() climate.Settings
	SetLightIntensity(v int) (int, bool)
	SetTargetHumidity(v int) (int, bool)
	RequestStop()
	State() control.State
}

// Console is also a control.Observer so that status can report the latest
// tick and alerts reach the operator.
type Console struct {
	logger logger.Logger

	outMu sync.Mutex
	out   io.Writer

	statusMu sync.Mutex
	last     *control.Status
}

func New(out io.Writer, log logger.Logger) *Console {
	return &Console{out: out, logger: log.With("console")}
}

// Run executes commands read from in against op until EOF, a stop command
// or ctx is done. A blocked read is abandoned when ctx is done.
func (c *Console) Run(ctx context.Context, op Operator, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return errors.New().Wrap(errors.ErrInternal, err)
					}
				default:
				}
				return nil
			}
			if c.Execute(op, line) {
				return nil
			}
		}
	}
}

// Execute runs one command line against op and reports whether it was stop.
func (c *Console) Execute(op Operator, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	c.logger.Debug().Str("command", cmd).Strs("args", args).Msg("Console command")

	switch cmd {
	case "light":
		c.setValue(cmd, "light intensity", args, op.SetLightIntensity)
	case "humidity":
		c.setValue(cmd, "target humidity", args, op.SetTargetHumidity)
	case "status":
		c.printStatus(op)
	case "stop", "quit", "exit":
		c.printf("stopping\n")
		op.RequestStop()
		return true
	case "help", "?":
		c.printf("%s", helpText)
	default:
		c.printf("unknown command %q, type help\n", cmd)
	}

	return false
}

func (c *Console) setValue(cmd, name string, args []string, set func(int) (int, bool)) {
	if len(args) != 1 {
		c.printf("usage: %s <0-100>\n", cmd)
		return
	}

	v, err := strconv.Atoi(args[0])
	if err != nil {
		c.printf("invalid %s %q\n", name, args[0])
		return
	}

	applied, clamped := set(v)
	if clamped {
		c.printf("%s set to %d (clamped from %d)\n", name, applied, v)
		return
	}
	c.printf("%s set to %d\n", name, applied)
}

func (c *Console) printStatus(op Operator) {
	s := op.Settings()
	c.printf("state: %s\n", op.State())
	c.printf("settings: light_intensity=%d target_humidity=%d\n", s.LightIntensity, s.TargetHumidity)

	c.statusMu.Lock()
	last := c.last
	c.statusMu.Unlock()

	switch {
	case last == nil:
		c.printf("no reading yet\n")
	case !last.Sensed:
		c.printf("tick %d: sensors unavailable\n", last.Tick)
	default:
		c.printf("tick %d:\n%s\n%s\n%s\n", last.Tick, last.TemperatureText, last.HumidityText, last.LightText)

		var states []string
		last.Commands.Each(func(id climate.ActuatorID, on bool) {
			state := "off"
			if on {
				state = "on"
			}
			states = append(states, id.String()+"="+state)
		})
		c.printf("actuators: %s\n", strings.Join(states, " "))
	}
	if last != nil && last.Degraded {
		c.printf("degraded: %d fault(s)\n", len(last.Faults))
	}
}

func (c *Console) OnStatus(status control.Status) {
	c.statusMu.Lock()
	c.last = &status
	c.statusMu.Unlock()
}

func (c *Console) OnAlert(alert climate.Alert) {
	c.printf("ALERT: %s\n", alert.Message)
}

func (c *Console) OnFault(errors.Error) {}

func (c *Console) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
