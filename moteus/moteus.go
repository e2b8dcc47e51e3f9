// Package moteus drives a mjbots moteus controller through an fdcanusb
// adapter.
package moteus

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/w1xm/detent_knob/actuator"
	"github.com/w1xm/detent_knob/moteus/internal/mp"
)

// Register numbers, from the moteus reference manual.
const (
	RegMode     mp.Register = 0x000
	RegPosition mp.Register = 0x001
	RegVelocity mp.Register = 0x002
	RegTorque   mp.Register = 0x003
	RegFault    mp.Register = 0x00f

	RegCommandPosition     mp.Register = 0x020
	RegCommandVelocity     mp.Register = 0x021
	RegCommandFeedforward  mp.Register = 0x022
	RegCommandKpScale      mp.Register = 0x023
	RegCommandKdScale      mp.Register = 0x024
	RegCommandMaxTorque    mp.Register = 0x025
	RegCommandStopPosition mp.Register = 0x026
)

const (
	// DefaultID is the factory CAN id of a moteus controller.
	DefaultID = 1
	// replyFlag in the arbitration id asks the controller to respond.
	replyFlag = 0x8000
)

var ErrNoReply = errors.New("no reply from controller")

// Controller is a single moteus controller. It implements actuator.Actuator.
type Controller struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	br     *bufio.Reader
	id     int
	source int
}

// Connect opens the fdcanusb serial port and returns a controller for the
// given CAN id.
func Connect(port string, baud int, id int) (*Controller, error) {
	// fdcanusb is USB CDC; baud rate does not matter.
	c := &serial.Config{Name: port, Baud: baud, ReadTimeout: 100 * time.Millisecond}
	s, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", port, err)
	}
	log.Printf("opened %q", port)
	return New(s, id), nil
}

// New returns a controller speaking the fdcanusb line protocol over conn.
func New(conn io.ReadWriteCloser, id int) *Controller {
	return &Controller{
		conn: conn,
		br:   bufio.NewReader(conn),
		id:   id,
	}
}

func (c *Controller) Close() error {
	return c.conn.Close()
}

func (c *Controller) Stop(ctx context.Context) error {
	var f mp.Frame
	f.Write(mp.Int8, RegMode, float64(actuator.ModeStopped))
	_, err := c.cycle(ctx, &f, false)
	return err
}

func (c *Controller) SetPosition(ctx context.Context, cmd actuator.Command) (actuator.State, error) {
	var f mp.Frame
	f.Write(mp.Int8, RegMode, float64(actuator.ModePosition))
	// Position is always sent; NaN tells the controller there is no setpoint.
	f.Write(mp.Float, RegCommandPosition, cmd.Position)
	writeSet(&f, RegCommandVelocity, []float64{
		cmd.Velocity,
		cmd.FeedforwardTorque,
		cmd.KpScale,
		cmd.KdScale,
		cmd.MaxTorque,
		cmd.StopPosition,
	})
	f.Read(mp.Int8, RegMode, 1)
	f.Read(mp.Float, RegPosition, 3)
	f.Read(mp.Int8, RegFault, 1)

	subframes, err := c.cycle(ctx, &f, true)
	if err != nil {
		return actuator.State{}, err
	}
	return parseState(subframes)
}

// writeSet writes each run of consecutive set values as one subframe.
func writeSet(f *mp.Frame, start mp.Register, values []float64) {
	for i := 0; i < len(values); {
		if !actuator.IsSet(values[i]) {
			i++
			continue
		}
		j := i
		for j < len(values) && actuator.IsSet(values[j]) {
			j++
		}
		f.Write(mp.Float, start+mp.Register(i), values[i:j]...)
		i = j
	}
}

func parseState(subframes []mp.Subframe) (actuator.State, error) {
	for _, sf := range subframes {
		if sf.Kind == mp.KindReadError || sf.Kind == mp.KindWriteError {
			return actuator.State{}, fmt.Errorf("register 0x%03x: error %d", sf.Start, sf.Err)
		}
	}
	regs := mp.Registers(subframes)
	pos, ok := regs[RegPosition]
	if !ok {
		return actuator.State{}, fmt.Errorf("reply missing position: %w", ErrNoReply)
	}
	state := actuator.State{
		Mode:     actuator.Mode(regs[RegMode]),
		Position: pos,
		Velocity: regs[RegVelocity],
		Torque:   regs[RegTorque],
		Fault:    int8(regs[RegFault]),
	}
	return state, nil
}

// cycle sends one frame and, if reply is set, waits for the controller's
// response. The fdcanusb acknowledges every send with "OK".
func (c *Controller) cycle(ctx context.Context, f *mp.Frame, reply bool) ([]mp.Subframe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	arb := c.source<<8 | c.id
	if reply {
		arb |= replyFlag
	}
	line := fmt.Sprintf("can send %04x %s b\n", arb, hex.EncodeToString(f.Bytes()))
	if _, err := io.WriteString(c.conn, line); err != nil {
		return nil, fmt.Errorf("writing fdcanusb: %w", err)
	}

	var (
		acked     bool
		subframes []mp.Subframe
		received  = !reply
	)
	for !acked || !received {
		input, err := c.br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("reading fdcanusb: %w", ErrNoReply)
			}
			return nil, fmt.Errorf("reading fdcanusb: %w", err)
		}
		input = strings.TrimSpace(input)
		switch {
		case input == "":
		case input == "OK":
			acked = true
		case strings.HasPrefix(input, "ERR"):
			return nil, fmt.Errorf("fdcanusb: %s", input)
		case strings.HasPrefix(input, "rcv "):
			sf, from, err := parseRcv(input)
			if err != nil {
				return nil, fmt.Errorf("parsing %q: %w", input, err)
			}
			if from != c.id {
				log.Printf("ignoring frame from id %d", from)
				continue
			}
			subframes = sf
			received = true
		default:
			log.Printf("unknown fdcanusb output: %s", input)
		}
	}
	return subframes, nil
}

// parseRcv parses "rcv <arb> <hex> [flags...]".
func parseRcv(input string) ([]mp.Subframe, int, error) {
	fields := strings.Fields(input)
	if len(fields) < 3 {
		return nil, 0, mp.ErrTruncated
	}
	arb, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return nil, 0, err
	}
	data, err := hex.DecodeString(fields[2])
	if err != nil {
		return nil, 0, err
	}
	sf, err := mp.Parse(data)
	if err != nil {
		return nil, 0, err
	}
	return sf, int(arb >> 8 & 0x7f), nil
}
