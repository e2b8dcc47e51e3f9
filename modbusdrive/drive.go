// Package modbusdrive drives a servo drive that exposes a position-mode
// command block over Modbus.
//
// The register map below is not that of any commercial drive. It is a
// reference layout for custom drive firmware that mirrors the moteus
// position command; a vendor drive needs its own register table translated
// onto it, e.g. behind modbus_bridge.
//
// Holding registers:
//
//	0       mode (0 stopped, 10 position)
//	1-2     position
//	3-4     stop position
//	5-6     velocity
//	7-8     max torque
//	9-10    feedforward torque
//	11-12   kp scale
//	13-14   kd scale
//
// Input registers:
//
//	0-1     position
//	2-3     velocity
//	4-5     torque
//
// Values are float32, high word first. NaN leaves a field unset.
package modbusdrive

import (
	"context"
	"fmt"
	"sync"

	"github.com/goburrow/modbus"
	"github.com/w1xm/detent_knob/actuator"
	mbutil "github.com/w1xm/detent_knob/internal/modbus"
)

const (
	RegMode    = 0
	RegCommand = 1
	commandLen = 14

	RegTelemetry = 0
	telemetryLen = 6
)

// Drive implements actuator.Actuator.
type Drive struct {
	mu     sync.Mutex
	client modbus.Client
}

func New(client modbus.Client) *Drive {
	return &Drive{client: client}
}

func (d *Drive) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.client.WriteSingleRegister(RegMode, uint16(actuator.ModeStopped)); err != nil {
		return fmt.Errorf("writing mode: %w", err)
	}
	return nil
}

func (d *Drive) SetPosition(ctx context.Context, cmd actuator.Command) (actuator.State, error) {
	if err := ctx.Err(); err != nil {
		return actuator.State{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	data := append([]byte{0, byte(actuator.ModePosition)}, mbutil.Float32sToBytes(
		cmd.Position,
		cmd.StopPosition,
		cmd.Velocity,
		cmd.MaxTorque,
		cmd.FeedforwardTorque,
		cmd.KpScale,
		cmd.KdScale,
	)...)
	if _, err := d.client.WriteMultipleRegisters(RegMode, 1+commandLen, data); err != nil {
		return actuator.State{}, fmt.Errorf("writing command: %w", err)
	}
	results, err := d.client.ReadInputRegisters(RegTelemetry, telemetryLen)
	if err != nil {
		return actuator.State{}, fmt.Errorf("reading telemetry: %w", err)
	}
	values, err := mbutil.BytesToFloat32s(results)
	if err != nil {
		return actuator.State{}, err
	}
	if len(values) != telemetryLen/2 {
		return actuator.State{}, fmt.Errorf("short telemetry: got %d values", len(values))
	}
	return actuator.State{
		Mode:     actuator.ModePosition,
		Position: values[0],
		Velocity: values[1],
		Torque:   values[2],
	}, nil
}
