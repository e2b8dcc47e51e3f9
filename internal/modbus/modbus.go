package modbus

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/goburrow/modbus"
	"github.com/w1xm/detent_knob/internal/modbus/modbushttp"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// Address creates a Modbus TCP connection and takes precedence over Port
	Address string
	// URL reaches a drive attached to another host through modbushttp
	URL string
	// Timeout defaults to 1s
	Timeout time.Duration

	handler modbusHandler
	modbus.Client
}

func (c *Client) String() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Address != "" {
		return c.Address
	}
	return c.Port
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return time.Second
}

func (c *Client) Connect() error {
	if c.URL != "" {
		c.handler = modbushttp.NewClient(c.URL, c.SlaveId, c.timeout())
	} else if c.Address != "" {
		handler := modbus.NewTCPClientHandler(c.Address)
		handler.Timeout = c.timeout()
		handler.SlaveId = c.SlaveId
		c.handler = handler
	} else {
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = c.BaudRate
		if handler.BaudRate == 0 {
			handler.BaudRate = 19200
		}
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = c.timeout()
		handler.SlaveId = c.SlaveId
		c.handler = handler
	}
	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("opening %q: %w", c.String(), err)
	}
	log.Printf("opened %q", c.String())
	c.Client = modbus.NewClient(c.handler)
	return nil
}

func (c *Client) Close() error {
	if c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

// Float32sToBytes encodes each value as two big-endian registers, high word first.
func Float32sToBytes(vs ...float64) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)))
	}
	return out
}

// BytesToFloat32s decodes register pairs written by Float32sToBytes.
func BytesToFloat32s(bs []byte) ([]float64, error) {
	if len(bs)%4 != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of float32 register pairs", len(bs))
	}
	out := make([]float64, len(bs)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(bs[4*i:])))
	}
	return out, nil
}
