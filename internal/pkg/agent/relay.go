package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/anicoll/relay-bridge/internal/pkg/codec"
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// RelayDriver switches the physical relays. Indexes are 0-based.
type RelayDriver interface {
	Set(index int, on bool) error
	Read(count int) (string, error)
	Close() error
}

type memoryDriver struct {
	mu    sync.Mutex
	state []byte
}

// NewMemoryDriver keeps relay state in memory only.
func NewMemoryDriver(count int) *memoryDriver {
	return &memoryDriver{state: []byte(codec.Off(count))}
}

func (d *memoryDriver) Set(index int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.state) {
		return fmt.Errorf("%w: relay %d", codec.ErrIndexOutOfRange, index+1)
	}
	d.state[index] = '0'
	if on {
		d.state[index] = '1'
	}
	return nil
}

func (d *memoryDriver) Read(count int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if count > len(d.state) {
		return string(d.state) + codec.Off(count-len(d.state)), nil
	}
	return string(d.state[:count]), nil
}

func (d *memoryDriver) Close() error {
	return nil
}

type coilClient interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

type modbusDriver struct {
	handler *modbus.TCPClientHandler
	client  coilClient
	start   uint16
}

// NewModbusDriver drives relays wired to the coils of a Modbus TCP controller,
// relay 1 at startCoil.
func NewModbusDriver(addr string, slaveID byte, startCoil uint16) (*modbusDriver, error) {
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = 5 * time.Second
	handler.SlaveId = slaveID
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("connect modbus %s: %w", addr, err)
	}
	return &modbusDriver{
		handler: handler,
		client:  modbus.NewClient(handler),
		start:   startCoil,
	}, nil
}

func (d *modbusDriver) Set(index int, on bool) error {
	value := coilOff
	if on {
		value = coilOn
	}
	if _, err := d.client.WriteSingleCoil(d.start+uint16(index), value); err != nil {
		return fmt.Errorf("write coil %d: %w", d.start+uint16(index), err)
	}
	return nil
}

func (d *modbusDriver) Read(count int) (string, error) {
	results, err := d.client.ReadCoils(d.start, uint16(count))
	if err != nil {
		return "", fmt.Errorf("read %d coils from %d: %w", count, d.start, err)
	}
	var b strings.Builder
	for i := 0; i < count; i++ {
		if i/8 < len(results) && results[i/8]>>(i%8)&1 == 1 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String(), nil
}

func (d *modbusDriver) Close() error {
	if d.handler == nil {
		return nil
	}
	return d.handler.Close()
}
