package telemetry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Demo value ranges, as [min, min+span).
const (
	tempMin, tempSpan         = 20.0, 15.0
	humidityMin, humiditySpan = 40.0, 30.0
	soilMin, soilSpan         = 40.0, 30.0
)

// RandomSource invents plausible readings for demos.
type RandomSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func NewRandomSource(seed int64) *RandomSource {
	return &RandomSource{
		rnd: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

func (s *RandomSource) Sample(ctx context.Context, f Facility) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Reading{
		Temperature:  s.rnd.Float64()*tempSpan + tempMin,
		Humidity:     s.rnd.Float64()*humiditySpan + humidityMin,
		SoilMoisture: s.rnd.Float64()*soilSpan + soilMin,
		UpdatedAt:    s.now().UTC(),
	}
	return r.Rounded(), nil
}

// Sensor register layout, one Modbus unit per facility.
// Note: Modbus address = Register number - 1
const (
	RegTemperature  = 0 // 40001, S16, 0.1°C
	RegHumidity     = 1 // 40002, U16, 0.1%
	RegSoilMoisture = 2 // 40003, U16, 0.1%
	sensorRegCount  = 3
)

type registerReader interface {
	ReadHoldingRegisters(unitID uint8, address, quantity uint16) ([]uint16, error)
	Reconnect() error
}

// ModbusSource reads facility sensors through a Modbus TCP gateway.
type ModbusSource struct {
	client registerReader
	units  map[Facility]uint8
}

func NewModbusSource(client registerReader, units map[Facility]uint8) *ModbusSource {
	return &ModbusSource{client: client, units: units}
}

func (s *ModbusSource) Sample(ctx context.Context, f Facility) (Reading, error) {
	unit, ok := s.units[f]
	if !ok {
		return Reading{}, fmt.Errorf("no modbus unit configured for %s", f)
	}

	regs, err := s.client.ReadHoldingRegisters(unit, RegTemperature, sensorRegCount)
	if err != nil {
		if reconnErr := s.client.Reconnect(); reconnErr != nil {
			return Reading{}, fmt.Errorf("failed to reconnect after %v: %w", err, reconnErr)
		}
		regs, err = s.client.ReadHoldingRegisters(unit, RegTemperature, sensorRegCount)
		if err != nil {
			return Reading{}, fmt.Errorf("failed to read %s sensor: %w", f, err)
		}
	}
	if len(regs) < sensorRegCount {
		return Reading{}, fmt.Errorf("short read from %s sensor: %d registers", f, len(regs))
	}

	r := Reading{
		Temperature:  float64(int16(regs[RegTemperature])) * 0.1,
		Humidity:     float64(regs[RegHumidity]) * 0.1,
		SoilMoisture: float64(regs[RegSoilMoisture]) * 0.1,
		UpdatedAt:    time.Now().UTC(),
	}
	return r.Rounded(), nil
}

var (
	_ Source = (*RandomSource)(nil)
	_ Source = (*ModbusSource)(nil)
)
