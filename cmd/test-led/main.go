// Command test-led is a manual test for the RGB status LED.
// It cycles through the status colours, one per second.
//
// Usage:
//
//	go run ./cmd/test-led --red GPIO17 --green GPIO27 --blue GPIO22 [--anode]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/chaz8081/oximeter-bridge/internal/board"
	"github.com/chaz8081/oximeter-bridge/internal/indicator"
	"github.com/chaz8081/oximeter-bridge/internal/telemetry"
)

type step struct {
	name  string
	color indicator.Color
}

func main() {
	red := flag.String("red", "", "red channel pin (empty logs colours)")
	green := flag.String("green", "", "green channel pin")
	blue := flag.String("blue", "", "blue channel pin")
	anode := flag.Bool("anode", false, "LED is common anode")
	freq := flag.Int("freq", 1000, "PWM frequency in Hz")
	flag.Parse()

	var sink indicator.Sink = indicator.LogSink{}
	if *red != "" {
		if err := board.Init(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		led, err := board.LED(*red, *green, *blue, physic.Frequency(*freq)*physic.Hertz)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		led.CommonAnode = *anode
		defer led.Halt()
		sink = led
	}

	p := indicator.DefaultPalette()
	steps := []step{
		{"startup", p.Startup()},
		{"network error", p.NetworkError()},
		{"backend error", p.BackendError()},
		{"healthy", p.HealthColor(telemetry.Reading{PulseRate: 70, SpO2: 99, PerfusionTenths: 50})},
		{"fair", p.HealthColor(telemetry.Reading{PulseRate: 110, SpO2: 92, PerfusionTenths: 50})},
		{"poor", p.HealthColor(telemetry.Reading{PulseRate: 150, SpO2: 82, PerfusionTenths: 50})},
		{"critical", p.HealthColor(telemetry.Reading{PulseRate: 35, SpO2: 70, PerfusionTenths: 50})},
	}
	for _, tenths := range []uint8{10, 40, 70} {
		c, _ := p.PerfusionBlink(true, tenths)
		steps = append(steps, step{fmt.Sprintf("PI %d.%d", tenths/10, tenths%10), c})
	}
	steps = append(steps, step{"off", p.Neutral()})

	for _, s := range steps {
		fmt.Printf("%-14s %s\n", s.name, s.color)
		if err := sink.Show(s.color); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		time.Sleep(time.Second)
	}
	fmt.Println("\nDone!")
}
