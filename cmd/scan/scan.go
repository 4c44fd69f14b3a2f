// Command scan probes an RS-485 bus for Quantum DPP gauges by issuing a
// pressure query to each address in a range and reporting which addresses
// answer. Useful when a gauge's address has been changed from the factory
// default and nobody wrote it down.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/vaclab-data/pressure.report/internal/quantum"
	"github.com/vaclab-data/pressure.report/internal/serialport"
)

var (
	portPath = flag.String("port", "", "Serial port to scan (interactive selection if empty)")
	baudRate = flag.Int("baud", 9600, "Baud rate")
	fromAddr = flag.Int("from", 1, "First address to probe")
	toAddr   = flag.Int("to", quantum.DefaultAddress, "Last address to probe")
	timeout  = flag.Duration("timeout", quantum.DefaultReadTimeout, "Per-address response timeout")
)

// gaugeHit is one address that answered a pressure query.
type gaugeHit struct {
	Address  int
	Pressure float64
	Unit     string
}

// readLine accumulates bytes until a newline arrives or the port's read
// timeout expires (signalled by a zero-byte read).
func readLine(port serialport.Porter) string {
	var sb strings.Builder
	buf := make([]byte, 1)

	for sb.Len() < 512 {
		n, err := port.Read(buf)
		if err != nil || n == 0 {
			break
		}
		if buf[0] == '\n' {
			break
		}
		sb.WriteByte(buf[0])
	}
	return sb.String()
}

// query sends one addressed command and returns the unwrapped response
// payload, or "" if the address stayed silent.
func query(port serialport.Porter, address int, payload string) string {
	if _, err := port.Write([]byte(quantum.Format(address, payload))); err != nil {
		return ""
	}
	return quantum.UnwrapResponse(readLine(port))
}

// probe checks a single address for a responding gauge. A gauge that answers
// the pressure query is also asked for its configured unit.
func probe(port serialport.Porter, address int) (gaugeHit, bool) {
	pressure, err := quantum.ParseAckFloat(query(port, address, "P?"))
	if err != nil {
		return gaugeHit{}, false
	}

	hit := gaugeHit{Address: address, Pressure: pressure}
	if unit, err := quantum.ParseAck(query(port, address, "U?P"), ""); err == nil {
		hit.Unit = unit
	}
	return hit, true
}

// scanBus probes every address in [from, to] and returns the ones that
// answered. progress is called before each probe; nil disables it.
func scanBus(port serialport.Porter, from, to int, progress func(address int)) []gaugeHit {
	var hits []gaugeHit
	for address := from; address <= to; address++ {
		if progress != nil {
			progress(address)
		}
		if hit, ok := probe(port, address); ok {
			hits = append(hits, hit)
		}
	}
	return hits
}

// choosePort prompts for a serial port when none was given on the command
// line.
func choosePort() (string, error) {
	ports, err := serialport.List()
	if err != nil {
		return "", fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("no serial ports found")
	}

	opts := make([]huh.Option[string], len(ports))
	for i, p := range ports {
		opts[i] = huh.NewOption(p, p)
	}

	var selected string
	err = huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Serial port to scan").
			Options(opts...).
			Value(&selected),
	)).Run()
	return selected, err
}

func main() {
	flag.Parse()

	if *fromAddr < 1 || *toAddr > 253 || *fromAddr > *toAddr {
		log.Fatalf("invalid address range %d..%d: addresses are 1..253", *fromAddr, *toAddr)
	}

	path := *portPath
	if path == "" {
		selected, err := choosePort()
		if err != nil {
			log.Fatalf("port selection failed: %v", err)
		}
		path = selected
	}

	factory := serialport.RealFactory{ReadTimeout: *timeout}
	port, err := factory.Open(path, serialport.Options{BaudRate: *baudRate})
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer port.Close()

	fmt.Printf("scanning %s addresses %d..%d at %d baud\n", path, *fromAddr, *toAddr, *baudRate)
	hits := scanBus(port, *fromAddr, *toAddr, func(address int) {
		fmt.Printf("\rprobing address %3d", address)
	})
	fmt.Println()

	if len(hits) == 0 {
		fmt.Println("no gauges found")
		return
	}
	for _, hit := range hits {
		fmt.Printf("address %3d: pressure %.4E %s\n", hit.Address, hit.Pressure, hit.Unit)
	}
}
