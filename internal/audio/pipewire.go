package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
)

// PipeWire manages PipeWire/JACK port queries
type PipeWire struct {
	// listOutputs returns the raw `pw-link -o` listing; swapped in tests.
	listOutputs func() ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{
		listOutputs: func() ([]byte, error) {
			return exec.Command("pw-link", "-o").Output()
		},
	}
}

// ListPorts returns all output ports of the graph. Capture devices expose their
// channels as output ports (e.g. "alsa_input.usb-Mic:capture_FL").
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.listOutputs()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	var ports []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}

	return ports, nil
}

// CaptureDevices groups capture ports by node name. Monitor ports of sinks and
// application outputs are not microphones and are skipped.
func (pw *PipeWire) CaptureDevices() ([]Device, error) {
	ports, err := pw.ListPorts()
	if err != nil {
		return nil, err
	}
	return captureDevicesFromPorts(ports), nil
}

func captureDevicesFromPorts(ports []string) []Device {
	seen := make(map[string]bool)
	var devices []Device

	for _, port := range ports {
		node, name, ok := splitPort(port)
		if !ok || !isCapturePort(name) || seen[node] {
			continue
		}
		seen[node] = true
		devices = append(devices, Device{
			ID:    node,
			Label: nodeLabel(node),
			Kind:  KindAudioInput,
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	if len(devices) > 0 {
		slog.Debug("PipeWire capture devices", "count", len(devices))
	}
	return devices
}

// splitPort splits "node:port" from the right, node names may contain colons.
func splitPort(port string) (node, name string, ok bool) {
	idx := strings.LastIndex(port, ":")
	if idx <= 0 || idx == len(port)-1 {
		return "", "", false
	}
	return strings.TrimSpace(port[:idx]), strings.TrimSpace(port[idx+1:]), true
}

func isCapturePort(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "capture") && !strings.HasPrefix(lower, "monitor")
}

// nodeLabel turns "alsa_input.usb-Blue_Yeti-00.analog-stereo" into "usb Blue Yeti 00 analog stereo".
func nodeLabel(node string) string {
	label := strings.TrimPrefix(node, "alsa_input.")
	label = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(label)
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return node
	}
	return label
}
