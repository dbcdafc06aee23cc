package models

import (
	"encoding/json"
	"time"
)

// Sample is one observation of a subject's metrics, stamped on receipt.
type Sample struct {
	Timestamp time.Time          `json:"timestamp"`
	Subject   string             `json:"subject"`
	Port      string             `json:"port,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Metric returns the named metric and whether the sample carries it.
func (s Sample) Metric(name string) (float64, bool) {
	v, ok := s.Metrics[name]
	return v, ok
}

// PortKey identifies one port of one device.
type PortKey struct {
	IP   string `json:"ip_address"`
	Port string `json:"port"`
}

func (k PortKey) String() string {
	return k.IP + "/" + k.Port
}

// Device is a managed switch, access point or server as listed by the control center.
type Device struct {
	Name            string `json:"name"`
	DeviceType      string `json:"device_type"`
	OSType          string `json:"os_type"`
	LanIPAddress    string `json:"lan_ip_address"`
	NumPorts        int    `json:"ports"`
	OVSEnabled      bool   `json:"ovs_enabled"`
	OVSVersion      string `json:"ovs_version,omitempty"`
	OpenFlowVersion string `json:"openflow_version,omitempty"`
}

// Bridge is an OVS bridge configured on a device.
type Bridge struct {
	Name       string `json:"name"`
	DPID       string `json:"dpid"`
	Controller any    `json:"controller,omitempty"`
	Ports      []Port `json:"ports"`
}

// Port is a device interface, optionally attached to a bridge.
type Port struct {
	Name string `json:"name"`
}

// UnmarshalJSON accepts both `"eth0"` and `{"name": "eth0"}`; the backend
// serializes bridge ports as bare names and device ports as objects.
func (p *Port) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		p.Name = name
		return nil
	}

	type plain Port
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = Port(obj)
	return nil
}

// DeviceDetails combines a device with its bridges and ports.
type DeviceDetails struct {
	Device  Device   `json:"device"`
	Bridges []Bridge `json:"bridges"`
	Ports   []Port   `json:"ports"`
}
