package sysinfo

import (
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// Info is a best-effort description of the host running the daemon. Fields
// that cannot be read are left empty.
type Info struct {
	Hostname    string        `json:"hostname" yaml:"hostname"`
	OS          string        `json:"os" yaml:"os"`
	Platform    string        `json:"platform" yaml:"platform"`
	Kernel      string        `json:"kernel" yaml:"kernel"`
	Arch        string        `json:"arch" yaml:"arch"`
	Uptime      time.Duration `json:"uptime" yaml:"uptime"`
	CPUModel    string        `json:"cpu_model,omitempty" yaml:"cpu_model,omitempty"`
	CPUCores    int           `json:"cpu_cores" yaml:"cpu_cores"`
	TotalMemory uint64        `json:"total_memory" yaml:"total_memory"`
	UsedMemory  uint64        `json:"used_memory" yaml:"used_memory"`
	MACAddress  string        `json:"mac_address,omitempty" yaml:"mac_address,omitempty"`
	IPAddress   string        `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	GoVersion   string        `json:"go_version" yaml:"go_version"`
}

// Collect gathers host, CPU, memory and network information.
func Collect() Info {
	info := Info{GoVersion: runtime.Version(), Arch: runtime.GOARCH}

	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
		info.Kernel = h.KernelVersion
		if h.KernelArch != "" {
			info.Arch = h.KernelArch
		}
		info.Uptime = time.Duration(h.Uptime) * time.Second
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if n, err := cpu.Counts(true); err == nil {
		info.CPUCores = n
	}

	if m, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = m.Total
		info.UsedMemory = m.Used
	}

	info.MACAddress, info.IPAddress = primaryInterface()
	return info
}

// primaryInterface returns the MAC and IPv4 address of the first
// non-loopback interface that has both.
func primaryInterface() (mac, ip string) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", ""
	}
	for _, iface := range ifaces {
		if isLoopback(iface.Flags) || iface.HardwareAddr == "" {
			continue
		}
		for _, addr := range iface.Addrs {
			if strings.Contains(addr.Addr, ".") {
				return iface.HardwareAddr, strings.Split(addr.Addr, "/")[0]
			}
		}
		if mac == "" {
			mac = iface.HardwareAddr
		}
	}
	return mac, ""
}

func isLoopback(flags []string) bool {
	for _, f := range flags {
		if f == "loopback" {
			return true
		}
	}
	return false
}
