// Package sysinfo reports host facts for the statistics command.
package sysinfo

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Facts is a snapshot of the host.
type Facts struct {
	Hostname string
	// Uptime is the system uptime.
	Uptime   time.Duration
	FreeRAM  uint64
	FreeDisk uint64
}

// Provider returns host facts.
type Provider interface {
	Facts() (Facts, error)
}

// Host reads facts from the running system. DiskPath is the filesystem
// whose free space is reported.
type Host struct {
	DiskPath string
}

func (h Host) Facts() (Facts, error) {
	var f Facts
	name, err := os.Hostname()
	if err != nil {
		return f, fmt.Errorf("hostname: %w", err)
	}
	f.Hostname = name

	up, err := host.Uptime()
	if err != nil {
		return f, fmt.Errorf("uptime: %w", err)
	}
	f.Uptime = time.Duration(up) * time.Second

	vm, err := mem.VirtualMemory()
	if err != nil {
		return f, fmt.Errorf("memory: %w", err)
	}
	f.FreeRAM = vm.Free

	path := h.DiskPath
	if path == "" {
		path = "/"
	}
	du, err := disk.Usage(path)
	if err != nil {
		return f, fmt.Errorf("disk usage of %s: %w", path, err)
	}
	f.FreeDisk = du.Free
	return f, nil
}

// Static returns fixed facts.
type Static Facts

func (s Static) Facts() (Facts, error) { return Facts(s), nil }
